package monitor

import (
	"errors"
	"sync"

	"cableguard/internal/models"
)

// Event types accepted by AddCallback.
const (
	EventAnomaly       = "on_anomaly"
	EventAlert         = "on_alert"
	EventSensorFailure = "on_sensor_failure"
)

var (
	// ErrUnknownEventType is returned when registering a callback for an
	// event type the monitor does not emit.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidHandler is returned when the handler signature does not
	// match the event type.
	ErrInvalidHandler = errors.New("handler does not match event type")
)

// AnomalyFunc receives every anomaly event, synchronously, in registration order.
type AnomalyFunc func(models.AnomalyEvent)

// AlertFunc receives every raised alert.
type AlertFunc func(models.Alert)

// FailureFunc receives sensor timeout events.
type FailureFunc func(models.TimeoutEvent)

// callbackSet holds registered observers. Registration may happen while the
// loop is running; invocation iterates over a copy taken under the lock so a
// late registration never corrupts an in-flight tick.
type callbackSet struct {
	mu        sync.Mutex
	onAnomaly []AnomalyFunc
	onAlert   []AlertFunc
	onFailure []FailureFunc
}

func (c *callbackSet) add(eventType string, handler interface{}) error {
	switch eventType {
	case EventAnomaly:
		fn, ok := handler.(AnomalyFunc)
		if !ok {
			if f, ok2 := handler.(func(models.AnomalyEvent)); ok2 {
				fn = f
			} else {
				return ErrInvalidHandler
			}
		}
		c.addAnomaly(fn)
	case EventAlert:
		fn, ok := handler.(AlertFunc)
		if !ok {
			if f, ok2 := handler.(func(models.Alert)); ok2 {
				fn = f
			} else {
				return ErrInvalidHandler
			}
		}
		c.addAlert(fn)
	case EventSensorFailure:
		fn, ok := handler.(FailureFunc)
		if !ok {
			if f, ok2 := handler.(func(models.TimeoutEvent)); ok2 {
				fn = f
			} else {
				return ErrInvalidHandler
			}
		}
		c.addFailure(fn)
	default:
		return ErrUnknownEventType
	}
	return nil
}

func (c *callbackSet) addAnomaly(fn AnomalyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAnomaly = append(c.onAnomaly, fn)
}

func (c *callbackSet) addAlert(fn AlertFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAlert = append(c.onAlert, fn)
}

func (c *callbackSet) addFailure(fn FailureFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = append(c.onFailure, fn)
}

func (c *callbackSet) anomalyFuncs() []AnomalyFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AnomalyFunc, len(c.onAnomaly))
	copy(out, c.onAnomaly)
	return out
}

func (c *callbackSet) alertFuncs() []AlertFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AlertFunc, len(c.onAlert))
	copy(out, c.onAlert)
	return out
}

func (c *callbackSet) failureFuncs() []FailureFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FailureFunc, len(c.onFailure))
	copy(out, c.onFailure)
	return out
}
