package monitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cableguard/internal/models"
)

// Network supplies one batch of sensor readings per tick.
type Network interface {
	SimulateStep() []models.Reading
}

// Classifier scores single readings. PredictSingle must not be called before
// IsReady reports true.
type Classifier interface {
	IsReady() bool
	PredictSingle(models.Reading) (isAnomaly bool, score float64, err error)
}

const (
	defaultInterval   = time.Second
	defaultBufferSize = 1000
	eventQueueSize    = 1000
	errorPause        = time.Second
	stopTimeout       = 5 * time.Second
)

// Options configures a Monitor. Zero values fall back to the defaults used
// by the original system.
type Options struct {
	Interval             time.Duration
	BufferSize           int
	ConsecutiveAnomalies int
	AnomalyRateThreshold float64
	SensorTimeout        time.Duration
	Logger               *zap.Logger
}

// Monitor is the real-time monitoring core: it ingests readings from the
// network each tick, tracks per-sensor state, escalates anomalies into
// alerts and exposes bounded views of recent history.
//
// The loop goroutine is the only writer of sensor state, the data buffer and
// the counters. Consumers read (or pop from the event queues) under the same
// mutex from any goroutine.
type Monitor struct {
	interval time.Duration
	rules    Rules
	log      *zap.Logger
	now      func() time.Time

	mu                sync.RWMutex
	running           bool
	startTime         time.Time
	lastReadingTime   time.Time
	totalReadings     int64
	anomaliesDetected int64
	alertsRaised      int64
	buffer            *readingBuffer
	sensors           *stateStore
	anomalyQ          *eventQueue[models.AnomalyEvent]
	alertQ            *eventQueue[models.Alert]
	stopCh            chan struct{}
	doneCh            chan struct{}

	callbacks callbackSet

	network    Network
	classifier Classifier
}

// New creates a stopped Monitor.
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.ConsecutiveAnomalies <= 0 {
		opts.ConsecutiveAnomalies = 3
	}
	if opts.AnomalyRateThreshold <= 0 {
		opts.AnomalyRateThreshold = 0.2
	}
	if opts.SensorTimeout <= 0 {
		opts.SensorTimeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Monitor{
		interval: opts.Interval,
		rules: Rules{
			ConsecutiveAnomalies: opts.ConsecutiveAnomalies,
			AnomalyRateThreshold: opts.AnomalyRateThreshold,
			SensorTimeout:        opts.SensorTimeout,
		},
		log:      opts.Logger,
		now:      time.Now,
		buffer:   newReadingBuffer(opts.BufferSize),
		sensors:  newStateStore(),
		anomalyQ: newEventQueue[models.AnomalyEvent](eventQueueSize),
		alertQ:   newEventQueue[models.Alert](eventQueueSize),
	}
}

// AddCallback registers a handler for one of the event types EventAnomaly,
// EventAlert or EventSensorFailure. An unknown event type or a handler with
// the wrong signature is rejected.
func (m *Monitor) AddCallback(eventType string, handler interface{}) error {
	if err := m.callbacks.add(eventType, handler); err != nil {
		return fmt.Errorf("add callback %q: %w", eventType, err)
	}
	return nil
}

// OnAnomaly registers an anomaly observer.
func (m *Monitor) OnAnomaly(fn AnomalyFunc) { m.callbacks.addAnomaly(fn) }

// OnAlert registers an alert observer.
func (m *Monitor) OnAlert(fn AlertFunc) { m.callbacks.addAlert(fn) }

// OnSensorFailure registers a sensor-failure observer.
func (m *Monitor) OnSensorFailure(fn FailureFunc) { m.callbacks.addFailure(fn) }

// Start begins monitoring the given collaborators. Starting an already
// running monitor is a warning no-op. With background true the loop runs in
// its own goroutine; otherwise Start blocks until Stop is called.
func (m *Monitor) Start(network Network, classifier Classifier, background bool) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warn("monitoring already in progress")
		return
	}
	m.network = network
	m.classifier = classifier
	m.running = true
	m.startTime = m.now()
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stopCh = stop
	m.doneCh = done
	m.mu.Unlock()

	m.log.Info("starting cable monitoring system")

	if background {
		go m.loop(stop, done)
	} else {
		m.loop(stop, done)
	}
}

// Stop signals the loop to exit and waits for it, bounded by stopTimeout.
// A tick in flight finishes before the loop observes the signal. Stopping a
// stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop := m.stopCh
	done := m.doneCh
	m.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(stopTimeout):
		m.log.Warn("monitoring loop did not exit within timeout")
	}

	m.log.Info("monitoring system stopped")
}

// IsMonitoring reports whether the loop is running.
func (m *Monitor) IsMonitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	m.log.Info("monitoring loop started")

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := m.tick(); err != nil {
			m.log.Error("error in monitoring loop", zap.Error(err))
			if !m.pause(stop, errorPause) {
				return
			}
			continue
		}

		if !m.pause(stop, m.interval) {
			return
		}
	}
}

// tick runs one ingest → timeout-check → alert-analysis cycle. A panic in
// any phase is converted to an error so a single bad tick never kills the
// loop.
func (m *Monitor) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()

	readings := m.network.SimulateStep()
	if len(readings) > 0 {
		m.processReadings(readings)
	}
	m.checkSensorTimeouts()
	m.analyzeAlerts()
	return nil
}

// pause sleeps for d unless stop fires first; it returns false when the
// loop should exit.
func (m *Monitor) pause(stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (m *Monitor) processReadings(readings []models.Reading) {
	for _, r := range readings {
		m.processSingleReading(r)
	}
}

func (m *Monitor) processSingleReading(r models.Reading) {
	if r.SensorID == "" {
		m.log.Warn("reading missing sensor_id, skipping", zap.String("cable_id", r.CableID))
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = m.now()
	}

	// Classify before storing so the copies kept in the buffer and in the
	// sensor history carry the detection result.
	classified := false
	if m.classifier != nil && m.classifier.IsReady() {
		isAnomaly, score, err := m.classifier.PredictSingle(r)
		if err != nil {
			m.log.Error("error detecting anomaly for reading",
				zap.String("sensor_id", r.SensorID), zap.Error(err))
			isAnomaly, score = false, 0.0
		}
		r.Classified = true
		r.AnomalyDetected = isAnomaly
		r.AnomalyScore = score
		classified = true
	}

	m.mu.Lock()
	m.totalReadings++
	m.lastReadingTime = r.Timestamp
	m.buffer.add(r)
	m.sensors.recordReading(r.SensorID, r)
	m.mu.Unlock()

	if !classified {
		return
	}
	if r.AnomalyDetected {
		m.handleAnomaly(r)
	} else {
		m.mu.Lock()
		m.sensors.recordNormal(r.SensorID)
		m.mu.Unlock()
	}
}

func (m *Monitor) handleAnomaly(r models.Reading) {
	m.mu.Lock()
	m.anomaliesDetected++
	count := m.sensors.recordAnomaly(r.SensorID)
	event := models.AnomalyEvent{
		Timestamp:        r.Timestamp,
		SensorID:         r.SensorID,
		Reading:          r,
		ConsecutiveCount: count,
	}
	m.anomalyQ.push(event)
	m.mu.Unlock()

	for _, fn := range m.callbacks.anomalyFuncs() {
		m.safely("anomaly callback", func() { fn(event) })
	}

	m.log.Warn("anomaly detected",
		zap.String("sensor_id", r.SensorID),
		zap.Float64("value", r.Value),
		zap.Float64("score", r.AnomalyScore))
}

// checkSensorTimeouts transitions silent sensors from active to timeout,
// once per occurrence, firing failure callbacks and a sensor_timeout alert.
func (m *Monitor) checkSensorTimeouts() {
	now := m.now()

	var events []models.TimeoutEvent
	m.mu.Lock()
	for sensorID, st := range m.sensors.sensors {
		if st.status != models.StatusActive || st.lastSeen == nil {
			continue
		}
		elapsed := now.Sub(*st.lastSeen)
		if elapsed > m.rules.SensorTimeout {
			st.status = models.StatusTimeout
			events = append(events, models.TimeoutEvent{
				Timestamp:      now,
				SensorID:       sensorID,
				TimeoutSeconds: elapsed.Seconds(),
				EventType:      "sensor_timeout",
			})
		}
	}
	m.mu.Unlock()

	for _, event := range events {
		for _, fn := range m.callbacks.failureFuncs() {
			m.safely("sensor failure callback", func() { fn(event) })
		}
		m.log.Error("sensor timeout",
			zap.String("sensor_id", event.SensorID),
			zap.Float64("timeout_seconds", event.TimeoutSeconds))

		m.raiseAlert(models.AlertSensorTimeout, map[string]interface{}{
			"sensor_id":        event.SensorID,
			"timeout_duration": event.TimeoutSeconds,
			"timestamp":        event.Timestamp,
		})
	}
}

// safely runs fn, turning a panic into an error log so one bad observer
// cannot break the others or the tick.
func (m *Monitor) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("error executing "+what, zap.Any("panic", r))
		}
	}()
	fn()
}

// GetMonitoringStats returns a point-in-time snapshot. Safe to call before
// Start; everything is zero then.
func (m *Monitor) GetMonitoringStats() models.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var uptime float64
	if !m.startTime.IsZero() {
		uptime = m.now().Sub(m.startTime).Seconds()
	}

	total := m.totalReadings
	if total < 1 {
		total = 1
	}

	return models.Stats{
		IsMonitoring:      m.running,
		UptimeSeconds:     uptime,
		TotalReadings:     m.totalReadings,
		AnomaliesDetected: m.anomaliesDetected,
		AlertsRaised:      m.alertsRaised,
		AnomalyRate:       float64(m.anomaliesDetected) / float64(total),
		ActiveSensors:     m.sensors.countByStatus(models.StatusActive),
		TimeoutSensors:    m.sensors.countByStatus(models.StatusTimeout),
		BufferUtilization: m.buffer.utilization(),
		LastReadingTime:   m.lastReadingTime,
	}
}

// GetRecentAnomalies removes and returns up to limit of the oldest queued
// anomaly events.
func (m *Monitor) GetRecentAnomalies(limit int) []models.AnomalyEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anomalyQ.drain(limit)
}

// GetRecentAlerts removes and returns up to limit of the oldest queued
// alerts.
func (m *Monitor) GetRecentAlerts(limit int) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alertQ.drain(limit)
}

// GetSensorSummary returns the per-sensor state view.
func (m *Monitor) GetSensorSummary() map[string]models.SensorSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := make(map[string]models.SensorSummary, len(m.sensors.sensors))
	for sensorID, st := range m.sensors.sensors {
		var lastSeen *time.Time
		if st.lastSeen != nil {
			ts := *st.lastSeen
			lastSeen = &ts
		}
		summary[sensorID] = models.SensorSummary{
			Status:               st.status,
			LastSeen:             lastSeen,
			ConsecutiveAnomalies: st.consecutiveAnomalies,
			RecentReadingCount:   len(st.recentReadings),
		}
	}
	return summary
}
