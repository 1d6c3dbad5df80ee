package monitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cableguard/internal/models"
)

// rateWindow is the number of trailing buffered readings the anomaly-rate
// rule is computed over. The rule is skipped until the buffer holds at least
// this many readings.
const rateWindow = 100

// Rules holds the alert thresholds evaluated each tick.
type Rules struct {
	// ConsecutiveAnomalies is the per-sensor streak that raises an alert.
	ConsecutiveAnomalies int
	// AnomalyRateThreshold is the anomaly fraction over the trailing window
	// above which a high-rate alert fires.
	AnomalyRateThreshold float64
	// SensorTimeout is how long a sensor may go silent before it is
	// considered timed out.
	SensorTimeout time.Duration
}

var severityMap = map[models.AlertType]models.Severity{
	models.AlertConsecutiveAnomalies: models.SeverityHigh,
	models.AlertHighAnomalyRate:      models.SeverityMedium,
	models.AlertSensorTimeout:        models.SeverityHigh,
	models.AlertCriticalSensor:       models.SeverityCritical,
}

func severityFor(t models.AlertType) models.Severity {
	if s, ok := severityMap[t]; ok {
		return s
	}
	return models.SeverityMedium
}

func describeAlert(t models.AlertType, data map[string]interface{}) string {
	switch t {
	case models.AlertConsecutiveAnomalies:
		return fmt.Sprintf("Sensor %v has %v consecutive anomalies", data["sensor_id"], data["count"])
	case models.AlertHighAnomalyRate:
		rate, _ := data["rate"].(float64)
		threshold, _ := data["threshold"].(float64)
		return fmt.Sprintf("High anomaly rate detected: %.1f%% (threshold: %.1f%%)", rate*100, threshold*100)
	case models.AlertSensorTimeout:
		duration, _ := data["timeout_duration"].(float64)
		return fmt.Sprintf("Sensor %v timeout for %.0f seconds", data["sensor_id"], duration)
	default:
		return fmt.Sprintf("Alert type: %s", t)
	}
}

// analyzeAlerts evaluates the alert rules against current state. A condition
// that persists re-fires its alert every tick; deduplication is left to
// consumers.
func (m *Monitor) analyzeAlerts() {
	type pending struct {
		alertType models.AlertType
		data      map[string]interface{}
	}
	now := m.now()
	var fired []pending

	m.mu.RLock()
	for sensorID, st := range m.sensors.sensors {
		if m.rules.ConsecutiveAnomalies > 0 && st.consecutiveAnomalies >= m.rules.ConsecutiveAnomalies {
			fired = append(fired, pending{models.AlertConsecutiveAnomalies, map[string]interface{}{
				"sensor_id": sensorID,
				"count":     st.consecutiveAnomalies,
				"timestamp": now,
			}})
		}
	}
	if m.buffer.len() >= rateWindow {
		recent := m.buffer.last(rateWindow)
		anomalies := 0
		for _, r := range recent {
			if r.AnomalyDetected {
				anomalies++
			}
		}
		rate := float64(anomalies) / float64(len(recent))
		if rate > m.rules.AnomalyRateThreshold {
			fired = append(fired, pending{models.AlertHighAnomalyRate, map[string]interface{}{
				"rate":      rate,
				"threshold": m.rules.AnomalyRateThreshold,
				"timestamp": now,
			}})
		}
	}
	m.mu.RUnlock()

	for _, p := range fired {
		m.raiseAlert(p.alertType, p.data)
	}
}

// raiseAlert builds the alert, queues it and notifies alert callbacks.
func (m *Monitor) raiseAlert(t models.AlertType, data map[string]interface{}) {
	alert := models.Alert{
		AlertID:     "alert-" + uuid.NewString(),
		AlertType:   t,
		Timestamp:   m.now(),
		Severity:    severityFor(t),
		Data:        data,
		Description: describeAlert(t, data),
	}

	m.mu.Lock()
	m.alertsRaised++
	m.alertQ.push(alert)
	m.mu.Unlock()

	for _, fn := range m.callbacks.alertFuncs() {
		m.safely("alert callback", func() { fn(alert) })
	}

	m.log.Error("alert raised",
		zap.String("alert_id", alert.AlertID),
		zap.String("alert_type", string(alert.AlertType)),
		zap.String("severity", string(alert.Severity)),
		zap.String("description", alert.Description))
}
