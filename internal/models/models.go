package models

import "time"

type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorPressure    SensorType = "pressure"
	SensorVibration   SensorType = "vibration"
	SensorElectrical  SensorType = "electrical"
)

// SensorStatus is the liveness state of a sensor as seen by the monitor.
type SensorStatus string

const (
	StatusUnknown SensorStatus = "unknown"
	StatusActive  SensorStatus = "active"
	StatusTimeout SensorStatus = "timeout"
	StatusFailed  SensorStatus = "failed"
)

type AlertType string

const (
	AlertConsecutiveAnomalies AlertType = "consecutive_anomalies"
	AlertHighAnomalyRate      AlertType = "high_anomaly_rate"
	AlertSensorTimeout        AlertType = "sensor_timeout"
	AlertCriticalSensor       AlertType = "critical_sensor_anomaly"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Reading is one timestamped measurement from one sensor.
type Reading struct {
	Timestamp  time.Time  `json:"timestamp"`
	CableID    string     `json:"cable_id"`
	SensorID   string     `json:"sensor_id"`
	SensorType SensorType `json:"sensor_type"`
	Value      float64    `json:"value"`
	PositionKM float64    `json:"position_km"`
	DepthM     float64    `json:"depth_m"`

	// Injected is the simulator's ground truth, carried for evaluation only.
	Injected bool `json:"is_anomaly,omitempty"`

	// Classified distinguishes a reading scored as normal from one that was
	// never passed through the classifier.
	Classified      bool    `json:"classified"`
	AnomalyDetected bool    `json:"is_anomaly_detected"`
	AnomalyScore    float64 `json:"anomaly_score"`
}

// AnomalyEvent is queued whenever a reading is classified anomalous.
type AnomalyEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	SensorID         string    `json:"sensor_id"`
	Reading          Reading   `json:"reading"`
	ConsecutiveCount int       `json:"consecutive_count"`
}

// TimeoutEvent is delivered to failure callbacks when a sensor goes silent.
type TimeoutEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	SensorID       string    `json:"sensor_id"`
	TimeoutSeconds float64   `json:"timeout_duration"`
	EventType      string    `json:"event_type"`
}

// Alert is raised by the rule engine and queued for consumers.
type Alert struct {
	AlertID     string                 `json:"alert_id"`
	AlertType   AlertType              `json:"alert_type"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Data        map[string]interface{} `json:"data"`
	Description string                 `json:"description"`
}

// Stats is a point-in-time view of the monitoring system.
type Stats struct {
	IsMonitoring      bool      `json:"is_monitoring"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	TotalReadings     int64     `json:"total_readings"`
	AnomaliesDetected int64     `json:"anomalies_detected"`
	AlertsRaised      int64     `json:"alerts_raised"`
	AnomalyRate       float64   `json:"anomaly_rate"`
	ActiveSensors     int       `json:"active_sensors"`
	TimeoutSensors    int       `json:"timeout_sensors"`
	BufferUtilization float64   `json:"buffer_utilization"`
	LastReadingTime   time.Time `json:"last_reading_time"`
}

// SensorSummary is the consumer-facing view of one sensor's state.
type SensorSummary struct {
	Status               SensorStatus `json:"status"`
	LastSeen             *time.Time   `json:"last_seen"`
	ConsecutiveAnomalies int          `json:"consecutive_anomalies"`
	RecentReadingCount   int          `json:"recent_reading_count"`
}

// Export is the serialized snapshot written by the export endpoint.
type Export struct {
	Stats           Stats                    `json:"stats"`
	SensorSummary   map[string]SensorSummary `json:"sensor_summary"`
	RecentData      []Reading                `json:"recent_data"`
	ExportTimestamp time.Time                `json:"export_timestamp"`
}
