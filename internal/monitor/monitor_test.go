package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cableguard/internal/models"
)

// fakeNetwork replays scripted batches, then empty batches.
type fakeNetwork struct {
	batches [][]models.Reading
	calls   int
}

func (f *fakeNetwork) SimulateStep() []models.Reading {
	if f.calls < len(f.batches) {
		b := f.batches[f.calls]
		f.calls++
		return b
	}
	f.calls++
	return nil
}

type panickyNetwork struct{}

func (panickyNetwork) SimulateStep() []models.Reading { panic("sensor bus down") }

// fakeClassifier flags readings according to decide.
type fakeClassifier struct {
	ready  bool
	decide func(models.Reading) (bool, float64, error)
}

func (f *fakeClassifier) IsReady() bool { return f.ready }

func (f *fakeClassifier) PredictSingle(r models.Reading) (bool, float64, error) {
	if f.decide == nil {
		return false, 0, nil
	}
	return f.decide(r)
}

func alwaysAnomalous(models.Reading) (bool, float64, error) { return true, 3.5, nil }

func neverAnomalous(models.Reading) (bool, float64, error) { return false, 0.1, nil }

func reading(sensorID string, value float64) models.Reading {
	return models.Reading{
		Timestamp:  time.Now(),
		CableID:    "cable_0",
		SensorID:   sensorID,
		SensorType: models.SensorTemperature,
		Value:      value,
	}
}

func newTestMonitor(t *testing.T, opts Options) *Monitor {
	t.Helper()
	m := New(opts)
	m.classifier = &fakeClassifier{ready: true, decide: neverAnomalous}
	return m
}

func TestIngestionCountsOnlyValidReadings(t *testing.T) {
	m := newTestMonitor(t, Options{})

	m.processReadings([]models.Reading{
		reading("sensor_0_0", 4.1),
		reading("sensor_0_1", 4.2),
		{Timestamp: time.Now(), Value: 1.0}, // missing sensor_id, dropped
		reading("sensor_0_2", 4.3),
	})

	stats := m.GetMonitoringStats()
	assert.Equal(t, int64(3), stats.TotalReadings)
	assert.Equal(t, 3, stats.ActiveSensors)
}

func TestSensorStateUpdatedOnReading(t *testing.T) {
	m := newTestMonitor(t, Options{})

	m.processSingleReading(reading("sensor_1_0", 4.0))

	summary := m.GetSensorSummary()
	require.Contains(t, summary, "sensor_1_0")
	s := summary["sensor_1_0"]
	assert.Equal(t, models.StatusActive, s.Status)
	require.NotNil(t, s.LastSeen)
	assert.Equal(t, 1, s.RecentReadingCount)
	assert.Equal(t, 0, s.ConsecutiveAnomalies)
}

func TestConsecutiveAnomaliesRaisesHighAlert(t *testing.T) {
	m := newTestMonitor(t, Options{ConsecutiveAnomalies: 3})
	m.classifier = &fakeClassifier{ready: true, decide: alwaysAnomalous}

	for i := 0; i < 3; i++ {
		m.processSingleReading(reading("sensor_7", 30.0))
	}

	assert.Equal(t, 3, m.GetSensorSummary()["sensor_7"].ConsecutiveAnomalies)

	m.analyzeAlerts()

	alerts := m.GetRecentAlerts(10)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertConsecutiveAnomalies, alerts[0].AlertType)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Contains(t, alerts[0].Description, "sensor_7")
	assert.Contains(t, alerts[0].Description, "3 consecutive anomalies")
}

func TestPersistingConditionRefiresEveryTick(t *testing.T) {
	m := newTestMonitor(t, Options{ConsecutiveAnomalies: 3})
	m.classifier = &fakeClassifier{ready: true, decide: alwaysAnomalous}

	for i := 0; i < 3; i++ {
		m.processSingleReading(reading("sensor_7", 30.0))
	}

	m.analyzeAlerts()
	m.analyzeAlerts()

	assert.Len(t, m.GetRecentAlerts(10), 2)
}

func TestNormalReadingResetsConsecutiveCounter(t *testing.T) {
	m := newTestMonitor(t, Options{})
	anomalous := true
	m.classifier = &fakeClassifier{ready: true, decide: func(models.Reading) (bool, float64, error) {
		return anomalous, 2.5, nil
	}}

	m.processSingleReading(reading("sensor_2", 30.0))
	m.processSingleReading(reading("sensor_2", 31.0))
	assert.Equal(t, 2, m.GetSensorSummary()["sensor_2"].ConsecutiveAnomalies)

	anomalous = false
	m.processSingleReading(reading("sensor_2", 4.0))
	assert.Equal(t, 0, m.GetSensorSummary()["sensor_2"].ConsecutiveAnomalies)
}

func TestBufferRingSemantics(t *testing.T) {
	m := newTestMonitor(t, Options{BufferSize: 10})

	for i := 0; i < 4; i++ {
		m.processSingleReading(reading("sensor_0_0", float64(i)))
	}
	assert.InDelta(t, 0.4, m.GetMonitoringStats().BufferUtilization, 1e-9)

	for i := 4; i < 25; i++ {
		m.processSingleReading(reading("sensor_0_0", float64(i)))
	}

	stats := m.GetMonitoringStats()
	assert.Equal(t, int64(25), stats.TotalReadings)
	assert.InDelta(t, 1.0, stats.BufferUtilization, 1e-9)

	m.mu.RLock()
	recent := m.buffer.last(10)
	m.mu.RUnlock()
	require.Len(t, recent, 10)
	for i, r := range recent {
		assert.Equal(t, float64(15+i), r.Value, "buffer must hold the most recent readings in insertion order")
	}
}

func TestHighAnomalyRateAlert(t *testing.T) {
	m := newTestMonitor(t, Options{AnomalyRateThreshold: 0.2})
	m.classifier = &fakeClassifier{ready: true, decide: func(r models.Reading) (bool, float64, error) {
		return r.Value > 100, 2.0, nil
	}}

	// 75 normal + 25 anomalous in the trailing window of 100.
	for i := 0; i < 75; i++ {
		m.processSingleReading(reading("sensor_a", 4.0))
	}
	for i := 0; i < 25; i++ {
		m.processSingleReading(reading("sensor_b", 200.0))
	}

	m.analyzeAlerts()

	var rateAlert *models.Alert
	for _, a := range m.GetRecentAlerts(100) {
		if a.AlertType == models.AlertHighAnomalyRate {
			a := a
			rateAlert = &a
		}
	}
	require.NotNil(t, rateAlert, "expected a high_anomaly_rate alert")
	assert.Equal(t, models.SeverityMedium, rateAlert.Severity)
	assert.InDelta(t, 0.25, rateAlert.Data["rate"], 1e-9)
}

func TestAnomalyRateRuleNeedsFullWindow(t *testing.T) {
	m := newTestMonitor(t, Options{AnomalyRateThreshold: 0.2})
	m.classifier = &fakeClassifier{ready: true, decide: alwaysAnomalous}

	// 99 anomalous readings: under the 100-reading minimum, no rate alert.
	for i := 0; i < 99; i++ {
		m.processSingleReading(reading("sensor_x", 30.0))
	}
	m.analyzeAlerts()

	for _, a := range m.GetRecentAlerts(1000) {
		assert.NotEqual(t, models.AlertHighAnomalyRate, a.AlertType)
	}
}

func TestSensorTimeoutFiresOnce(t *testing.T) {
	m := newTestMonitor(t, Options{SensorTimeout: 5 * time.Minute})

	base := time.Now()
	m.now = func() time.Time { return base }
	m.processSingleReading(reading("sensor_3", 4.0))

	var failures []models.TimeoutEvent
	m.OnSensorFailure(func(e models.TimeoutEvent) { failures = append(failures, e) })

	// Within the window: nothing happens.
	m.now = func() time.Time { return base.Add(4 * time.Minute) }
	m.checkSensorTimeouts()
	assert.Empty(t, failures)
	assert.Equal(t, models.StatusActive, m.GetSensorSummary()["sensor_3"].Status)

	// Past the window: exactly one transition, one event, one alert.
	m.now = func() time.Time { return base.Add(6 * time.Minute) }
	m.checkSensorTimeouts()
	m.checkSensorTimeouts()

	require.Len(t, failures, 1)
	assert.Equal(t, "sensor_3", failures[0].SensorID)
	assert.Equal(t, "sensor_timeout", failures[0].EventType)
	assert.InDelta(t, 360, failures[0].TimeoutSeconds, 1)

	assert.Equal(t, models.StatusTimeout, m.GetSensorSummary()["sensor_3"].Status)
	assert.Equal(t, 1, m.GetMonitoringStats().TimeoutSensors)

	alerts := m.GetRecentAlerts(10)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertSensorTimeout, alerts[0].AlertType)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
}

func TestTimedOutSensorRecoversOnNewReading(t *testing.T) {
	m := newTestMonitor(t, Options{SensorTimeout: time.Minute})

	base := time.Now()
	m.now = func() time.Time { return base }
	m.processSingleReading(reading("sensor_9", 4.0))

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	m.checkSensorTimeouts()
	assert.Equal(t, models.StatusTimeout, m.GetSensorSummary()["sensor_9"].Status)

	m.processSingleReading(reading("sensor_9", 4.1))
	assert.Equal(t, models.StatusActive, m.GetSensorSummary()["sensor_9"].Status)
}

func TestStatsBeforeStart(t *testing.T) {
	m := New(Options{})

	stats := m.GetMonitoringStats()
	assert.False(t, stats.IsMonitoring)
	assert.Zero(t, stats.UptimeSeconds)
	assert.Zero(t, stats.TotalReadings)
	assert.Zero(t, stats.AnomalyRate, "zero readings must not divide by zero")
	assert.Zero(t, stats.BufferUtilization)
	assert.True(t, stats.LastReadingTime.IsZero())
}

func TestAnomalyRateComputation(t *testing.T) {
	m := newTestMonitor(t, Options{})
	calls := 0
	m.classifier = &fakeClassifier{ready: true, decide: func(models.Reading) (bool, float64, error) {
		calls++
		return calls%2 == 0, 1.0, nil
	}}

	for i := 0; i < 10; i++ {
		m.processSingleReading(reading("sensor_r", float64(i)))
	}

	stats := m.GetMonitoringStats()
	assert.Equal(t, int64(10), stats.TotalReadings)
	assert.Equal(t, int64(5), stats.AnomaliesDetected)
	assert.InDelta(t, 0.5, stats.AnomalyRate, 1e-9)
}

func TestStartStopImmediately(t *testing.T) {
	m := New(Options{Interval: time.Hour})

	m.Start(&fakeNetwork{}, &fakeClassifier{}, true)
	assert.True(t, m.IsMonitoring())

	m.Stop()
	assert.False(t, m.IsMonitoring())

	stats := m.GetMonitoringStats()
	assert.Zero(t, stats.TotalReadings)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)

	// Idempotent stop.
	m.Stop()
	assert.False(t, m.IsMonitoring())
}

func TestDoubleStartIsNoOp(t *testing.T) {
	m := New(Options{Interval: time.Hour})
	net := &fakeNetwork{}

	m.Start(net, &fakeClassifier{}, true)
	defer m.Stop()

	m.Start(net, &fakeClassifier{}, true)
	assert.True(t, m.IsMonitoring())
}

func TestLoopProcessesReadingsInBackground(t *testing.T) {
	m := New(Options{Interval: 5 * time.Millisecond})
	net := &fakeNetwork{batches: [][]models.Reading{
		{reading("sensor_0_0", 4.0), reading("sensor_0_1", 4.1)},
		{reading("sensor_0_0", 4.2)},
	}}

	m.Start(net, &fakeClassifier{ready: true, decide: neverAnomalous}, true)
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.GetMonitoringStats().TotalReadings == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTickSurvivesNetworkPanic(t *testing.T) {
	m := New(Options{})
	m.network = panickyNetwork{}

	err := m.tick()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensor bus down")
}

func TestClassifierErrorDegradesToNormal(t *testing.T) {
	m := newTestMonitor(t, Options{})
	m.classifier = &fakeClassifier{ready: true, decide: func(models.Reading) (bool, float64, error) {
		return true, 9.9, assert.AnError
	}}

	m.processSingleReading(reading("sensor_e", 4.0))

	stats := m.GetMonitoringStats()
	assert.Equal(t, int64(1), stats.TotalReadings)
	assert.Zero(t, stats.AnomaliesDetected)
	assert.Equal(t, 0, m.GetSensorSummary()["sensor_e"].ConsecutiveAnomalies)
}

func TestClassifierNotReadyIsSkipped(t *testing.T) {
	m := newTestMonitor(t, Options{})
	m.classifier = &fakeClassifier{ready: false, decide: alwaysAnomalous}

	m.processSingleReading(reading("sensor_n", 4.0))

	stats := m.GetMonitoringStats()
	assert.Equal(t, int64(1), stats.TotalReadings)
	assert.Zero(t, stats.AnomaliesDetected)
}

func TestAnomalyQueueDrainsOldestFirst(t *testing.T) {
	m := newTestMonitor(t, Options{})
	m.classifier = &fakeClassifier{ready: true, decide: alwaysAnomalous}

	for i := 0; i < 5; i++ {
		m.processSingleReading(reading("sensor_q", float64(i)))
	}

	first := m.GetRecentAnomalies(2)
	require.Len(t, first, 2)
	assert.Equal(t, 1, first[0].ConsecutiveCount)
	assert.Equal(t, 2, first[1].ConsecutiveCount)

	rest := m.GetRecentAnomalies(10)
	require.Len(t, rest, 3)
	assert.Equal(t, 3, rest[0].ConsecutiveCount)

	assert.Empty(t, m.GetRecentAnomalies(10))
}

func TestCallbackRegistrationValidation(t *testing.T) {
	m := New(Options{})

	err := m.AddCallback("on_fire", func(models.Alert) {})
	require.ErrorIs(t, err, ErrUnknownEventType)

	err = m.AddCallback(EventAnomaly, func(models.Alert) {})
	require.ErrorIs(t, err, ErrInvalidHandler)

	require.NoError(t, m.AddCallback(EventAnomaly, func(models.AnomalyEvent) {}))
	require.NoError(t, m.AddCallback(EventAlert, func(models.Alert) {}))
	require.NoError(t, m.AddCallback(EventSensorFailure, func(models.TimeoutEvent) {}))
}

func TestCallbacksRunInOrderAndSurvivePanic(t *testing.T) {
	m := newTestMonitor(t, Options{})
	m.classifier = &fakeClassifier{ready: true, decide: alwaysAnomalous}

	var order []string
	m.OnAnomaly(func(models.AnomalyEvent) {
		order = append(order, "first")
		panic("observer bug")
	})
	m.OnAnomaly(func(models.AnomalyEvent) { order = append(order, "second") })

	m.processSingleReading(reading("sensor_c", 30.0))

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, int64(1), m.GetMonitoringStats().AnomaliesDetected, "a panicking callback must not abort the pipeline")
}

func TestAlertCallbackReceivesAlert(t *testing.T) {
	m := newTestMonitor(t, Options{ConsecutiveAnomalies: 1})
	m.classifier = &fakeClassifier{ready: true, decide: alwaysAnomalous}

	var got []models.Alert
	m.OnAlert(func(a models.Alert) { got = append(got, a) })

	m.processSingleReading(reading("sensor_cb", 30.0))
	m.analyzeAlerts()

	require.Len(t, got, 1)
	assert.Equal(t, models.AlertConsecutiveAnomalies, got[0].AlertType)
	assert.NotEmpty(t, got[0].AlertID)
}
