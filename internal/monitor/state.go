package monitor

import (
	"time"

	"cableguard/internal/models"
)

// sensorHistoryCap bounds the per-sensor recent reading history.
const sensorHistoryCap = 50

// sensorState is the mutable record the monitor keeps per observed sensor.
// All access goes through the monitor mutex.
type sensorState struct {
	lastSeen             *time.Time
	consecutiveAnomalies int
	recentReadings       []models.Reading
	status               models.SensorStatus
}

// stateStore maps sensor ids to their state. Entries are created lazily on
// first use; a missing entry is equivalent to StatusUnknown.
type stateStore struct {
	sensors map[string]*sensorState
}

func newStateStore() *stateStore {
	return &stateStore{sensors: make(map[string]*sensorState)}
}

// getOrCreate returns the state for sensorID, creating it if needed.
func (s *stateStore) getOrCreate(sensorID string) *sensorState {
	st, ok := s.sensors[sensorID]
	if !ok {
		st = &sensorState{
			recentReadings: make([]models.Reading, 0, sensorHistoryCap),
			status:         models.StatusUnknown,
		}
		s.sensors[sensorID] = st
	}
	return st
}

// recordReading updates last-seen, appends to the bounded history and marks
// the sensor active.
func (s *stateStore) recordReading(sensorID string, r models.Reading) {
	st := s.getOrCreate(sensorID)
	ts := r.Timestamp
	st.lastSeen = &ts
	if len(st.recentReadings) >= sensorHistoryCap {
		st.recentReadings = st.recentReadings[1:]
	}
	st.recentReadings = append(st.recentReadings, r)
	st.status = models.StatusActive
}

// recordAnomaly increments the consecutive-anomaly counter and returns the
// new count.
func (s *stateStore) recordAnomaly(sensorID string) int {
	st := s.getOrCreate(sensorID)
	st.consecutiveAnomalies++
	return st.consecutiveAnomalies
}

// recordNormal resets the consecutive-anomaly counter.
func (s *stateStore) recordNormal(sensorID string) {
	s.getOrCreate(sensorID).consecutiveAnomalies = 0
}

func (s *stateStore) countByStatus(status models.SensorStatus) int {
	n := 0
	for _, st := range s.sensors {
		if st.status == status {
			n++
		}
	}
	return n
}
