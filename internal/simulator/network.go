package simulator

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"cableguard/internal/models"
)

// FaultKind selects what IntroduceFault breaks.
type FaultKind string

const (
	FaultSensorFailure FaultKind = "sensor_failure"
	FaultCableDamage   FaultKind = "cable_damage"
)

var (
	ErrCableNotFound    = errors.New("cable not found")
	ErrUnknownFaultKind = errors.New("unknown fault kind")
)

type sensor struct {
	id          string
	positionKM  float64
	sensorType  models.SensorType
	status      models.SensorStatus
	lastReading time.Time
}

type cable struct {
	id            string
	lengthKM      float64
	depthM        float64
	voltageRating float64
	status        string
	installed     time.Time
	sensors       []*sensor
}

// CableInfo is the read-only view of one cable.
type CableInfo struct {
	ID            string    `json:"id"`
	LengthKM      float64   `json:"length_km"`
	DepthM        float64   `json:"depth_m"`
	VoltageRating float64   `json:"voltage_rating"`
	Status        string    `json:"status"`
	TotalSensors  int       `json:"total_sensors"`
	ActiveSensors int       `json:"active_sensors"`
	Installed     time.Time `json:"installation_date"`
}

// Status summarizes the whole network.
type Status struct {
	TotalCables    int       `json:"total_cables"`
	TotalSensors   int       `json:"total_sensors"`
	ActiveSensors  int       `json:"active_sensors"`
	SimulationTime time.Time `json:"simulation_time"`
	NetworkHealth  float64   `json:"network_health"`
}

// Network simulates an underwater cable field and produces synthetic sensor
// readings with injected anomalies. Simulated time advances one minute per
// step regardless of wall-clock tick rate.
type Network struct {
	mu          sync.Mutex
	cables      []*cable
	simTime     time.Time
	anomalyProb float64
	rng         *rand.Rand
	log         *zap.Logger
}

var sensorTypes = []models.SensorType{
	models.SensorTemperature,
	models.SensorPressure,
	models.SensorVibration,
	models.SensorElectrical,
}

// New builds a network of numCables cables with sensorsPerCable sensors
// each. anomalyProb is the per-reading probability of an injected anomaly.
func New(numCables, sensorsPerCable int, anomalyProb float64, logger *zap.Logger) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Network{
		simTime:     time.Now(),
		anomalyProb: anomalyProb,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		log:         logger,
	}

	voltages := []float64{220, 400, 500}
	for c := 0; c < numCables; c++ {
		length := 100 + n.rng.Float64()*1900
		cb := &cable{
			id:            fmt.Sprintf("cable_%d", c),
			lengthKM:      length,
			depthM:        1000 + n.rng.Float64()*5000,
			voltageRating: voltages[n.rng.Intn(len(voltages))] * 1000,
			status:        "operational",
			installed:     time.Now().AddDate(0, 0, -(30 + n.rng.Intn(970))),
		}
		for s := 0; s < sensorsPerCable; s++ {
			cb.sensors = append(cb.sensors, &sensor{
				id:         fmt.Sprintf("sensor_%d_%d", c, s),
				positionKM: float64(s+1) * (length / float64(sensorsPerCable)),
				sensorType: sensorTypes[n.rng.Intn(len(sensorTypes))],
				status:     models.StatusActive,
			})
		}
		n.cables = append(n.cables, cb)
	}
	return n
}

// SimulateStep produces one reading per active sensor and advances the
// simulation clock by one minute.
func (n *Network) SimulateStep() []models.Reading {
	n.mu.Lock()
	defer n.mu.Unlock()

	var readings []models.Reading
	for _, cb := range n.cables {
		for _, s := range cb.sensors {
			if s.status != models.StatusActive {
				continue
			}
			r := n.generateReading(cb, s)
			s.lastReading = r.Timestamp
			readings = append(readings, r)
		}
	}
	n.simTime = n.simTime.Add(time.Minute)
	return readings
}

func (n *Network) generateReading(cb *cable, s *sensor) models.Reading {
	var value float64
	switch s.sensorType {
	case models.SensorTemperature:
		// Deep sea temperature around 4°C.
		value = 4.0 + n.rng.NormFloat64()*0.5
	case models.SensorPressure:
		// Hydrostatic pressure from depth.
		value = cb.depthM*0.1 + n.rng.NormFloat64()*2
	case models.SensorVibration:
		value = n.rng.ExpFloat64() * 0.1
	case models.SensorElectrical:
		value = cb.voltageRating * (1 + n.rng.NormFloat64()*0.01)
	}

	injected := n.rng.Float64() < n.anomalyProb
	if injected {
		switch s.sensorType {
		case models.SensorTemperature:
			value += 5 + n.rng.Float64()*10
		case models.SensorPressure:
			value *= 1.5 + n.rng.Float64()*1.5
		case models.SensorVibration:
			value += 10 + n.rng.Float64()*40
		case models.SensorElectrical:
			value *= 0.7 + n.rng.Float64()*0.6
		}
	}

	return models.Reading{
		Timestamp:  n.simTime,
		CableID:    cb.id,
		SensorID:   s.id,
		SensorType: s.sensorType,
		Value:      value,
		PositionKM: s.positionKM,
		DepthM:     cb.depthM,
		Injected:   injected,
	}
}

// NetworkStatus returns the overall network health view.
func (n *Network) NetworkStatus() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	total, active := 0, 0
	for _, cb := range n.cables {
		for _, s := range cb.sensors {
			total++
			if s.status == models.StatusActive {
				active++
			}
		}
	}

	health := 0.0
	if total > 0 {
		health = float64(active) / float64(total)
	}
	return Status{
		TotalCables:    len(n.cables),
		TotalSensors:   total,
		ActiveSensors:  active,
		SimulationTime: n.simTime,
		NetworkHealth:  health,
	}
}

// IntroduceFault breaks part of the network for testing: sensor_failure
// disables one random active sensor on the cable, cable_damage marks the
// cable damaged and disables all its sensors.
func (n *Network) IntroduceFault(cableID string, kind FaultKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	cb := n.findCable(cableID)
	if cb == nil {
		return fmt.Errorf("%w: %s", ErrCableNotFound, cableID)
	}

	switch kind {
	case FaultSensorFailure:
		var active []*sensor
		for _, s := range cb.sensors {
			if s.status == models.StatusActive {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			return fmt.Errorf("no active sensors to fail on %s", cableID)
		}
		victim := active[n.rng.Intn(len(active))]
		victim.status = models.StatusFailed
		n.log.Warn("sensor failed", zap.String("sensor_id", victim.id), zap.String("cable_id", cableID))
	case FaultCableDamage:
		cb.status = "damaged"
		for _, s := range cb.sensors {
			s.status = models.StatusFailed
		}
		n.log.Warn("cable damaged", zap.String("cable_id", cableID))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFaultKind, kind)
	}
	return nil
}

// RepairCable restores a cable and all of its sensors.
func (n *Network) RepairCable(cableID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	cb := n.findCable(cableID)
	if cb == nil {
		return fmt.Errorf("%w: %s", ErrCableNotFound, cableID)
	}
	cb.status = "operational"
	for _, s := range cb.sensors {
		s.status = models.StatusActive
	}
	n.log.Info("cable repaired", zap.String("cable_id", cableID))
	return nil
}

// CableInfo returns details for one cable.
func (n *Network) CableInfo(cableID string) (CableInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cb := n.findCable(cableID)
	if cb == nil {
		return CableInfo{}, fmt.Errorf("%w: %s", ErrCableNotFound, cableID)
	}
	active := 0
	for _, s := range cb.sensors {
		if s.status == models.StatusActive {
			active++
		}
	}
	return CableInfo{
		ID:            cb.id,
		LengthKM:      cb.lengthKM,
		DepthM:        cb.depthM,
		VoltageRating: cb.voltageRating,
		Status:        cb.status,
		TotalSensors:  len(cb.sensors),
		ActiveSensors: active,
		Installed:     cb.installed,
	}, nil
}

// ListCables returns all cable ids in creation order.
func (n *Network) ListCables() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]string, len(n.cables))
	for i, cb := range n.cables {
		ids[i] = cb.id
	}
	return ids
}

func (n *Network) findCable(cableID string) *cable {
	for _, cb := range n.cables {
		if cb.id == cableID {
			return cb
		}
	}
	return nil
}
