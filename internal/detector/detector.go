package detector

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"cableguard/internal/models"
)

// minSamples is how many readings a baseline window needs before the
// detector will flag anomalies for that sensor type.
const minSamples = 10

var (
	// ErrNotTrained is returned when PredictSingle is called before Train.
	ErrNotTrained = errors.New("detector has not been trained")

	// ErrNoTrainingData is returned when Train is given an empty set.
	ErrNoTrainingData = errors.New("no training data provided")
)

// Detector is a rolling-window z-score classifier. It keeps one baseline
// window per sensor type, since temperature, pressure, vibration and
// electrical readings live on very different scales.
type Detector struct {
	windowSize int
	threshold  float64
	log        *zap.Logger

	mu      sync.Mutex
	trained bool
	windows map[models.SensorType][]float64
}

// New creates a detector flagging values more than threshold standard
// deviations away from the rolling mean of their sensor type.
func New(windowSize int, threshold float64, logger *zap.Logger) *Detector {
	if windowSize <= 0 {
		windowSize = 50
	}
	if threshold <= 0 {
		threshold = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		windowSize: windowSize,
		threshold:  threshold,
		log:        logger,
		windows:    make(map[models.SensorType][]float64),
	}
}

// Train seeds the per-type baseline windows from historical readings and
// marks the detector ready.
func (d *Detector) Train(readings []models.Reading) error {
	if len(readings) == 0 {
		return ErrNoTrainingData
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range readings {
		d.record(r.SensorType, r.Value)
	}
	d.trained = true

	d.log.Info("anomaly detector trained",
		zap.Int("samples", len(readings)),
		zap.Int("sensor_types", len(d.windows)))
	return nil
}

// IsReady reports whether the detector has been trained.
func (d *Detector) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trained
}

// PredictSingle scores one reading against the baseline for its sensor type
// and folds the value into the window. The score is the z-score; a reading
// is anomalous when |z| exceeds the threshold and the window holds enough
// samples to make the comparison meaningful.
func (d *Detector) PredictSingle(r models.Reading) (bool, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.trained {
		return false, 0, ErrNotTrained
	}
	if r.SensorType == "" {
		return false, 0, fmt.Errorf("reading from sensor %q has no sensor type", r.SensorID)
	}

	window := d.windows[r.SensorType]
	z := zScore(r.Value, window)
	isAnomaly := math.Abs(z) > d.threshold && len(window) >= minSamples

	d.record(r.SensorType, r.Value)
	return isAnomaly, z, nil
}

// record appends a value to its type window, evicting the oldest on
// overflow. Caller holds the lock.
func (d *Detector) record(t models.SensorType, value float64) {
	window := d.windows[t]
	if len(window) >= d.windowSize {
		window = window[1:]
	}
	d.windows[t] = append(window, value)
}

func zScore(value float64, window []float64) float64 {
	if len(window) < 2 {
		return 0
	}

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))

	var variance float64
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(window)-1))
	if stdDev == 0 {
		return 0
	}

	return (value - mean) / stdDev
}
