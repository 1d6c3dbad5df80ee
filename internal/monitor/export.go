package monitor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"cableguard/internal/models"
)

// exportWindow is how many trailing buffered readings the JSON export carries.
const exportWindow = 100

// Snapshot assembles the export record: stats, sensor summary and the most
// recent buffered readings.
func (m *Monitor) Snapshot() models.Export {
	stats := m.GetMonitoringStats()
	summary := m.GetSensorSummary()

	m.mu.RLock()
	recent := m.buffer.last(exportWindow)
	m.mu.RUnlock()

	return models.Export{
		Stats:           stats,
		SensorSummary:   summary,
		RecentData:      recent,
		ExportTimestamp: m.now(),
	}
}

// ExportJSON writes the snapshot as indented JSON. Best-effort: monitoring
// is unaffected by a write failure.
func (m *Monitor) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.Snapshot()); err != nil {
		return fmt.Errorf("failed to export monitoring data: %w", err)
	}
	return nil
}

// ExportCSV writes the full data buffer as CSV rows.
func (m *Monitor) ExportCSV(w io.Writer) error {
	m.mu.RLock()
	readings := m.buffer.last(m.buffer.len())
	m.mu.RUnlock()

	cw := csv.NewWriter(w)
	header := []string{"timestamp", "cable_id", "sensor_id", "sensor_type", "value", "position_km", "depth_m", "is_anomaly_detected", "anomaly_score"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range readings {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.CableID,
			r.SensorID,
			string(r.SensorType),
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			strconv.FormatFloat(r.PositionKM, 'f', -1, 64),
			strconv.FormatFloat(r.DepthM, 'f', -1, 64),
			strconv.FormatBool(r.AnomalyDetected),
			strconv.FormatFloat(r.AnomalyScore, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}
