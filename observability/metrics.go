// Package observability records what the reading engine does into SQLite:
// restoration outcomes, chunk loads and annotation traffic as timeseries,
// annotation lifecycle as business events.
//
// Call Init() on the *sql.DB first, then pass it to the constructors.
// Metric persistence is batched and asynchronous; a failing write is logged
// and dropped, never returned to the reader.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/liseuse/dbopen"
)

// Metric names recorded by the reading engine.
const (
	MetricRestoreApplied   = "restore_applied_count"
	MetricRestoreMissed    = "restore_missed_count"
	MetricRestoreDrifted   = "restore_drifted_count"
	MetricRestoreFailed    = "restore_failed_count"
	MetricRestoreDuration  = "restore_duration_ms"
	MetricChunksRendered   = "chunks_rendered_count"
	MetricAnnotationsAdded = "annotations_added_count"
	MetricSessionsOpen     = "sessions_open_count"
)

// Metric is one timeseries sample.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit"` // "count", "milliseconds"
}

// MetricsManager buffers samples and writes them in batches, when the
// buffer fills up and every flush interval.
type MetricsManager struct {
	db       *sql.DB
	max      int
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	buffer []*Metric

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMetricsManager starts a manager writing to db. Zero values select a
// buffer of 100 samples and a 5s interval.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	mm := &MetricsManager{
		db:       db,
		max:      bufferSize,
		interval: flushInterval,
		logger:   slog.Default(),
		buffer:   make([]*Metric, 0, bufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go mm.loop()
	return mm
}

// Record queues a sample. A nil manager discards it.
func (mm *MetricsManager) Record(m *Metric) {
	if mm == nil {
		return
	}
	mm.mu.Lock()
	mm.buffer = append(mm.buffer, m)
	var batch []*Metric
	if len(mm.buffer) >= mm.max {
		batch = mm.takeLocked()
	}
	mm.mu.Unlock()
	mm.write(batch)
}

// RecordSimple records an unlabelled sample.
func (mm *MetricsManager) RecordSimple(name string, value float64, unit string) {
	mm.Record(&Metric{Name: name, Timestamp: time.Now(), Value: value, Unit: unit})
}

// RecordCount records a labelled counter sample. Zero counts are skipped.
func (mm *MetricsManager) RecordCount(name string, value int, labels map[string]string) {
	if value == 0 {
		return
	}
	mm.Record(&Metric{Name: name, Timestamp: time.Now(), Value: float64(value), Labels: labels, Unit: "count"})
}

// MetricQuery filters Query. Zero fields do not filter.
type MetricQuery struct {
	Name  string
	Since time.Time
	Until time.Time
	Limit int
}

// Query returns stored samples, newest first.
func (mm *MetricsManager) Query(ctx context.Context, q MetricQuery) ([]*Metric, error) {
	where, args := q.where()
	stmt := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries" + where + " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := mm.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m      Metric
			ts     int64
			labels sql.NullString
			unit   sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		m.Unit = unit.String
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Totals sums the stored samples per metric name.
func (mm *MetricsManager) Totals(ctx context.Context, q MetricQuery) (map[string]float64, error) {
	where, args := q.where()
	rows, err := mm.db.QueryContext(ctx,
		"SELECT metric_name, SUM(value) FROM metrics_timeseries"+where+" GROUP BY metric_name", args...)
	if err != nil {
		return nil, fmt.Errorf("observability: totals: %w", err)
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var sum float64
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, fmt.Errorf("observability: totals: %w", err)
		}
		out[name] = sum
	}
	return out, rows.Err()
}

func (q MetricQuery) where() (string, []any) {
	var conds []string
	var args []any
	if q.Name != "" {
		conds = append(conds, "metric_name = ?")
		args = append(args, q.Name)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, q.Until.Unix())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Close writes what is buffered and stops the background loop.
func (mm *MetricsManager) Close() error {
	if mm == nil {
		return nil
	}
	mm.closeOnce.Do(func() { close(mm.stop) })
	<-mm.done
	return nil
}

func (mm *MetricsManager) loop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.flush()
			return
		case <-ticker.C:
			mm.flush()
		}
	}
}

func (mm *MetricsManager) flush() {
	mm.mu.Lock()
	batch := mm.takeLocked()
	mm.mu.Unlock()
	mm.write(batch)
}

func (mm *MetricsManager) takeLocked() []*Metric {
	if len(mm.buffer) == 0 {
		return nil
	}
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.max)
	return batch
}

// write inserts batch as one statement.
func (mm *MetricsManager) write(batch []*Metric) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES ")
	args := make([]any, 0, len(batch)*5)
	for i, m := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?,?,?,?,?)")
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		args = append(args, m.Name, m.Timestamp.Unix(), m.Value, labels, m.Unit)
	}
	if _, err := dbopen.Exec(ctx, mm.db, sb.String(), args...); err != nil {
		mm.logger.Error("observability: metrics dropped", "count", len(batch), "error", err)
	}
}
