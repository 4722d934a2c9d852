package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liseuse/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestInit_CreatesTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"metrics_timeseries", "business_event_logs"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.RecordCount(MetricRestoreApplied, 3, map[string]string{"doc": "book.txt"})
	mm.RecordSimple(MetricRestoreDuration, 12, "milliseconds")
	mm.Close() // flushes

	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	metrics, err := mm2.Query(context.Background(), MetricQuery{Name: MetricRestoreApplied, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("%s count: got %d, want 1", MetricRestoreApplied, len(metrics))
	}
	if metrics[0].Value != 3 {
		t.Fatalf("value: got %f, want 3", metrics[0].Value)
	}
	if metrics[0].Labels["doc"] != "book.txt" {
		t.Fatalf("labels: got %v", metrics[0].Labels)
	}

	all, err := mm2.Query(context.Background(), MetricQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all metrics count: got %d, want 2", len(all))
	}
}

func TestMetricsManager_Totals(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)
	mm.RecordCount(MetricRestoreApplied, 2, nil)
	mm.RecordCount(MetricRestoreApplied, 5, map[string]string{"path": "b.md"})
	mm.RecordCount(MetricRestoreMissed, 1, nil)
	mm.RecordCount(MetricRestoreDrifted, 0, nil)
	mm.Close()

	mm2 := NewMetricsManager(db, 0, 0)
	defer mm2.Close()
	totals, err := mm2.Totals(context.Background(), MetricQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if totals[MetricRestoreApplied] != 7 || totals[MetricRestoreMissed] != 1 {
		t.Fatalf("totals: %v", totals)
	}
	if _, ok := totals[MetricRestoreDrifted]; ok {
		t.Fatal("zero counts must not be stored")
	}
}

func TestMetricsManager_FlushOnBufferFull(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.RecordSimple(MetricChunksRendered, 1, "count")
	mm.RecordSimple(MetricChunksRendered, 1, "count")

	var count int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&count)
	if count != 2 {
		t.Fatalf("rows after full buffer: got %d, want 2", count)
	}
}

func TestMetricsManager_NilIsNoop(t *testing.T) {
	var mm *MetricsManager
	mm.RecordCount(MetricRestoreMissed, 1, nil)
	if err := mm.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestMetricsManager_CloseTwice(t *testing.T) {
	mm := NewMetricsManager(setupObsDB(t), 10, time.Hour)
	mm.Close()
	mm.Close()
}

func TestEventLogger_LogEvent(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db, WithEventIDGenerator(func() string { return "evt_fixed" }))

	el.LogEvent(context.Background(), BusinessEvent{
		EventType:   "annotation",
		ServiceName: "liseuse",
		EntityType:  "note",
		EntityID:    "note_1_abc",
		UserID:      "local",
		Action:      "add",
		Success:     true,
	})

	var id, action string
	db.QueryRow("SELECT event_id, action FROM business_event_logs LIMIT 1").Scan(&id, &action)
	if id != "evt_fixed" || action != "add" {
		t.Fatalf("event: got (%q, %q), want (evt_fixed, add)", id, action)
	}
}

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)

	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec("INSERT INTO business_event_logs (event_id, event_type, service_name, action, success, created_at) VALUES ('e1', 'annotation', 'liseuse', 'add', 1, ?)", oldTs)
	db.Exec("INSERT INTO metrics_timeseries (metric_name, timestamp, value, unit) VALUES ('m', ?, 1, 'count')", oldTs)
	db.Exec("INSERT INTO metrics_timeseries (metric_name, timestamp, value, unit) VALUES ('m', ?, 1, 'count')", time.Now().Unix())

	if err := Cleanup(context.Background(), db, RetentionConfig{EventLogsDays: 30, MetricsDays: 30}); err != nil {
		t.Fatal(err)
	}

	var events, metrics int
	db.QueryRow("SELECT COUNT(*) FROM business_event_logs").Scan(&events)
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&metrics)
	if events != 0 {
		t.Fatalf("business_event_logs: got %d, want 0", events)
	}
	if metrics != 1 {
		t.Fatalf("metrics_timeseries: got %d, want 1", metrics)
	}
}
