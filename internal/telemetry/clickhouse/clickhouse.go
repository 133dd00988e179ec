// Package clickhouse is an optional long-term time-series sink for the
// Sandbox Supervisor's per-run metrics (§4.5), complementing the in-process
// OTel instruments in internal/sandbox/metrics.go with durable rows a
// dashboard can query across runs. Grounded on the teacher's internal/
// agentd/clickhouse_schema.go (CREATE TABLE IF NOT EXISTS bootstrap-at-open
// idiom) and internal/agentd/metrics_clickhouse.go (DSN parsing, identifier
// sanitization, the ParseDSN/Open/Ping connection sequence).
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/ntegrals/openbrowser/internal/config"
)

// RunMetric is one sandboxed run's terminal outcome, as reported by
// sandbox.Supervise.
type RunMetric struct {
	RunID        string
	AbortReason  string
	DurationMS   int64
	PeakMemoryMB float64
	StepsRun     int
	RecordedAt   time.Time
}

// Sink writes RunMetric rows to ClickHouse. A nil *Sink is the disabled
// state: Record becomes a no-op, matching the rest of this repo's optional-
// backend convention.
type Sink struct {
	conn  clickhouse.Conn
	table string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open connects to cfg.ClickHouseDSN and ensures cfg.ClickHouseTable exists.
// Returns (nil, nil) when the DSN is unset, since this backend is optional.
func Open(ctx context.Context, cfg config.StoreConfig) (*Sink, error) {
	dsn := strings.TrimSpace(cfg.ClickHouseDSN)
	if dsn == "" {
		return nil, nil
	}
	table := strings.TrimSpace(cfg.ClickHouseTable)
	if table == "" {
		table = "sandbox_run_metrics"
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("clickhouse: invalid table name %q", table)
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	if err := ensureRunMetricsTable(ctx, conn, table); err != nil {
		return nil, err
	}

	return &Sink{conn: conn, table: table}, nil
}

func ensureRunMetricsTable(ctx context.Context, conn clickhouse.Conn, table string) error {
	sql := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	RunID String,
	AbortReason LowCardinality(String),
	DurationMS Int64,
	PeakMemoryMB Float64,
	StepsRun UInt32,
	RecordedAt DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (RunID, RecordedAt)
TTL RecordedAt + INTERVAL 90 DAY
SETTINGS index_granularity = 8192
`, table)
	if err := conn.Exec(ctx, sql); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("clickhouse: create %s: %w", table, err)
		}
	}
	log.Info().Str("table", table).Msg("clickhouse: sandbox run metrics table ready")
	return nil
}

// Record appends one run's terminal metrics.
func (s *Sink) Record(ctx context.Context, m RunMetric) error {
	if s == nil || s.conn == nil {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}
	recordedAt := m.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	if err := batch.Append(m.RunID, m.AbortReason, m.DurationMS, m.PeakMemoryMB, uint32(m.StepsRun), recordedAt); err != nil {
		return fmt.Errorf("clickhouse: append row: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
