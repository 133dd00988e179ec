package clickhouse

import (
	"context"
	"testing"

	"github.com/ntegrals/openbrowser/internal/config"
)

func TestOpenDisabledWithoutDSN(t *testing.T) {
	sink, err := Open(context.Background(), config.StoreConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sink != nil {
		t.Fatalf("expected nil sink when ClickHouseDSN is unset")
	}
}

func TestOpenRejectsInvalidTableName(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{
		ClickHouseDSN:   "clickhouse://localhost:9000",
		ClickHouseTable: "sandbox; DROP TABLE users",
	})
	if err == nil {
		t.Fatal("expected error for an invalid table identifier")
	}
}

func TestNilSinkRecordAndCloseAreNoOps(t *testing.T) {
	var s *Sink
	if err := s.Record(context.Background(), RunMetric{RunID: "run-1"}); err != nil {
		t.Fatalf("nil sink Record returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil sink Close returned error: %v", err)
	}
}
