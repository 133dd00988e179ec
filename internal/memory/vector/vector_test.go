package vector

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ntegrals/openbrowser/internal/config"
)

func TestOpenDisabledWithoutAddr(t *testing.T) {
	s, err := Open(config.StoreConfig{}, 384)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil store when QdrantAddr is unset")
	}
}

func TestOpenRejectsZeroDimension(t *testing.T) {
	_, err := Open(config.StoreConfig{QdrantAddr: "http://localhost:6334", QdrantCollection: "runs"}, 0)
	if err == nil {
		t.Fatal("expected error for non-positive dimension")
	}
}

func TestPointIDForPreservesExistingUUIDs(t *testing.T) {
	id := uuid.New().String()
	pointID, original := pointIDFor(id)
	if original != "" {
		t.Errorf("expected no original-ID fallback for an already-valid UUID, got %q", original)
	}
	if pointID.GetUuid() != id {
		t.Errorf("point ID = %q, want %q", pointID.GetUuid(), id)
	}
}

func TestPointIDForDerivesDeterministicUUIDForNonUUIDIDs(t *testing.T) {
	runID := "run-2026-07-31-001"
	pointID1, original1 := pointIDFor(runID)
	pointID2, original2 := pointIDFor(runID)
	if original1 != runID || original2 != runID {
		t.Errorf("expected original ID to round-trip, got %q and %q", original1, original2)
	}
	if pointID1.GetUuid() != pointID2.GetUuid() {
		t.Errorf("expected deterministic derived UUID, got %q and %q", pointID1.GetUuid(), pointID2.GetUuid())
	}
}

func TestNilStoreMethodsAreNoOps(t *testing.T) {
	var s *Store
	if err := s.Remember(context.Background(), RunSummary{RunID: "run-1"}); err != nil {
		t.Fatalf("nil store Remember returned error: %v", err)
	}
	matches, err := s.Recall(context.Background(), []float32{0.1, 0.2}, 5)
	if err != nil || matches != nil {
		t.Fatalf("nil store Recall = (%v, %v), want (nil, nil)", matches, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil store Close returned error: %v", err)
	}
}
