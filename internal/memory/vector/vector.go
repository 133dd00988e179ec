// Package vector is an optional long-term store that embeds and indexes
// run summaries across runs, so a new run's preflight can recall prior
// sessions against the same site — extending the bounded, single-run
// history kept by internal/conversation (§3 AgentState) rather than
// changing its in-run semantics. Grounded on the teacher's internal/
// persistence/databases/qdrant_vector.go: host/port parsing from a DSN,
// collection-exists-or-create bootstrap, and a deterministic
// name-to-UUID mapping for non-UUID caller-supplied IDs.
package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ntegrals/openbrowser/internal/config"
)

// payloadOriginalID is the payload key a non-UUID caller ID is stashed
// under, since Qdrant only accepts UUIDs or positive integers as point IDs.
const payloadOriginalID = "_original_id"

// RunSummary is one run's embedded, retrievable memory.
type RunSummary struct {
	RunID     string
	Task      string
	Outcome   string // e.g. "completed", "failed", "stalled"
	Embedding []float32
}

// Match is one SimilaritySearch result.
type Match struct {
	RunID   string
	Task    string
	Outcome string
	Score   float64
}

// Store embeds and retrieves RunSummary records. A nil *Store is the
// disabled state: every method becomes a no-op / empty-result, matching
// this repo's optional-backend convention.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// Open connects to cfg.QdrantAddr and ensures cfg.QdrantCollection exists
// with the given embedding dimension. Returns (nil, nil) when QdrantAddr is
// unset, since this backend is optional.
func Open(cfg config.StoreConfig, dimension int) (*Store, error) {
	addr := strings.TrimSpace(cfg.QdrantAddr)
	if addr == "" {
		return nil, nil
	}
	collection := strings.TrimSpace(cfg.QdrantCollection)
	if collection == "" {
		return nil, fmt.Errorf("memory: collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("memory: qdrant requires dimension > 0")
	}

	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("memory: parse qdrant addr: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("memory: invalid port in qdrant addr: %w", err)
	}

	qcfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("memory: create qdrant client: %w", err)
	}
	s := &Store{client: client, collection: collection, dimension: dimension}
	if err := s.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("memory: ensure collection: %w", err)
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointIDFor(runID string) (qdrant.PointId, string) {
	if _, err := uuid.Parse(runID); err == nil {
		return *qdrant.NewIDUUID(runID), ""
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(runID)).String()
	return *qdrant.NewIDUUID(derived), runID
}

// Remember indexes one run's summary for future retrieval.
func (s *Store) Remember(ctx context.Context, r RunSummary) error {
	if s == nil || s.client == nil {
		return nil
	}
	pointID, originalID := pointIDFor(r.RunID)
	payload := map[string]any{"task": r.Task, "outcome": r.Outcome}
	if originalID != "" {
		payload[payloadOriginalID] = originalID
	}
	vec := make([]float32, len(r.Embedding))
	copy(vec, r.Embedding)
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      &pointID,
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("memory: upsert: %w", err)
	}
	return nil
}

// Recall returns the k most similar prior run summaries to embedding.
func (s *Store) Recall(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		runID := hit.Id.GetUuid()
		var task, outcome string
		if hit.Payload != nil {
			if v, ok := hit.Payload["task"]; ok {
				task = v.GetStringValue()
			}
			if v, ok := hit.Payload["outcome"]; ok {
				outcome = v.GetStringValue()
			}
			if v, ok := hit.Payload[payloadOriginalID]; ok {
				runID = v.GetStringValue()
			}
		}
		matches = append(matches, Match{RunID: runID, Task: task, Outcome: outcome, Score: float64(hit.Score)})
	}
	return matches, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
