package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ── Test universes and documents ────────────────────────────────

type tenantTestUniverse struct {
	ID      string
	Name    string
	Domain  string // for cross-universe assertions
	Content string
}

var tenantUniverses = []tenantTestUniverse{
	{
		ID:     "universe-solar",
		Name:   "solar-energy-contracts.pdf",
		Domain: "solar energy",
		Content: `SOLAR ENERGY POWER PURCHASE AGREEMENT

Section 1: Generation Capacity
The solar facility shall maintain a minimum capacity of 50 megawatts (MW) during peak hours.
Electricity generated shall be purchased at $0.08 per kilowatt-hour.

Section 2: Interconnection
The facility connects to the grid at Substation Alpha via 138kV transmission line.
All interconnection costs are borne by the generator.

Section 3: Force Majeure
Solar irradiance below 3.5 kWh/m²/day for thirty (30) consecutive days constitutes force majeure.`,
	},
	{
		ID:     "universe-maritime",
		Name:   "maritime-shipping-regulations.pdf",
		Domain: "maritime shipping",
		Content: `INTERNATIONAL MARITIME SHIPPING REGULATIONS

Section 1: Vessel Classification
All cargo vessels exceeding 500 gross tonnage must carry a valid IMO certification.
Tankers transporting hazardous materials require double-hull construction.

Section 2: Port Entry Requirements
Vessels must submit manifest documentation forty-eight (48) hours before port arrival.
Quarantine inspection is mandatory for ships arriving from designated high-risk zones.

Section 3: Environmental Compliance
Ballast water must be treated using IMO-approved systems before discharge.
Sulfur content in fuel shall not exceed 0.50% per MARPOL Annex VI.`,
	},
	{
		ID:     "universe-pediatric",
		Name:   "pediatric-healthcare-protocols.pdf",
		Domain: "pediatric healthcare",
		Content: `PEDIATRIC HEALTHCARE PROTOCOLS

Section 1: Vaccination Schedule
Children aged 0-6 shall receive immunizations per the CDC recommended schedule.
MMR vaccine is administered at twelve (12) months with a booster at four (4) years.

Section 2: Growth Monitoring
Height and weight percentiles are recorded at every well-child visit.
BMI screening begins at age two (2) and continues through adolescence.

Section 3: Emergency Triage
Pediatric patients presenting with fever above 104°F require immediate evaluation.
The Broselow tape determines medication dosing for patients under 36 kg.`,
	},
}

var demoUniverseID = "universe-demo"

var demoSeedDocs = []struct {
	ID      string
	Name    string
	Content string
}{
	{"doc-seed-1", "Master_Research.md", "Master research document about legal AI systems and contract analysis methodologies."},
	{"doc-seed-2", "Build_Manifest_Phase0-3.md", "Build manifest covering phases 0 through 3 of the platform architecture and deployment pipeline."},
	{"doc-seed-3", "Phase10_Settings_DemoSeed.md", "Phase 10 settings configuration for demo seed data including persona defaults and vault settings."},
}

// ── Universe-scoped mocks ───────────────────────────────────────

// universeMockSearcher returns only candidates belonging to the queried
// universe. It also tracks every query for concurrent assertions.
type universeMockSearcher struct {
	mu         sync.Mutex
	byUniverse map[string][]SearchCandidate
	queries    []universeQuery
}

type universeQuery struct {
	UniverseID string
	ChunkIDs   []string
}

func (m *universeMockSearcher) SimilaritySearch(_ context.Context, _ []float32, _ int, universeID *string, _ []string) ([]SearchCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ""
	if universeID != nil {
		key = *universeID
	}
	results := m.byUniverse[key]
	var ids []string
	for _, r := range results {
		ids = append(ids, r.Chunk.ID)
	}
	m.queries = append(m.queries, universeQuery{UniverseID: key, ChunkIDs: ids})
	return results, nil
}

type universeMockBM25 struct {
	byUniverse map[string][]SearchCandidate
}

func (m *universeMockBM25) FullTextSearch(_ context.Context, _ string, _ int, universeID *string, _ []string) ([]SearchCandidate, error) {
	key := ""
	if universeID != nil {
		key = *universeID
	}
	return m.byUniverse[key], nil
}

// buildUniverseIndex creates the mock searchers with chunked documents per universe.
func buildUniverseIndex() (*universeMockSearcher, *universeMockBM25) {
	chunker := NewChunkerService(60, false)
	ctx := context.Background()

	vectorDocs := make(map[string][]SearchCandidate)
	bm25Docs := make(map[string][]SearchCandidate)

	for _, u := range tenantUniverses {
		chunks, _ := chunker.Chunk(ctx, u.Content, len(u.Content))
		var results []SearchCandidate
		for i, c := range chunks {
			results = append(results, SearchCandidate{
				Chunk: model.Chunk{
					ID:         fmt.Sprintf("%s-chunk-%d", u.ID, i),
					DocumentID: "doc-" + u.ID,
					ChunkIndex: i,
					Content:    c.Content,
					TokenCount: c.TokenCount,
				},
				Similarity: 0.85,
				Document: model.Document{
					ID:         "doc-" + u.ID,
					Title:      u.Name,
					UniverseID: &u.ID,
				},
			})
		}
		vectorDocs[u.ID] = results
		bm25Docs[u.ID] = results
	}

	var demoResults []SearchCandidate
	for _, d := range demoSeedDocs {
		demoResults = append(demoResults, SearchCandidate{
			Chunk: model.Chunk{
				ID:         d.ID + "-chunk-0",
				DocumentID: d.ID,
				Content:    d.Content,
			},
			Similarity: 0.90,
			Document: model.Document{
				ID:         d.ID,
				Title:      d.Name,
				UniverseID: &demoUniverseID,
			},
		})
	}
	vectorDocs[demoUniverseID] = demoResults
	bm25Docs[demoUniverseID] = demoResults

	return &universeMockSearcher{byUniverse: vectorDocs}, &universeMockBM25{byUniverse: bm25Docs}
}

// ── Test harness ────────────────────────────────────────────────

func retrieveForUniverse(ctx context.Context, svc *RetrieverService, universeID, query string) (*RetrievalResult, error) {
	return svc.Retrieve(ctx, RetrieveParams{
		Query:      query,
		AlphaAuto:  true,
		K:          5,
		UniverseID: &universeID,
	})
}

func TestTenantIsolation(t *testing.T) {
	if os.Getenv("TENANT_TESTS") != "1" {
		t.Skip("TENANT_TESTS not set — skipping tenant isolation suite")
	}

	vectorSearcher, bm25Searcher := buildUniverseIndex()
	embedder := NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0)
	svc := NewRetrieverService(embedder, vectorSearcher, bm25Searcher, nil, nil)

	t.Run("Sequential_Isolation", func(t *testing.T) {
		ctx := context.Background()

		for _, u := range tenantUniverses {
			result, err := retrieveForUniverse(ctx, svc, u.ID, "Summarize my documents")
			if err != nil {
				t.Fatalf("universe %s Retrieve error: %v", u.ID, err)
			}
			for _, c := range result.Chunks {
				if c.Document.UniverseID == nil || *c.Document.UniverseID != u.ID {
					t.Errorf("ISOLATION VIOLATION: universe %q got doc from a different universe (doc=%q)",
						u.ID, c.Document.ID)
				}
			}
			t.Logf("universe %s: %d chunks returned, all in-universe", u.ID, len(result.Chunks))
		}
	})

	t.Run("Concurrent_Isolation", func(t *testing.T) {
		ctx := context.Background()
		queries := []struct {
			UniverseID string
			Query      string
		}{
			{"universe-solar", "solar panel efficiency"},
			{"universe-maritime", "vessel tonnage requirements"},
			{"universe-pediatric", "vaccination schedule for children"},
			{"universe-solar", "power purchase agreement terms"},
			{"universe-maritime", "port entry manifest documentation"},
			{"universe-pediatric", "pediatric emergency triage"},
			{"universe-solar", "interconnection costs"},
			{"universe-maritime", "ballast water treatment"},
			{"universe-pediatric", "growth monitoring percentiles"},
			{"universe-solar", "force majeure solar irradiance"},
		}

		type queryResult struct {
			idx        int
			universeID string
			chunks     []RankedChunk
			err        error
		}

		results := make(chan queryResult, len(queries))
		var wg sync.WaitGroup

		for i, q := range queries {
			wg.Add(1)
			go func(idx int, universeID, query string) {
				defer wg.Done()
				res, err := retrieveForUniverse(ctx, svc, universeID, query)
				qr := queryResult{idx: idx, universeID: universeID, err: err}
				if res != nil {
					qr.chunks = res.Chunks
				}
				results <- qr
			}(i, q.UniverseID, q.Query)
		}

		wg.Wait()
		close(results)

		violations := 0
		for qr := range results {
			if qr.err != nil {
				t.Errorf("Query %d (universe=%s) error: %v", qr.idx, qr.universeID, qr.err)
				continue
			}
			for _, c := range qr.chunks {
				if c.Document.UniverseID == nil || *c.Document.UniverseID != qr.universeID {
					t.Errorf("CONCURRENT ISOLATION VIOLATION: query %d universe=%q got a cross-universe doc (doc=%q)",
						qr.idx, qr.universeID, c.Document.ID)
					violations++
				}
			}
		}
		t.Logf("Concurrent isolation: 10 queries, %d violations", violations)
		if violations > 0 {
			t.Fatalf("CRITICAL: %d cross-universe results detected under concurrent load", violations)
		}
	})

	t.Run("DemoSeed_Isolation", func(t *testing.T) {
		ctx := context.Background()

		demoDocNames := map[string]bool{
			"Master_Research.md":          true,
			"Build_Manifest_Phase0-3.md":  true,
			"Phase10_Settings_DemoSeed.md": true,
		}

		for _, u := range tenantUniverses {
			result, err := retrieveForUniverse(ctx, svc, u.ID, "research documents build manifest settings")
			if err != nil {
				t.Fatalf("universe %s Retrieve error: %v", u.ID, err)
			}
			for _, c := range result.Chunks {
				if demoDocNames[c.Document.Title] {
					t.Errorf("DEMO SEED LEAK: universe %q got demo doc %q", u.ID, c.Document.Title)
				}
				if c.Document.UniverseID != nil && *c.Document.UniverseID == demoUniverseID {
					t.Errorf("DEMO SEED LEAK: universe %q got a doc owned by %q (doc=%q)",
						u.ID, demoUniverseID, c.Document.ID)
				}
			}
			t.Logf("universe %s: demo seed isolation verified (%d chunks, 0 demo docs)", u.ID, len(result.Chunks))
		}

		demoResult, err := retrieveForUniverse(ctx, svc, demoUniverseID, "RAGbox documents")
		if err != nil {
			t.Fatalf("demo universe Retrieve error: %v", err)
		}
		if len(demoResult.Chunks) == 0 {
			t.Error("demo universe got 0 chunks — expected demo seed docs")
		}
		for _, c := range demoResult.Chunks {
			if c.Document.UniverseID == nil || *c.Document.UniverseID != demoUniverseID {
				t.Errorf("demo universe got a non-demo doc: %q", c.Document.ID)
			}
		}
		t.Logf("demo universe: %d chunks returned, all demo-owned", len(demoResult.Chunks))
	})
}

// ── Always-on unit tests (validate mock correctness) ────────────

func TestUniverseMockSearcher_ReturnsOnlyOwnedDocs(t *testing.T) {
	universeX, universeY := "universe-x", "universe-y"
	searcher := &universeMockSearcher{
		byUniverse: map[string][]SearchCandidate{
			"universe-x": {{
				Chunk:      model.Chunk{ID: "cx", DocumentID: "dx"},
				Similarity: 0.9,
				Document:   model.Document{ID: "dx", UniverseID: &universeX},
			}},
			"universe-y": {{
				Chunk:      model.Chunk{ID: "cy", DocumentID: "dy"},
				Similarity: 0.8,
				Document:   model.Document{ID: "dy", UniverseID: &universeY},
			}},
		},
	}

	ctx := context.Background()

	results, _ := searcher.SimilaritySearch(ctx, nil, 10, &universeX, nil)
	if len(results) != 1 || results[0].Document.ID != "dx" {
		t.Errorf("universe-x got %d results, want 1 (dx)", len(results))
	}

	results, _ = searcher.SimilaritySearch(ctx, nil, 10, &universeY, nil)
	if len(results) != 1 || results[0].Document.ID != "dy" {
		t.Errorf("universe-y got %d results, want 1 (dy)", len(results))
	}

	unknown := "universe-z"
	results, _ = searcher.SimilaritySearch(ctx, nil, 10, &unknown, nil)
	if len(results) != 0 {
		t.Errorf("universe-z got %d results, want 0", len(results))
	}
}

func TestUniverseMockBM25_ReturnsOnlyOwnedDocs(t *testing.T) {
	universeX := "universe-x"
	bm25 := &universeMockBM25{
		byUniverse: map[string][]SearchCandidate{
			"universe-x": {{
				Chunk:    model.Chunk{ID: "cx"},
				Document: model.Document{ID: "dx", UniverseID: &universeX},
			}},
		},
	}

	ctx := context.Background()

	results, _ := bm25.FullTextSearch(ctx, "query", 10, &universeX, nil)
	if len(results) != 1 {
		t.Errorf("universe-x got %d results, want 1", len(results))
	}

	unknown := "universe-unknown"
	results, _ = bm25.FullTextSearch(ctx, "query", 10, &unknown, nil)
	if len(results) != 0 {
		t.Errorf("unknown universe got %d results, want 0", len(results))
	}
}
