package usecase

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/adapter/embedding"
	"storefront/internal/adapter/snapshot"
	"storefront/internal/domain"
)

// fixedEmbedder returns pre-assigned vectors per text so tests control the
// geometry exactly.
type fixedEmbedder struct {
	dim     int
	vectors map[string][]float32
	calls   int
}

func (e *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := e.vectors[text]
		if !ok {
			v = make([]float32, e.dim)
		}
		out[i] = v
	}
	return out, nil
}

func (e *fixedEmbedder) Dimension() int    { return e.dim }
func (e *fixedEmbedder) ModelName() string { return "fixed" }

var testProducts = []domain.Product{
	{ID: "1", Name: "Earbuds", Category: "Electronics", Description: "wireless", Price: 99.99},
	{ID: "2", Name: "Mouse", Category: "Peripherals", Description: "ergonomic", Price: 45.50},
}

func newTestEmbedder() *fixedEmbedder {
	return &fixedEmbedder{
		dim: 3,
		vectors: map[string][]float32{
			testProducts[0].EmbeddingText(): {1, 0, 0},
			testProducts[1].EmbeddingText(): {0, 1, 0},
			"wireless audio device":         {0.9, 0.1, 0},
		},
	}
}

func newTestManager(t *testing.T, dir string, emb *fixedEmbedder) *IndexManager {
	t.Helper()
	snapshots, err := snapshot.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewIndexManager(emb, snapshots)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestIngestAndSearchScenario(t *testing.T) {
	m := newTestManager(t, t.TempDir(), newTestEmbedder())
	ctx := context.Background()

	report, err := m.Ingest(ctx, testProducts)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 2 || report.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !report.Persisted {
		t.Fatalf("expected snapshot to be written: %+v", report)
	}

	hits, err := m.Search(ctx, "wireless audio device", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Product.ID != "1" {
		t.Fatalf("expected product 1 (Earbuds), got %s", hits[0].Product.ID)
	}
}

func TestIngestIdempotence(t *testing.T) {
	emb := newTestEmbedder()
	m := newTestManager(t, t.TempDir(), emb)
	ctx := context.Background()

	if _, err := m.Ingest(ctx, testProducts[:1]); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := emb.calls

	report, err := m.Ingest(ctx, testProducts[:1])
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 0 || report.Skipped != 1 {
		t.Fatalf("unexpected report on re-ingest: %+v", report)
	}
	if m.Count() != 1 {
		t.Fatalf("expected exactly 1 indexed product, got %d", m.Count())
	}
	// A fully-duplicate batch must not reach the embedding provider.
	if emb.calls != callsAfterFirst {
		t.Fatalf("embedder called for a no-op ingest: %d -> %d", callsAfterFirst, emb.calls)
	}
}

func TestSearchEmptySystem(t *testing.T) {
	emb := newTestEmbedder()
	m := newTestManager(t, t.TempDir(), emb)

	hits, err := m.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits before any ingest, got %v", hits)
	}
	if emb.calls != 0 {
		t.Fatal("embedder called for a search on an empty system")
	}
}

func TestSearchKBeyondCount(t *testing.T) {
	m := newTestManager(t, t.TempDir(), newTestEmbedder())
	ctx := context.Background()

	if _, err := m.Ingest(ctx, testProducts); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, "wireless audio device", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected all 2 products, got %d", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Fatalf("hits not ordered by distance: %v", hits)
		}
	}
}

func TestSlotCorrespondenceAcrossIngests(t *testing.T) {
	emb := newTestEmbedder()
	emb.vectors["Keyboard Peripherals mechanical"] = []float32{0, 0, 1}
	m := newTestManager(t, t.TempDir(), emb)
	ctx := context.Background()

	if _, err := m.Ingest(ctx, testProducts[:1]); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Ingest(ctx, []domain.Product{
		testProducts[1],
		{ID: "3", Name: "Keyboard", Category: "Peripherals", Description: "mechanical", Price: 120},
	}); err != nil {
		t.Fatal(err)
	}

	// Exact-match queries must resolve to the right product regardless of
	// which batch it arrived in.
	for _, p := range []string{"1", "2", "3"} {
		var query string
		switch p {
		case "1":
			query = testProducts[0].EmbeddingText()
		case "2":
			query = testProducts[1].EmbeddingText()
		case "3":
			query = "Keyboard Peripherals mechanical"
		}

		hits, err := m.Search(ctx, query, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 || hits[0].Product.ID != p {
			t.Fatalf("query for product %s resolved to %+v", p, hits)
		}
	}
}

func TestRestoreFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	emb := newTestEmbedder()
	m := newTestManager(t, dir, emb)
	ctx := context.Background()

	if _, err := m.Ingest(ctx, testProducts); err != nil {
		t.Fatal(err)
	}

	// A new manager over the same directory restores the pair.
	restored := newTestManager(t, dir, emb)
	if restored.Count() != 2 {
		t.Fatalf("expected 2 products after restore, got %d", restored.Count())
	}

	hits, err := restored.Search(ctx, "wireless audio device", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Product.ID != "1" {
		t.Fatalf("restored index resolved wrong product: %+v", hits)
	}
}

func TestRestoreRejectsDimensionChange(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, newTestEmbedder())
	if _, err := m.Ingest(context.Background(), testProducts); err != nil {
		t.Fatal(err)
	}

	snapshots, err := snapshot.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewIndexManager(&fixedEmbedder{dim: 5}, snapshots); err == nil {
		t.Fatal("expected error for snapshot/model dimension mismatch")
	}
}

func TestDeleteHidesProduct(t *testing.T) {
	m := newTestManager(t, t.TempDir(), newTestEmbedder())
	ctx := context.Background()

	if _, err := m.Ingest(ctx, testProducts); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, "wireless audio device", 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, hit := range hits {
		if hit.Product.ID == "1" {
			t.Fatal("deleted product returned from search")
		}
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 live product, got %d", m.Count())
	}
}

func TestDeleteTriggersCompaction(t *testing.T) {
	snapshots, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	emb := newTestEmbedder()
	m, err := NewIndexManager(emb, snapshots, func(o *IndexManagerOptions) {
		o.CompactionThreshold = 0.3
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := m.Ingest(ctx, testProducts); err != nil {
		t.Fatal(err)
	}
	// 1 of 2 deleted crosses the 0.3 threshold and compacts.
	if err := m.Delete(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	m.mu.RLock()
	total, deleted := m.index.Count(), m.index.DeletedCount()
	m.mu.RUnlock()
	if total != 1 || deleted != 0 {
		t.Fatalf("expected compacted index with 1 live vector, got total=%d deleted=%d", total, deleted)
	}

	// The surviving product is still searchable without re-embedding.
	callsBefore := emb.calls
	hits, err := m.Search(ctx, testProducts[1].EmbeddingText(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Product.ID != "2" {
		t.Fatalf("compaction lost product 2: %+v", hits)
	}
	if emb.calls != callsBefore+1 {
		t.Fatalf("compaction should not re-embed: calls %d -> %d", callsBefore, emb.calls)
	}
}

func TestRebuildKeepsOldStateOnFailure(t *testing.T) {
	emb := newTestEmbedder()
	m := newTestManager(t, t.TempDir(), emb)
	ctx := context.Background()

	if _, err := m.Ingest(ctx, testProducts); err != nil {
		t.Fatal(err)
	}

	failing := &failingEmbedder{}
	m.embedder = failing
	if _, err := m.Rebuild(ctx, testProducts); err == nil {
		t.Fatal("expected rebuild to fail")
	}
	m.embedder = emb

	// The previous state must still be served.
	if m.Count() != 2 {
		t.Fatalf("expected previous index preserved, got count %d", m.Count())
	}
}

type failingEmbedder struct{}

func (e *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, embedding.ErrProviderUnavailable
}

func (e *failingEmbedder) Dimension() int    { return 3 }
func (e *failingEmbedder) ModelName() string { return "failing" }

func TestIngestAbortsOnProviderFailure(t *testing.T) {
	snapshots, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewIndexManager(&failingEmbedder{}, snapshots)
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Ingest(context.Background(), testProducts)
	if !errors.Is(err, embedding.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	// Nothing may have been registered.
	if m.Count() != 0 {
		t.Fatalf("expected empty index after aborted ingest, got %d", m.Count())
	}
}
