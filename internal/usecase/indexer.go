package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/adapter/catalog"
	"storefront/internal/adapter/index"
	"storefront/internal/adapter/snapshot"
	"storefront/internal/domain"
	"storefront/internal/port"
)

// IndexManagerOptions configures an IndexManager.
type IndexManagerOptions struct {
	// CompactionThreshold is the tombstoned fraction above which Delete
	// triggers a rebuild of the index and projection from live slots.
	CompactionThreshold float64
	// SnapshotTimeout bounds each snapshot write.
	SnapshotTimeout time.Duration
	// Logger receives structured ingest/search/persistence events.
	Logger *slog.Logger
	// SkipSnapshotRestore starts with an empty index even when a snapshot
	// exists. Used by full reindexing, which overwrites the snapshot.
	SkipSnapshotRestore bool
}

// DefaultIndexManagerOptions are the default IndexManager options.
var DefaultIndexManagerOptions = IndexManagerOptions{
	CompactionThreshold: 0.25,
	SnapshotTimeout:     30 * time.Second,
}

// IndexManager owns the vector index and catalog projection as one unit
// and keeps them consistent: slot i in the index always resolves to the
// i-th product registered in the projection.
//
// Ingestion is single-writer; searches run concurrently with each other
// but see either the pre- or post-ingestion state, never a partial one.
type IndexManager struct {
	embedder  port.Embedder
	snapshots *snapshot.Store
	opts      IndexManagerOptions
	logger    *slog.Logger

	mu      sync.RWMutex // guards the index/projection pair
	index   *index.Flat
	catalog *catalog.Projection
}

// NewIndexManager creates an IndexManager, restoring any prior snapshot.
// A snapshot whose dimension no longer matches the embedding model is
// rejected; run a full reindex to recover.
func NewIndexManager(embedder port.Embedder, snapshots *snapshot.Store, optFns ...func(o *IndexManagerOptions)) (*IndexManager, error) {
	opts := DefaultIndexManagerOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &IndexManager{
		embedder:  embedder,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger,
		index:     index.New(),
		catalog:   catalog.New(),
	}

	if opts.SkipSnapshotRestore {
		return m, nil
	}

	state, ok, err := snapshots.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if !ok {
		logger.Info("no existing snapshot, starting with empty index")
		return m, nil
	}

	if state.Dimension != 0 && state.Dimension != embedder.Dimension() {
		return nil, fmt.Errorf("snapshot dimension %d does not match embedding model dimension %d: reindex required",
			state.Dimension, embedder.Dimension())
	}

	idx, err := index.Restore(state.Vectors, state.Deleted)
	if err != nil {
		return nil, fmt.Errorf("failed to restore vector index: %w", err)
	}
	proj, err := catalog.Restore(state.Products)
	if err != nil {
		return nil, fmt.Errorf("failed to restore catalog projection: %w", err)
	}

	m.index = idx
	m.catalog = proj
	logger.Info("snapshot restored",
		"vectors", idx.Count(),
		"deleted", idx.DeletedCount(),
		"dimension", idx.Dimension())
	return m, nil
}

// Ingest embeds and indexes the given products. Products whose id is
// already indexed are skipped, so re-ingesting a batch is idempotent.
// Embedding or index failures abort the whole batch with nothing
// registered; a snapshot failure is reported but leaves the in-memory
// state in place.
func (m *IndexManager) Ingest(ctx context.Context, products []domain.Product) (domain.IngestReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingestLocked(ctx, products)
}

func (m *IndexManager) ingestLocked(ctx context.Context, products []domain.Product) (domain.IngestReport, error) {
	var report domain.IngestReport

	fresh := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if m.catalog.Contains(p.ID) {
			report.Skipped++
			continue
		}
		fresh = append(fresh, p)
	}

	// Nothing new: no model call, no snapshot write.
	if len(fresh) == 0 {
		return report, nil
	}

	texts := make([]string, len(fresh))
	for i, p := range fresh {
		texts[i] = p.EmbeddingText()
	}

	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return report, fmt.Errorf("failed to embed products: %w", err)
	}
	if len(vectors) != len(fresh) {
		return report, fmt.Errorf("embedder returned %d vectors for %d products", len(vectors), len(fresh))
	}

	slots, err := m.index.Add(vectors)
	if err != nil {
		return report, fmt.Errorf("failed to add vectors: %w", err)
	}

	// Registration happens only after the vector append succeeded, in the
	// same order, which is what keeps slot i pointing at product i.
	for i, p := range fresh {
		if err := m.catalog.Register(p); err != nil {
			return report, fmt.Errorf("catalog diverged from index at slot %d: %w", slots[i], err)
		}
	}

	report.Added = len(fresh)
	m.persistLocked(ctx, &report)

	m.logger.Info("products ingested",
		"added", report.Added,
		"skipped", report.Skipped,
		"persisted", report.Persisted)
	return report, nil
}

// Search embeds the query and returns up to k products in ascending
// distance order. An empty index returns no hits rather than an error.
func (m *IndexManager) Search(ctx context.Context, query string, k int) ([]domain.SearchHit, error) {
	if k < 1 {
		return nil, index.ErrInvalidK
	}

	if m.Count() == 0 {
		return nil, nil
	}

	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, err := m.index.Search(vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]domain.SearchHit, 0, len(raw))
	for _, sd := range raw {
		product, err := m.catalog.Resolve(sd.Slot)
		if err != nil {
			// The pair has diverged; fail loudly rather than guess.
			return nil, fmt.Errorf("failed to resolve slot %d: %w", sd.Slot, err)
		}
		hits = append(hits, domain.SearchHit{Product: product, Distance: sd.Distance})
	}
	return hits, nil
}

// Delete tombstones a product's vector so it no longer appears in search
// results. When the tombstoned fraction crosses the compaction threshold
// the index and projection are rebuilt from live slots, reusing stored
// vectors (no re-embedding).
func (m *IndexManager) Delete(ctx context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.catalog.Slot(productID)
	if !ok {
		return fmt.Errorf("product %s is not indexed", productID)
	}
	if err := m.index.Delete(slot); err != nil {
		return fmt.Errorf("failed to tombstone slot %d: %w", slot, err)
	}

	if m.deletedFractionLocked() > m.opts.CompactionThreshold {
		if err := m.compactLocked(); err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}
	}

	var report domain.IngestReport
	m.persistLocked(ctx, &report)
	return nil
}

// Rebuild discards the current index and projection and re-ingests the
// given products from scratch. Used when the snapshot is lost or the
// embedding text derivation changes.
func (m *IndexManager) Rebuild(ctx context.Context, products []domain.Product) (domain.IngestReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldIndex, oldCatalog := m.index, m.catalog
	m.index = index.New()
	m.catalog = catalog.New()

	report, err := m.ingestLocked(ctx, products)
	if err != nil {
		// Keep serving the previous state on a failed rebuild.
		m.index, m.catalog = oldIndex, oldCatalog
		return report, err
	}
	return report, nil
}

// Count returns the number of live (non-tombstoned) indexed products.
func (m *IndexManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Count() - m.index.DeletedCount()
}

// Close writes a final snapshot.
func (m *IndexManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index.Count() == 0 {
		return nil
	}

	var report domain.IngestReport
	m.persistLocked(ctx, &report)
	return report.PersistErr
}

// persistLocked snapshots the current pair. Failures are logged and
// recorded on the report; in-memory state is already updated and stays
// authoritative. Callers must hold the write lock.
func (m *IndexManager) persistLocked(ctx context.Context, report *domain.IngestReport) {
	saveCtx := ctx
	if m.opts.SnapshotTimeout > 0 {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(ctx, m.opts.SnapshotTimeout)
		defer cancel()
	}

	err := m.snapshots.Save(saveCtx, snapshot.State{
		Dimension: m.index.Dimension(),
		Vectors:   m.index.Vectors(),
		Deleted:   m.index.DeletedBitmap(),
		Products:  m.catalog.Products(),
	})
	if err != nil {
		report.PersistErr = err
		m.logger.Error("snapshot write failed, in-memory index remains authoritative", "error", err)
		return
	}
	report.Persisted = true
}

func (m *IndexManager) deletedFractionLocked() float64 {
	total := m.index.Count()
	if total == 0 {
		return 0
	}
	return float64(m.index.DeletedCount()) / float64(total)
}

// compactLocked rebuilds the pair from live slots. Stored vectors are
// reused, so no embedding calls happen here.
func (m *IndexManager) compactLocked() error {
	total := m.index.Count()
	liveVectors := make([][]float32, 0, total)
	liveProducts := make([]domain.Product, 0, total)

	for slot := 0; slot < total; slot++ {
		if m.index.Deleted(slot) {
			continue
		}
		vec, err := m.index.Vector(slot)
		if err != nil {
			return err
		}
		product, err := m.catalog.Resolve(slot)
		if err != nil {
			return err
		}
		liveVectors = append(liveVectors, vec)
		liveProducts = append(liveProducts, product)
	}

	idx, err := index.Restore(liveVectors, nil)
	if err != nil {
		return err
	}
	proj, err := catalog.Restore(liveProducts)
	if err != nil {
		return err
	}

	before := m.index.DeletedCount()
	m.index = idx
	m.catalog = proj
	m.logger.Info("index compacted", "reclaimed", before, "live", len(liveVectors))
	return nil
}
