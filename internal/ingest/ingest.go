// internal/ingest/ingest.go
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"small-projects-fetcher/internal/model"
	"small-projects-fetcher/internal/storage"
)

// Fetcher is the slice of the GitHub client the pipeline needs.
type Fetcher interface {
	SearchRepositories(ctx context.Context, strategy model.SearchStrategy) ([]model.Repository, error)
	ContributorCount(ctx context.Context, owner, name string) (int, error)
}

// Store is the persistence contract the pipeline writes through. The pgx
// implementation lives in internal/storage; tests substitute their own.
type Store interface {
	FindExistingURLs(ctx context.Context, urls []string) ([]string, error)
	InsertRepositories(ctx context.Context, repos []model.Repository) (int64, error)
	InsertRepository(ctx context.Context, repo model.Repository) error
	UpdateRepository(ctx context.Context, repo model.Repository) error
}

// Options tune one Ingestor. Zero batch sizes are replaced by defaults.
type Options struct {
	// UpdateExisting controls whether records already in storage get their
	// mutable fields refreshed each run, or are skipped to save time.
	UpdateExisting bool
	// EnrichContributors controls the per-new-record contributor lookup.
	EnrichContributors bool
	// EnrichConcurrency bounds concurrent contributor lookups.
	EnrichConcurrency int
	// CreateBatchSize is the chunk size for bulk inserts.
	CreateBatchSize int
	// UpdateBatchSize is the chunk size for the sequential update pass. It is
	// smaller than the create size because updates are issued per record.
	UpdateBatchSize int
	// BatchDelay is an optional pause between persistence chunks, protecting
	// pooled databases that throttle bursts of statements.
	BatchDelay time.Duration
}

const (
	defaultCreateBatchSize   = 50
	defaultUpdateBatchSize   = 10
	defaultEnrichConcurrency = 5
)

// Ingestor orchestrates one ingestion run: fetch all strategies, reconcile
// against storage, enrich new records, then persist.
type Ingestor struct {
	store      Store
	fetcher    Fetcher
	logger     *slog.Logger
	strategies []model.SearchStrategy
	opts       Options
}

// NewIngestor creates a new Ingestor instance.
func NewIngestor(store Store, fetcher Fetcher, logger *slog.Logger, strategies []model.SearchStrategy, opts Options) (*Ingestor, error) {
	if len(strategies) == 0 {
		return nil, errors.New("at least one search strategy is required")
	}
	if opts.CreateBatchSize <= 0 {
		opts.CreateBatchSize = defaultCreateBatchSize
	}
	if opts.UpdateBatchSize <= 0 {
		opts.UpdateBatchSize = defaultUpdateBatchSize
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = defaultEnrichConcurrency
	}

	return &Ingestor{
		store:      store,
		fetcher:    fetcher,
		logger:     logger,
		strategies: strategies,
		opts:       opts,
	}, nil
}

// Start runs the pipeline on a fixed interval until the context is done. An
// initial run happens immediately; failures are logged and the loop keeps
// going, since the next tick may succeed.
func (ing *Ingestor) Start(ctx context.Context, interval time.Duration) {
	ing.logger.Info("Starting ingestion loop", "interval", interval.String(), "strategies", len(ing.strategies))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ing.runAndLog(ctx)

	for {
		select {
		case <-ticker.C:
			ing.runAndLog(ctx)
		case <-ctx.Done():
			ing.logger.Info("Ingestion loop shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (ing *Ingestor) runAndLog(ctx context.Context) {
	summary, err := ing.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		ing.logger.Error("Scheduled ingestion run failed", "error", err)
		return
	}
	ing.logger.Info("Scheduled ingestion run finished",
		"total_fetched", summary.TotalFetched,
		"new", summary.NewCount,
		"updated", summary.UpdatedCount)
}

// Run executes one full ingestion pass and reports its counts. Fetch
// failures abort the run: a strategy silently dropping out could mask a
// systemic upstream problem, so the join is all-or-nothing. Persistence
// errors past the fetch stage are contained per record and only reflected in
// the counts.
func (ing *Ingestor) Run(ctx context.Context) (model.Summary, error) {
	start := time.Now()

	candidates, err := ing.fetchAll(ctx)
	if err != nil {
		return model.Summary{}, err
	}
	ing.logger.Info("Fetched candidate repositories", "count", len(candidates), "strategies", len(ing.strategies))

	newRepos, existingRepos, err := ing.partition(ctx, candidates)
	if err != nil {
		return model.Summary{}, err
	}
	ing.logger.Info("Reconciled against storage", "new", len(newRepos), "existing", len(existingRepos))

	if ing.opts.EnrichContributors {
		ing.enrich(ctx, newRepos)
	}

	created := ing.createAll(ctx, newRepos)

	updated := 0
	if ing.opts.UpdateExisting {
		updated = ing.updateAll(ctx, existingRepos)
	} else if len(existingRepos) > 0 {
		ing.logger.Info("Skipping updates for existing repositories", "count", len(existingRepos))
	}

	summary := model.Summary{
		TotalFetched: len(candidates),
		NewCount:     created,
		UpdatedCount: updated,
	}
	ing.logger.Info("Ingestion run complete",
		"total_fetched", summary.TotalFetched,
		"new", summary.NewCount,
		"updated", summary.UpdatedCount,
		"duration", time.Since(start).String())
	return summary, nil
}

// fetchAll runs every strategy concurrently and joins the results in
// strategy order.
func (ing *Ingestor) fetchAll(ctx context.Context) ([]model.Repository, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]model.Repository, len(ing.strategies))

	for i, strategy := range ing.strategies {
		g.Go(func() error {
			ing.logger.Info("Fetching strategy",
				"strategy", i+1,
				"min_stars", strategy.MinStars,
				"max_stars", strategy.MaxStars,
				"sort", strategy.Sort)
			repos, err := ing.fetcher.SearchRepositories(gctx, strategy)
			if err != nil {
				return err
			}
			results[i] = repos
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var candidates []model.Repository
	for _, repos := range results {
		candidates = append(candidates, repos...)
	}
	return candidates, nil
}

// partition splits candidates into new and already-stored records by looking
// their URLs up in storage. Every candidate lands in exactly one list;
// duplicate URLs within the batch are not collapsed here, the
// duplicate-tolerant insert handles them.
func (ing *Ingestor) partition(ctx context.Context, candidates []model.Repository) (newRepos, existingRepos []model.Repository, err error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	urls := make([]string, len(candidates))
	for i, repo := range candidates {
		urls[i] = repo.GitHubURL
	}

	existing, err := ing.store.FindExistingURLs(ctx, urls)
	if err != nil {
		return nil, nil, err
	}

	existingSet := make(map[string]struct{}, len(existing))
	for _, url := range existing {
		existingSet[url] = struct{}{}
	}

	for _, repo := range candidates {
		if _, ok := existingSet[repo.GitHubURL]; ok {
			existingRepos = append(existingRepos, repo)
		} else {
			newRepos = append(newRepos, repo)
		}
	}
	return newRepos, existingRepos, nil
}

// enrich fills in contributor counts for new records. Lookups run
// concurrently under a limit and never fail the run; a record whose lookup
// errors simply keeps a nil count.
func (ing *Ingestor) enrich(ctx context.Context, repos []model.Repository) {
	if len(repos) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(ing.opts.EnrichConcurrency)

	for i := range repos {
		g.Go(func() error {
			repo := &repos[i]
			count, err := ing.fetcher.ContributorCount(ctx, repo.Owner, repo.Name)
			if err != nil {
				ing.logger.Warn("Failed to fetch contributors",
					"owner", repo.Owner, "repo", repo.Name, "error", err)
				return nil
			}
			repo.Contributors = &count
			return nil
		})
	}
	_ = g.Wait()
}

// createAll inserts new records in duplicate-tolerant batches and returns
// the number of rows actually written. A failed batch degrades to per-record
// inserts so one bad statement cannot lose the rest of the batch.
func (ing *Ingestor) createAll(ctx context.Context, repos []model.Repository) int {
	if len(repos) == 0 {
		ing.logger.Info("No new repositories to create")
		return 0
	}

	var created int64
	batches := chunk(repos, ing.opts.CreateBatchSize)
	for i, batch := range batches {
		n, err := ing.store.InsertRepositories(ctx, batch)
		if err != nil {
			ing.logger.Error("Batch insert failed, retrying records individually",
				"batch", i+1, "size", len(batch), "error", err)
			n = ing.insertIndividually(ctx, batch)
		}
		created += n

		ing.logger.Info("Created batch", "batch", i+1, "batches", len(batches), "created_total", created)
		ing.pause(ctx, i, len(batches))
	}
	return int(created)
}

// insertIndividually is the fallback path for a failed batch. Duplicates are
// expected and skipped quietly; anything else is logged and skipped.
func (ing *Ingestor) insertIndividually(ctx context.Context, repos []model.Repository) int64 {
	var created int64
	for _, repo := range repos {
		err := ing.store.InsertRepository(ctx, repo)
		switch {
		case err == nil:
			created++
		case errors.Is(err, storage.ErrDuplicate):
			ing.logger.Debug("Skipped duplicate repository", "url", repo.GitHubURL)
		default:
			ing.logger.Error("Failed to create repository", "url", repo.GitHubURL, "error", err)
		}
	}
	return created
}

// updateAll refreshes existing records' mutable fields, best effort. Updates
// are issued one record at a time because a bulk update cannot express
// "match url, set fields" in a single statement; batching only paces them
// against the pool's connection ceiling.
func (ing *Ingestor) updateAll(ctx context.Context, repos []model.Repository) int {
	if len(repos) == 0 {
		return 0
	}

	updated := 0
	batches := chunk(repos, ing.opts.UpdateBatchSize)
	for i, batch := range batches {
		for _, repo := range batch {
			if err := ing.store.UpdateRepository(ctx, repo); err != nil {
				ing.logger.Error("Failed to update repository", "url", repo.GitHubURL, "error", err)
				continue
			}
			updated++
		}

		ing.logger.Debug("Updated batch", "batch", i+1, "batches", len(batches), "updated_total", updated)
		ing.pause(ctx, i, len(batches))
	}
	ing.logger.Info("Updated existing repositories", "updated", updated, "total", len(repos))
	return updated
}

// pause sleeps between batches, except after the last one.
func (ing *Ingestor) pause(ctx context.Context, index, total int) {
	if ing.opts.BatchDelay <= 0 || index == total-1 {
		return
	}
	select {
	case <-time.After(ing.opts.BatchDelay):
	case <-ctx.Done():
	}
}

func chunk(repos []model.Repository, size int) [][]model.Repository {
	var batches [][]model.Repository
	for start := 0; start < len(repos); start += size {
		end := start + size
		if end > len(repos) {
			end = len(repos)
		}
		batches = append(batches, repos[start:end])
	}
	return batches
}
