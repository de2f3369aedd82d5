package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/classify"
	"github.com/clinformatics/rxmeta/internal/concept"
	"github.com/clinformatics/rxmeta/internal/fetch"
	"github.com/clinformatics/rxmeta/internal/i2b2"
	"github.com/clinformatics/rxmeta/internal/ndc"
	"github.com/clinformatics/rxmeta/internal/observability/metrics"
	"github.com/clinformatics/rxmeta/internal/rxnav"
	"github.com/clinformatics/rxmeta/internal/tree"
	"github.com/clinformatics/rxmeta/pkg/circuitbreaker"
	"github.com/clinformatics/rxmeta/pkg/workerpool"
)

// Pipeline runs one metadata build.
type Pipeline struct {
	settings  Settings
	logger    *zap.Logger
	metrics   *metrics.Metrics
	progress  *Progress
	transport fetch.Transport
	tracer    trace.Tracer
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

// WithTransport replaces the HTTP transport; tests script responses here.
func WithTransport(t fetch.Transport) Option {
	return func(p *Pipeline) { p.transport = t }
}

// New creates a Pipeline. m and progress may be nil.
func New(settings Settings, logger *zap.Logger, m *metrics.Metrics, progress *Progress, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if progress == nil {
		progress = &Progress{}
	}
	p := &Pipeline{
		settings:  settings,
		logger:    logger,
		metrics:   m,
		progress:  progress,
		transport: fetch.NewHTTPTransport(60 * time.Second),
		tracer:    otel.Tracer("rxmeta-pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result summarizes a completed build.
type Result struct {
	RunID        string
	Concepts     int
	SeedsSkipped int64
	TieBreaks    int
	Rows         int64
	OutputPath   string
	Duration     time.Duration
}

// Run executes the build: harvest the identifier universe, reconcile
// concepts, load taxonomies, assemble the hierarchy and serialize it. The
// output file is only opened after the tree has passed validation, so a
// structurally invalid build leaves no partial output behind.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	p.progress.begin(runID)
	logger := p.logger.With(zap.String("run_id", runID))

	ctx, span := p.tracer.Start(ctx, "pipeline_run",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	cache, err := fetch.OpenFileCache(p.settings.CachePath, logger)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("rxnav"), logger)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(cache, p.transport, breaker, fetch.DefaultConfig(), p.metrics, logger)
	client := rxnav.NewClient(fetcher, p.settings.BaseURL, logger)

	seeds, err := p.universe(ctx, client, logger)
	if err != nil {
		return nil, err
	}

	registry, skipped, err := p.harvest(ctx, client, seeds, logger)
	if err != nil {
		return nil, err
	}

	linker, err := p.loadTaxonomies(ctx, client, logger)
	if err != nil {
		return nil, err
	}

	root, err := p.assemble(ctx, client, registry, linker, logger)
	if err != nil {
		return nil, err
	}

	rows, err := p.serialize(ctx, root, logger)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:        runID,
		Concepts:     registry.Len(),
		SeedsSkipped: skipped,
		TieBreaks:    registry.TieBreaks(),
		Rows:         rows,
		OutputPath:   p.settings.OutputPath(),
		Duration:     time.Since(start),
	}
	logger.Info("build complete",
		zap.Int("concepts", result.Concepts),
		zap.Int64("seeds_skipped", result.SeedsSkipped),
		zap.Int("merge_tiebreaks", result.TieBreaks),
		zap.Int64("rows", result.Rows),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// universe collects every RXCUI the service has ever known, excluding
// non-RxNorm identifiers.
func (p *Pipeline) universe(ctx context.Context, client *rxnav.Client, logger *zap.Logger) ([]int, error) {
	p.progress.SetPhase("universe")
	ctx, span := p.tracer.Start(ctx, "universe")
	defer span.End()

	seen := make(map[int]bool)
	for _, status := range []string{rxnav.StatusActive, rxnav.StatusRetired, rxnav.StatusNeverActive} {
		rxcuis, err := client.HistoricalStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("identifier universe for status %s: %w", status, err)
		}
		for _, rxcui := range rxcuis {
			seen[rxcui] = true
		}
		logger.Info("status universe collected",
			zap.String("status", status),
			zap.Int("identifiers", len(rxcuis)))
	}

	seeds := make([]int, 0, len(seen))
	for rxcui := range seen {
		seeds = append(seeds, rxcui)
	}
	sort.Ints(seeds)
	p.progress.addSeeds(len(seeds))
	span.SetAttributes(attribute.Int("seeds", len(seeds)))
	return seeds, nil
}

// harvest resolves every seed over the worker pool and registers the results.
// Unknown and unavailable seeds are skipped with a warning; any other error
// fails the run once the pool has drained.
func (p *Pipeline) harvest(ctx context.Context, client *rxnav.Client, seeds []int, logger *zap.Logger) (*concept.Registry, int64, error) {
	p.progress.SetPhase("harvest")
	ctx, span := p.tracer.Start(ctx, "harvest",
		trace.WithAttributes(attribute.Int("seeds", len(seeds))))
	defer span.End()

	registry := concept.NewRegistry(logger, p.metrics)
	resolver := concept.NewResolver(client, logger, p.metrics)

	var (
		skipped  int64
		fatalMu  sync.Mutex
		fatalErr error
	)
	onError := func(taskID string, err error) {
		if errors.Is(err, concept.ErrUnknownConcept) || errors.Is(err, fetch.ErrRemoteUnavailable) {
			atomic.AddInt64(&skipped, 1)
			if p.metrics != nil {
				p.metrics.ConceptsSkipped.Inc()
			}
			p.progress.conceptSkipped()
			logger.Warn("seed skipped",
				zap.String("seed", taskID),
				zap.Error(err))
			return
		}
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = fmt.Errorf("seed %s: %w", taskID, err)
		}
		fatalMu.Unlock()
	}

	pool, err := workerpool.New(workerpool.Config{
		Workers:      p.settings.Workers,
		DrainTimeout: p.settings.DrainTimeout,
	}, onError, logger)
	if err != nil {
		return nil, 0, err
	}
	pool.Start()

	for _, seed := range seeds {
		seed := seed
		task := &workerpool.Task{
			ID: fmt.Sprintf("rxcui-%d", seed),
			Run: func(taskCtx context.Context) error {
				defer p.progress.seedDone()
				c, err := resolver.Resolve(taskCtx, seed)
				if err != nil {
					return err
				}
				registry.Register(c)
				p.progress.conceptResolved()
				return nil
			},
		}
		if err := pool.Submit(ctx, task); err != nil {
			pool.Stop()
			return nil, 0, fmt.Errorf("submit seed %d: %w", seed, err)
		}
		if p.metrics != nil {
			p.metrics.HarvestQueueDepth.Set(float64(pool.Stats().QueueDepth))
		}
	}
	if err := pool.Drain(); err != nil {
		return nil, 0, err
	}
	if p.metrics != nil {
		p.metrics.HarvestQueueDepth.Set(0)
	}

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatalErr != nil {
		span.RecordError(fatalErr)
		return nil, 0, fatalErr
	}

	logger.Info("harvest complete",
		zap.Int("seeds", len(seeds)),
		zap.Int("concepts", registry.Len()),
		zap.Int64("skipped", atomic.LoadInt64(&skipped)),
		zap.Int("merge_tiebreaks", registry.TieBreaks()))
	return registry, atomic.LoadInt64(&skipped), nil
}

// loadTaxonomies loads the primary VA taxonomy and, when configured, the
// legacy fallback. The primary is required; a failed legacy load degrades to
// primary-plus-unclassified with a warning.
func (p *Pipeline) loadTaxonomies(ctx context.Context, client *rxnav.Client, logger *zap.Logger) (*classify.Linker, error) {
	p.progress.SetPhase("classify")
	ctx, span := p.tracer.Start(ctx, "load_taxonomies")
	defer span.End()

	primary, err := classify.LoadTaxonomy(ctx, client, "VA000", "VA Drug Classes", classify.SourcePrimary, logger)
	if err != nil {
		return nil, err
	}

	var legacy *classify.Taxonomy
	if p.settings.LegacyRootID != "" {
		legacy, err = classify.LoadTaxonomy(ctx, client, p.settings.LegacyRootID, "NDF-RT Drug Classes", classify.SourceLegacy, logger)
		if err != nil {
			logger.Warn("legacy taxonomy unavailable, continuing without fallback",
				zap.String("root", p.settings.LegacyRootID),
				zap.Error(err))
			legacy = nil
		}
	}
	return classify.NewLinker(primary, legacy, logger), nil
}

// assemble builds and validates the full hierarchy. Integrity violations are
// fatal here, before the output file exists.
func (p *Pipeline) assemble(ctx context.Context, client *rxnav.Client, registry *concept.Registry, linker *classify.Linker, logger *zap.Logger) (*tree.Node, error) {
	p.progress.SetPhase("assemble")
	ctx, span := p.tracer.Start(ctx, "assemble")
	defer span.End()

	var names *ndc.NameTable
	if p.settings.NDCNamesFile != "" {
		var err error
		names, err = ndc.LoadNameTable(p.settings.NDCNamesFile, logger)
		if err != nil {
			return nil, err
		}
	}
	expander := ndc.NewExpander(client, names, logger, p.metrics)

	cfg := tree.DefaultConfig(p.settings.Prefix)
	if p.settings.PrefixLevel > 0 {
		cfg.PrefixLevel = p.settings.PrefixLevel
	}
	assembler := tree.NewAssembler(cfg, logger)

	b := newBuilder(p.settings, assembler, registry, linker, expander, client, logger)
	root, err := b.build(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return root, nil
}

// serialize streams the tree into the output file, appends modifier rows, and
// optionally bulk-loads everything into Postgres.
func (p *Pipeline) serialize(ctx context.Context, root *tree.Node, logger *zap.Logger) (int64, error) {
	p.progress.SetPhase("serialize")
	ctx, span := p.tracer.Start(ctx, "serialize")
	defer span.End()

	writer, err := i2b2.NewWriter(p.settings.OutputPath(), p.settings.Append, logger, p.metrics)
	if err != nil {
		return 0, err
	}

	var loadRows []i2b2.Row
	collect := p.settings.DatabaseURL != ""
	emit := func(r i2b2.Row) error {
		if err := writer.WriteRow(r); err != nil {
			return err
		}
		if collect {
			loadRows = append(loadRows, r)
		}
		return nil
	}

	opts := i2b2.SerializeOptions{Provenance: p.settings.AddProvenance}
	if err := i2b2.Serialize(root, opts, emit); err != nil {
		writer.Close()
		return 0, err
	}

	if p.settings.ModifiersFile != "" && !p.settings.NoModifiers {
		modifiers, err := i2b2.LoadModifiers(p.settings.ModifiersFile, logger)
		if err != nil {
			writer.Close()
			return 0, err
		}
		for _, r := range modifiers {
			if err := emit(r); err != nil {
				writer.Close()
				return 0, err
			}
		}
	}

	rows := writer.Rows()
	if err := writer.Close(); err != nil {
		return 0, err
	}
	p.progress.rowsAdded(rows)

	if collect {
		if err := p.loadDatabase(ctx, loadRows, logger); err != nil {
			return 0, err
		}
	}
	return rows, nil
}

func (p *Pipeline) loadDatabase(ctx context.Context, rows []i2b2.Row, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, p.settings.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to metadata database: %w", err)
	}
	defer pool.Close()

	loader := i2b2.NewTableLoader(pool, i2b2.LoaderConfig{Table: p.settings.DatabaseTable}, logger)
	if _, err := loader.Load(ctx, rows); err != nil {
		return err
	}
	return nil
}
