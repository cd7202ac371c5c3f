package main

import (
	"fmt"

	"github.com/normanking/netbot/internal/composer"
	"github.com/normanking/netbot/internal/config"
	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/orchestrator"
	"github.com/normanking/netbot/internal/persona"
	"github.com/normanking/netbot/internal/retrieval"
	"github.com/normanking/netbot/internal/router"
	"github.com/normanking/netbot/internal/server"
	"github.com/normanking/netbot/internal/tools"
)

// app holds every wired component of a running netbot.
type app struct {
	backends *llm.Backends
	personas *persona.Store
	registry *tools.Registry
	executor *tools.Executor
	router   *router.Router
	db       *data.Store
	pipeline *retrieval.Pipeline
	cache    *retrieval.IndexCache
	helper   *retrieval.Helper
	composer *composer.Composer
	service  *orchestrator.Service
}

// loadPersonas reads the catalog override or the embedded catalog.
func loadPersonas(cfg *config.Config) (*persona.Store, error) {
	catalog, err := persona.LoadCatalog(cfg.Personas.CatalogPath)
	if err != nil {
		return nil, err
	}
	return persona.NewStore(catalog)
}

// openData opens the database and the ingestion pipeline only; used by the
// commands that never generate answers.
func openData(cfg *config.Config) (*data.Store, *retrieval.Pipeline, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	db, err := data.NewDB(cfg.Data.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	backends, err := llm.NewBackends(cfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create LLM backends: %w", err)
	}

	_, embedCfg, _ := cfg.LLM.ResolveRole(cfg.LLM.Roles.Embedder)
	pipeline := retrieval.NewPipeline(db, backends.Embedder, cfg.Retrieval.DataDir,
		retrieval.WithBatchSize(cfg.Retrieval.EmbedBatchSize),
		retrieval.WithEmbedModel(embedCfg.Model),
		retrieval.WithPipelineLogger(log.WithComponent("ingest")),
	)
	return db, pipeline, nil
}

// buildApp wires the full conversation stack. The returned cleanup closes
// the database after pending turn records are written.
func buildApp(cfg *config.Config) (*app, func(), error) {
	a := &app{}
	var err error

	if a.personas, err = loadPersonas(cfg); err != nil {
		return nil, nil, err
	}
	log.Debug("Loaded %d personas", len(a.personas.All()))

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	if a.db, err = data.NewDB(cfg.Data.DBPath); err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	fail := func(err error) (*app, func(), error) {
		a.db.Close()
		return nil, nil, err
	}

	if a.backends, err = llm.NewBackends(cfg); err != nil {
		return fail(fmt.Errorf("failed to create LLM backends: %w", err))
	}

	// Retrieval
	_, embedCfg, _ := cfg.LLM.ResolveRole(cfg.LLM.Roles.Embedder)
	a.pipeline = retrieval.NewPipeline(a.db, a.backends.Embedder, cfg.Retrieval.DataDir,
		retrieval.WithBatchSize(cfg.Retrieval.EmbedBatchSize),
		retrieval.WithEmbedModel(embedCfg.Model),
		retrieval.WithPipelineLogger(log.WithComponent("ingest")),
	)
	if a.cache, err = retrieval.NewIndexCache(a.pipeline, cfg.Retrieval.MaxCachedIndices); err != nil {
		return fail(err)
	}
	a.helper = retrieval.NewHelper(a.personas, a.cache, a.backends.Embedder, a.pipeline,
		retrieval.WithDecider(a.backends.Decider, ""),
		retrieval.WithK(cfg.Retrieval.K),
		retrieval.WithHelperLogger(log.WithComponent("retrieval")),
	)

	// Capabilities
	a.registry = tools.NewRegistry(a.personas)
	diagnostics := tools.NewDiagnostics(tools.ExecRunner{})
	diagnostics.PingCount = cfg.Tools.PingCount
	diagnostics.MaxHops = cfg.Tools.TracerouteMaxHops
	builtins := tools.Builtins{
		Diagnostics: diagnostics,
		SpeedTest:   tools.NewSpeedTest(tools.NewOoklaTester()),
	}
	if err := builtins.Bind(a.registry); err != nil {
		return fail(err)
	}
	for _, p := range a.personas.All() {
		agent := retrieval.NewAgent(a.helper, p)
		if len(agent.Capabilities()) == 0 {
			continue
		}
		if err := a.registry.BindInstance(p.Key, agent); err != nil {
			return fail(err)
		}
	}
	if err := a.registry.Validate(); err != nil {
		return fail(fmt.Errorf("persona catalog has unbound capabilities: %w", err))
	}
	a.executor = tools.NewExecutor(a.registry,
		tools.WithTimeout(cfg.Tools.Timeout),
		tools.WithRetry(cfg.Tools.Retry.MaxAttempts, cfg.Tools.Retry.Backoff),
		tools.WithLogger(log.WithComponent("executor")),
	)

	// Routing
	strategy, err := newStrategy(cfg, a.backends, a.personas)
	if err != nil {
		return fail(err)
	}
	a.router, err = router.New(a.personas, strategy,
		router.WithDefaultPersona(cfg.Router.DefaultPersona),
		router.WithTargetResolver(router.NewToolSelector(a.backends.Decider, "")),
		router.WithLogger(log.WithComponent("router")),
	)
	if err != nil {
		return fail(err)
	}

	// Generation
	a.composer = composer.New(a.backends.Generator,
		composer.WithStreaming(cfg.Composer.Stream),
		composer.WithHistoryTail(cfg.Composer.HistoryTail),
		composer.WithLanguage(cfg.Composer.Language),
		composer.WithMaxTokens(cfg.Composer.MaxTokens),
		composer.WithTemperature(cfg.Composer.Temperature),
		composer.WithSinglePrompt(cfg.Composer.SinglePrompt),
		composer.WithLogger(log.WithComponent("composer")),
	)

	a.service, err = orchestrator.New(orchestrator.Config{
		Store:          a.personas,
		Router:         a.router,
		Executor:       a.executor,
		Composer:       a.composer,
		Turns:          a.db,
		History:        a.db,
		HistoryTurns:   (cfg.Composer.HistoryTail + 1) / 2,
		DefaultPersona: cfg.Router.DefaultPersona,
		Logger:         log.WithComponent("orchestrator"),
	})
	if err != nil {
		return fail(err)
	}

	cleanup := func() {
		a.service.Wait()
		if err := a.db.Close(); err != nil {
			log.Warn("Failed to close database: %v", err)
		}
	}
	return a, cleanup, nil
}

func newStrategy(cfg *config.Config, b *llm.Backends, store *persona.Store) (router.Strategy, error) {
	switch cfg.Router.Strategy {
	case "classifier":
		tc, ok := llm.AsToolCalling(b.Classifier)
		if !ok {
			return nil, fmt.Errorf("router strategy classifier: provider %s does not support tool calling", b.Classifier.Name())
		}
		return router.NewClassifierStrategy(tc, store,
			router.WithKeywordThreshold(cfg.Router.KeywordThreshold),
			router.WithClassifierLogger(log.WithComponent("classifier")),
		), nil
	default:
		return router.NewLLMStrategy(b.Router, store, ""), nil
	}
}

// statsSources lists the distinct metered backends.
func (a *app) statsSources() []server.StatsSource {
	seen := make(map[any]bool)
	var sources []server.StatsSource
	for _, p := range []any{a.backends.Generator, a.backends.Router, a.backends.Classifier, a.backends.Decider, a.backends.Embedder} {
		s, ok := p.(server.StatsSource)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		sources = append(sources, s)
	}
	return sources
}
