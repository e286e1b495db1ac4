package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/alexisbeaulieu97/tuner/internal/app/decision"
	"github.com/alexisbeaulieu97/tuner/internal/config"
	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/catalog"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/clustermodel"
	infraconfig "github.com/alexisbeaulieu97/tuner/internal/infrastructure/config"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/metrics"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/store/memory"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/store/sqlstore"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
	"github.com/alexisbeaulieu97/tuner/internal/strategies"
)

// AppContext bundles long-lived services created at startup.
type AppContext struct {
	Config  config.Config
	Logger  *logging.Logger
	Store   ports.Store
	Catalog *catalog.Registry
	Events  *events.LoggingPublisher
	Metrics *metrics.Collector
	Runner  *decision.Runner
}

// newAppContext loads configuration and wires the engine. Startup messages
// are buffered until the configured logger exists.
func newAppContext(ctx context.Context, flags *rootFlags, logOut io.Writer) (*AppContext, error) {
	startup := logging.NewBuffer(64)
	early := startup.Logger()

	res, err := infraconfig.Loader{Path: flags.configPath}.Load()
	if err != nil {
		return nil, err
	}
	cfg := res.Config
	if flags.verbose {
		cfg.Log.Level = "debug"
	}
	if res.File != "" {
		early.Info(ctx, "configuration loaded", "file", res.File)
	} else {
		early.Debug(ctx, "no configuration file found, using defaults")
	}

	log, err := logging.New(logging.Options{
		Writer:    logOut,
		Level:     cfg.Log.Level,
		Format:    logging.Format(cfg.Log.Format),
		Component: "tuner",
	})
	if err != nil {
		return nil, err
	}

	reg := catalog.NewRegistry()
	if err := strategies.RegisterAll(reg); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cfg.Strategies))
	for id := range cfg.Strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sc := cfg.Strategies[id]
		if err := reg.Configure(id, catalog.Override{Priority: sc.Priority, Enabled: sc.Enabled, Parameters: sc.Parameters}); err != nil {
			return nil, fmt.Errorf("strategies.%s: %w", id, err)
		}
		early.Debug(ctx, "strategy override applied", "strategy_id", id)
	}

	var models ports.ClusterModelProvider
	if cfg.Cluster.SnapshotPath != "" {
		models = clustermodel.NewFileProvider(cfg.Cluster.SnapshotPath, log)
	} else {
		empty, err := cluster.NewModel(cluster.Snapshot{})
		if err != nil {
			return nil, err
		}
		models = clustermodel.NewStaticProvider(empty)
		early.Warn(ctx, "no cluster snapshot configured, strategies requiring a data model will not be selectable")
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	early.Debug(ctx, "store opened", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	selector, err := decision.NewSelector(reg, models,
		decision.WithStrictGoals(cfg.Selector.StrictGoals),
		decision.WithSelectorLogger(log),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	types, err := actionTypes(cfg.ActionTypes)
	if err != nil {
		store.Close()
		return nil, err
	}

	publisher := events.NewLoggingPublisher(log)
	collector := metrics.NewCollector()
	runner := decision.NewRunner(store, selector, decision.NewPlanner(store, decision.WithActionTypes(types)),
		decision.WithLogger(log),
		decision.WithEvents(publisher),
		decision.WithMetrics(collector),
		decision.WithParallelism(cfg.Runner.Parallelism),
	)

	startup.Flush(log)

	return &AppContext{
		Config:  cfg,
		Logger:  log,
		Store:   store,
		Catalog: reg,
		Events:  publisher,
		Metrics: collector,
		Runner:  runner,
	}, nil
}

// actionTypes extends the built-in action types with declared ones, in name
// order.
func actionTypes(declared map[string]config.ActionTypeConfig) (*solution.ActionTypes, error) {
	types := solution.DefaultActionTypes()
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		decl := declared[name]
		params := make([]solution.ParamSpec, 0, len(decl.Params))
		for _, p := range decl.Params {
			params = append(params, solution.ParamSpec{
				Name:     p.Name,
				Kind:     solution.ParamKind(p.Kind),
				Required: p.Required,
				OneOf:    p.OneOf,
				Min:      p.Min,
			})
		}
		if err := types.Register(solution.ActionType{Name: name, Description: decl.Description, Params: params}); err != nil {
			return nil, fmt.Errorf("action_types.%s: %w", name, err)
		}
	}
	return types, nil
}

func openStore(cfg config.StoreConfig) (ports.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlstore.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Close releases the store.
func (a *AppContext) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
