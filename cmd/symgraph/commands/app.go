package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/symgraph/pkg/config"
	"github.com/openfroyo/symgraph/pkg/engine"
	"github.com/openfroyo/symgraph/pkg/loader"
	"github.com/openfroyo/symgraph/pkg/telemetry"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// app carries what every command needs: the loaded configuration and the
// telemetry bundle built from it.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if err := tel.Metrics.StartMetricsServer(cmd.Context(), tel.Logger); err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	return &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("cli"),
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("telemetry shutdown failed")
	}
}

// loadModel reads a graph document (YAML, CUE file or CUE directory) and
// builds it.
func (a *app) loadModel(ctx context.Context, path string) (*loader.Model, error) {
	if path == "" {
		return nil, fmt.Errorf("a graph document is required (--graph)")
	}
	doc, err := config.LoadGraphFile(ctx, path)
	if err != nil {
		return nil, err
	}
	builder := loader.NewBuilder(nil, a.tel.Logger.Zerolog())
	model, err := builder.Build(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph from %s: %w", path, err)
	}
	a.logger.WithGraph(model.Graph.Name(), model.Graph.ID()).
		WithField("nodes", model.Graph.Len()).
		Debug("graph built")
	return model, nil
}

// newExecutor creates an executor sharing one plan cache, sized from the
// engine configuration, whose live counter reads pool.
func (a *app) newExecutor(pool *tensor.Pool) (*engine.Executor, error) {
	store := engine.NewUnboundedPlanStore()
	if size := a.cfg.Engine.PlanCacheSize; size > 0 {
		lru, err := engine.NewLRUPlanStore(size)
		if err != nil {
			return nil, err
		}
		store = lru
	}
	return engine.NewExecutor(
		engine.WithTelemetry(a.tel),
		engine.WithPlanCache(engine.NewPlanCache(store)),
		engine.WithLiveCounter(pool.NumLive),
	), nil
}

// loadFeeds reads feed documents and runs their scripts.
func (a *app) loadFeeds(ctx context.Context, paths []string) ([]*config.FeedDocument, error) {
	evaluator := config.NewStarlarkEvaluator(a.cfg.Engine.ScriptTimeout)
	docs := make([]*config.FeedDocument, len(paths))
	for i, path := range paths {
		doc, err := config.LoadFeedYAML(path)
		if err != nil {
			return nil, err
		}
		if err := evaluator.ExpandFeeds(ctx, doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		docs[i] = doc
	}
	return docs, nil
}
