package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/roofsignal/discrepancy-cli/internal/dataset"
	"github.com/roofsignal/discrepancy-cli/internal/driver"
	"github.com/roofsignal/discrepancy-cli/internal/errlog"
	"github.com/roofsignal/discrepancy-cli/internal/inference"
	"github.com/roofsignal/discrepancy-cli/internal/pricebook"
	"github.com/roofsignal/discrepancy-cli/internal/runstore"
	"github.com/roofsignal/discrepancy-cli/internal/taxonomy"
	"github.com/roofsignal/discrepancy-cli/pkg/anthropic"
)

// evalEnv bundles the shared state behind the eval and infer commands.
type evalEnv struct {
	driver    *driver.Driver
	taxonomy  *taxonomy.Taxonomy
	retriever *pricebook.PostgresRetriever
	runs      *runstore.Store
	errorLog  *errlog.Log
}

// initEval validates config for the given mode and wires the evaluation
// environment together.
func initEval(ctx context.Context, mode string) (*evalEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	store, err := dataset.Open(cfg.Dataset.Path)
	if err != nil {
		return nil, err
	}

	tax, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return nil, err
	}

	var retriever *pricebook.PostgresRetriever
	if cfg.Pricebook.DatabaseURL != "" {
		retriever, err = pricebook.NewPostgres(ctx, cfg.Pricebook.DatabaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		zap.L().Warn("no pricebook database configured, line-item enrichment disabled")
	}

	engineCfg := inference.Config{
		ModelID:          cfg.Anthropic.Model,
		Temperature:      cfg.Anthropic.Temperature,
		MaxTokens:        cfg.Anthropic.MaxTokens,
		SilenceThreshold: cfg.Eval.SilenceThresholdSecs,
		RetrievalK:       cfg.Pricebook.TopK,
		ScoreFloor:       cfg.Pricebook.ScoreFloor,
	}
	var engineRetriever pricebook.Retriever
	if retriever != nil {
		engineRetriever = retriever
	}
	engine := inference.NewEngine(anthropic.NewClient(cfg.Anthropic.Key), engineRetriever, tax, engineCfg)

	runs, err := runstore.Open(cfg.RunStore.Path)
	if err != nil {
		if retriever != nil {
			retriever.Close()
		}
		return nil, err
	}
	if err := runs.Migrate(ctx); err != nil {
		runs.Close()
		if retriever != nil {
			retriever.Close()
		}
		return nil, err
	}

	errorLog := errlog.New(cfg.ErrorLog.Path)

	return &evalEnv{
		driver: &driver.Driver{
			Store:    store,
			Engine:   engine,
			ErrorLog: errorLog,
			Runs:     runs,
			Meta: runstore.Meta{
				ModelID:         cfg.Anthropic.Model,
				Temperature:     cfg.Anthropic.Temperature,
				TaxonomyVersion: tax.Version(),
				PromptVersion:   inference.PromptVersion,
			},
		},
		taxonomy:  tax,
		retriever: retriever,
		runs:      runs,
		errorLog:  errorLog,
	}, nil
}

// Close releases the environment's connections.
func (e *evalEnv) Close() {
	if e.runs != nil {
		e.runs.Close()
	}
	if e.retriever != nil {
		e.retriever.Close()
	}
}
