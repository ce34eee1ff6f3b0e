// Package inference runs the LLM deviation audit for one case: compact
// the transcripts, prompt the model against the taxonomy, validate the
// structured output, and enrich line-item predictions from the pricebook.
package inference

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roofsignal/discrepancy-cli/internal/model"
	"github.com/roofsignal/discrepancy-cli/internal/pricebook"
	"github.com/roofsignal/discrepancy-cli/internal/resilience"
	"github.com/roofsignal/discrepancy-cli/internal/taxonomy"
	"github.com/roofsignal/discrepancy-cli/internal/transcript"
	"github.com/roofsignal/discrepancy-cli/pkg/anthropic"
)

// Config tunes the inference engine.
type Config struct {
	ModelID           string
	Temperature       float64
	MaxTokens         int64
	SilenceThreshold  float64 // seconds, passed to the transcript compactor
	RetrievalK        int
	ScoreFloor        float64
	EnrichConcurrency int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		ModelID:           "claude-sonnet-4-5-20250929",
		Temperature:       0.2,
		MaxTokens:         4096,
		SilenceThreshold:  transcript.DefaultSilenceThreshold,
		RetrievalK:        5,
		ScoreFloor:        0.3,
		EnrichConcurrency: 4,
	}
}

// Prediction is the engine's output for one case.
type Prediction struct {
	Deviations  []model.Deviation
	ModelID     string
	Temperature float64
	Usage       anthropic.TokenUsage
	Warnings    []string
}

// Engine performs deviation inference. Safe for concurrent Infer calls.
type Engine struct {
	llm       anthropic.Client
	retriever pricebook.Retriever
	tax       *taxonomy.Taxonomy
	compactor *transcript.Compactor
	cfg       Config

	// system blocks are built once per engine so every case in a run hits
	// the same prompt cache entry.
	system []anthropic.SystemBlock
	retry  resilience.RetryConfig
}

// NewEngine builds an engine. retriever may be nil, in which case
// line-item enrichment is skipped entirely.
func NewEngine(llm anthropic.Client, retriever pricebook.Retriever, tax *taxonomy.Taxonomy, cfg Config) *Engine {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultConfig().ModelID
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = DefaultConfig().RetrievalK
	}
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = DefaultConfig().EnrichConcurrency
	}

	return &Engine{
		llm:       llm,
		retriever: retriever,
		tax:       tax,
		compactor: transcript.NewCompactor(cfg.SilenceThreshold),
		cfg:       cfg,
		system:    anthropic.BuildCachedSystemBlocks(BuildSystemText(tax)),
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Infer audits one case and returns its predicted deviations.
func (e *Engine) Infer(ctx context.Context, input model.CaseInput) (*Prediction, error) {
	log := zap.L().With(zap.String("case_id", input.CaseID))

	transcripts := make([]string, 0, len(input.Conversations))
	for i, conv := range input.Conversations {
		turns, err := e.compactor.Compact(conv)
		if err != nil {
			return nil, eris.Wrapf(err, "inference: case %s conversation %d", input.CaseID, i)
		}
		transcripts = append(transcripts, transcript.Format(turns))
	}

	userMsg, err := BuildUserMessage(input, transcripts)
	if err != nil {
		return nil, eris.Wrapf(err, "inference: case %s build prompt", input.CaseID)
	}

	pred := &Prediction{ModelID: e.cfg.ModelID, Temperature: e.cfg.Temperature}

	raw, err := e.converse(ctx, userMsg, pred)
	if err != nil {
		return nil, err
	}

	pred.Deviations = e.validate(raw, len(input.Conversations), pred, log)

	if err := e.enrich(ctx, pred, log); err != nil {
		return nil, err
	}

	pred.Usage.LogCost(e.cfg.ModelID, "inference")
	return pred, nil
}

// converse sends the audit request, and on a schema-invalid reply sends
// one corrective re-prompt carrying the bad output back to the model.
func (e *Engine) converse(ctx context.Context, userMsg string, pred *Prediction) (rawOutput, error) {
	messages := []anthropic.Message{{Role: "user", Content: userMsg}}

	resp, err := e.createWithRetry(ctx, messages)
	if err != nil {
		return rawOutput{}, eris.Wrap(err, "inference: create message")
	}
	pred.Usage.Add(resp.Usage)

	out, parseErr := parseResponse(resp.Text())
	if parseErr == nil {
		return out, nil
	}

	pred.Warnings = append(pred.Warnings, "schema-invalid response, re-prompted")
	messages = append(messages,
		anthropic.Message{Role: "assistant", Content: resp.Text()},
		anthropic.Message{Role: "user", Content: correctionMessage},
	)

	resp, err = e.createWithRetry(ctx, messages)
	if err != nil {
		return rawOutput{}, eris.Wrap(err, "inference: corrective re-prompt")
	}
	pred.Usage.Add(resp.Usage)

	out, parseErr = parseResponse(resp.Text())
	if parseErr != nil {
		return rawOutput{}, parseErr
	}
	return out, nil
}

func (e *Engine) createWithRetry(ctx context.Context, messages []anthropic.Message) (*anthropic.MessageResponse, error) {
	temp := e.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       e.cfg.ModelID,
		MaxTokens:   e.cfg.MaxTokens,
		System:      e.system,
		Messages:    messages,
		Temperature: &temp,
	}

	cfg := e.retry
	cfg.ShouldRetry = resilience.IsTransient
	cfg.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.llm.CreateMessage(ctx, req)
	})
}

// validate converts raw LLM deviations into model deviations, dropping
// unknown classes and out-of-range occurrences, and clamping malformed
// timestamps to the empty string.
func (e *Engine) validate(raw rawOutput, conversations int, pred *Prediction, log *zap.Logger) []model.Deviation {
	var out []model.Deviation
	for _, rd := range raw.Deviations {
		if !e.tax.Contains(rd.Class) {
			pred.Warnings = append(pred.Warnings, fmt.Sprintf("dropped unknown class %q", rd.Class))
			log.Warn("dropped deviation with unknown class", zap.String("class", rd.Class))
			continue
		}

		d := model.Deviation{Class: rd.Class, Explanation: rd.Explanation}
		for _, ro := range rd.Occurrences {
			if ro.ConversationIndex == nil || *ro.ConversationIndex < 0 || *ro.ConversationIndex >= conversations {
				pred.Warnings = append(pred.Warnings, fmt.Sprintf("class %s: dropped occurrence with invalid conversation index", rd.Class))
				continue
			}
			ts := ro.timestampString()
			if ts != "" {
				if _, err := model.ParseTimestamp(ts); err != nil {
					pred.Warnings = append(pred.Warnings, fmt.Sprintf("class %s: clamped malformed timestamp %q", rd.Class, ts))
					ts = ""
				}
			}
			d.Occurrences = append(d.Occurrences, model.Occurrence{
				ConversationIndex: *ro.ConversationIndex,
				Timestamp:         ts,
			})
		}
		d.SortOccurrences()

		if rd.PredictedLineItem != nil && rd.PredictedLineItem.Description != "" {
			d.PredictedLineItem = &model.PredictedLineItem{
				Description: rd.PredictedLineItem.Description,
				Quantity:    rd.PredictedLineItem.Quantity,
				Unit:        rd.PredictedLineItem.Unit,
				Notes:       rd.PredictedLineItem.Notes,
			}
		} else if e.tax.RequiresLineItem(rd.Class) {
			pred.Warnings = append(pred.Warnings, fmt.Sprintf("class %s: missing predicted_line_item", rd.Class))
		}

		out = append(out, d)
	}
	return out
}

// enrich resolves predicted line items against the pricebook. Retrieval
// failures annotate the deviation instead of failing the case.
func (e *Engine) enrich(ctx context.Context, pred *Prediction, log *zap.Logger) error {
	if e.retriever == nil {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EnrichConcurrency)

	for i := range pred.Deviations {
		d := &pred.Deviations[i]
		if d.PredictedLineItem == nil {
			continue
		}
		g.Go(func() error {
			best, err := pricebook.Best(ctx, e.retriever, d.PredictedLineItem.Description, e.cfg.RetrievalK, e.cfg.ScoreFloor)
			if err != nil {
				if ctx.Err() != nil {
					return eris.Wrap(ctx.Err(), "inference: enrichment cancelled")
				}
				d.Annotations = append(d.Annotations, model.AnnotationRetrievalFailed)
				log.Warn("pricebook retrieval failed",
					zap.String("class", d.Class),
					zap.String("query", d.PredictedLineItem.Description),
					zap.Error(err))
				return nil
			}
			if best == nil {
				return nil
			}

			d.PredictedLineItem.MatchedPricebookItemID = &best.ID
			d.PredictedLineItem.MatchedPricebookItemDisplayName = &best.DisplayName
			unitCost := best.UnitCost
			d.PredictedLineItem.UnitCost = &unitCost
			qty := 1.0
			if d.PredictedLineItem.Quantity != nil {
				qty = *d.PredictedLineItem.Quantity
			}
			total := unitCost * qty
			d.PredictedLineItem.TotalCost = &total
			return nil
		})
	}

	return g.Wait()
}
