// Package coordinator orchestrates aggregation rounds: it fetches candidate
// local models through the ledger gateway, runs the VPSA aggregation engine
// over them, and commits the merged result back to the ledger.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vpsa-network/fl-service-layer/internal/fabric"
	"github.com/vpsa-network/fl-service-layer/internal/vpsa"
)

// Ledger is the gateway capability the coordinator consumes.
type Ledger interface {
	Invoke(ctx context.Context, fn string, args []string) (string, error)
	Query(ctx context.Context, fn string, args []string) (fabric.Payload, error)
}

// ErrNoValidModels means the round had nothing to aggregate after dropping
// unreachable or undecodable models.
var ErrNoValidModels = errors.New("no valid models to aggregate")

// ValidationError reports a caller mistake, distinct from transport or
// aggregation failures so the HTTP layer can map it to a 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// RoundParams are the aggregation weights for one round. A nil field picks
// the ledger default; an explicit 0 is honored, excluding that side from
// the merge.
type RoundParams struct {
	SourceWeight    *float64
	TargetWeight    *float64
	AlignmentWeight *float64
}

// roundWeights are fully resolved aggregation weights.
type roundWeights struct {
	source    float64
	target    float64
	alignment float64
}

func (p RoundParams) resolve() roundWeights {
	return roundWeights{
		source:    orDefault(p.SourceWeight, 0.6),
		target:    orDefault(p.TargetWeight, 0.4),
		alignment: orDefault(p.AlignmentWeight, 0.1),
	}
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// RoundSummary describes one committed aggregation round. Provenance lists
// the originally requested model ids, resolved or not, so auditors can see
// intended versus actual inputs.
type RoundSummary struct {
	Round        int          `json:"round"`
	Provenance   []string     `json:"provenance"`
	NumRequested int          `json:"numRequested"`
	NumResolved  int          `json:"numResolved"`
	Metrics      vpsa.Metrics `json:"metrics"`
}

// RoundRecorder observes completed rounds.
type RoundRecorder interface {
	RecordRound(outcome string, seconds float64)
}

// Coordinator runs aggregation rounds over a ledger gateway.
type Coordinator struct {
	ledger   Ledger
	recorder RoundRecorder
	log      zerolog.Logger
}

// New creates a Coordinator. recorder may be nil.
func New(ledger Ledger, recorder RoundRecorder, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		ledger:   ledger,
		recorder: recorder,
		log:      log.With().Str("component", "coordinator").Logger(),
	}
}

// RunRound fetches the given models, aggregates them, and commits the merged
// global update. A model that cannot be fetched or decoded is dropped from
// the working set; only an empty working set aborts the round. The committed
// provenance is always the full requested id list.
func (c *Coordinator) RunRound(ctx context.Context, modelIDs []string, params RoundParams) (*RoundSummary, error) {
	start := time.Now()
	summary, err := c.runRound(ctx, modelIDs, params)
	if c.recorder != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.recorder.RecordRound(outcome, time.Since(start).Seconds())
	}
	return summary, err
}

func (c *Coordinator) runRound(ctx context.Context, modelIDs []string, params RoundParams) (*RoundSummary, error) {
	if len(modelIDs) == 0 {
		return nil, &ValidationError{Reason: "empty model id list"}
	}
	ws := params.resolve()

	models := c.fetchModels(ctx, modelIDs)
	if len(models) == 0 {
		return nil, ErrNoValidModels
	}

	weights, err := vpsa.AggregateWeights(models, ws.source, ws.target)
	if err != nil {
		return nil, fmt.Errorf("aggregate weights: %w", err)
	}
	prototypes, err := vpsa.AggregatePrototypes(models, ws.alignment)
	if err != nil {
		return nil, fmt.Errorf("aggregate prototypes: %w", err)
	}
	metrics := vpsa.ComputeMetrics(models)

	weightsDoc, err := weights.Encode()
	if err != nil {
		return nil, err
	}
	prototypesDoc, err := prototypes.Encode()
	if err != nil {
		return nil, err
	}
	idsDoc, err := json.Marshal(modelIDs)
	if err != nil {
		return nil, fmt.Errorf("encode model id list: %w", err)
	}

	args := []string{
		string(idsDoc),
		weightsDoc,
		prototypesDoc,
		formatFloat(metrics.GlobalAccuracy),
		formatFloat(metrics.GlobalLoss),
		formatFloat(metrics.AlignmentScore),
	}
	if _, err := c.ledger.Invoke(ctx, fabric.FnAggregateModels, args); err != nil {
		return nil, err
	}

	summary := &RoundSummary{
		Round:        maxRound(models),
		Provenance:   modelIDs,
		NumRequested: len(modelIDs),
		NumResolved:  len(models),
		Metrics:      metrics,
	}
	c.log.Info().
		Int("round", summary.Round).
		Int("requested", summary.NumRequested).
		Int("resolved", summary.NumResolved).
		Float64("global_accuracy", metrics.GlobalAccuracy).
		Msg("aggregation round committed")
	return summary, nil
}

// fetchModels resolves each id through the gateway, dropping the ones that
// fail. A single missing model does not abort the round.
func (c *Coordinator) fetchModels(ctx context.Context, modelIDs []string) []*vpsa.LocalModel {
	models := make([]*vpsa.LocalModel, 0, len(modelIDs))
	for _, id := range modelIDs {
		payload, err := c.ledger.Query(ctx, fabric.FnGetLocalModel, []string{id})
		if err != nil {
			c.log.Warn().Str("model_id", id).Err(err).Msg("dropping unreachable model")
			continue
		}
		var model vpsa.LocalModel
		if err := payload.Decode(&model); err != nil {
			c.log.Warn().Str("model_id", id).Err(err).Msg("dropping undecodable model")
			continue
		}
		models = append(models, &model)
	}
	return models
}

// maxRound returns the highest round among the resolved models. A working
// set can span rounds when stale submissions are requested together with
// current ones; the summary reports the newest.
func maxRound(models []*vpsa.LocalModel) int {
	round := models[0].Round
	for _, m := range models[1:] {
		if m.Round > round {
			round = m.Round
		}
	}
	return round
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
