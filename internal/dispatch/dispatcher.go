// Package dispatch is the single entrypoint a worker invocation calls: it
// tells a batch Envelope apart from a DirectTestEnvelope and routes to the
// matching path, the same branch the original engine's direct_analysis
// vs. rule_engine bucket made.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/panther-labs/rules-engine/internal/rules"
	"github.com/panther-labs/rules-engine/pkg/models"
)

// BatchRunner runs the batch ingest pipeline end to end.
type BatchRunner interface {
	Run(ctx context.Context, envelope models.Envelope) (models.IngestStats, error)
}

// Dispatcher routes a raw invocation payload to the batch pipeline or to a
// synchronous, side-effect-free direct test.
type Dispatcher struct {
	batch BatchRunner
}

func New(batch BatchRunner) *Dispatcher {
	return &Dispatcher{batch: batch}
}

// Dispatch inspects raw, decoded once into a generic map so the shape test
// in models.IsDirectTest can run before committing to either path's
// stricter decode.
func (d *Dispatcher) Dispatch(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse invocation payload: %w", err)
	}

	if models.IsDirectTest(generic) {
		var direct models.DirectTestEnvelope
		if err := json.Unmarshal(raw, &direct); err != nil {
			return nil, fmt.Errorf("failed to parse direct-test payload: %w", err)
		}
		if len(direct.Rules) != 1 {
			return nil, fmt.Errorf("exactly one rule expected")
		}
		return RunDirectTest(direct), nil
	}

	var envelope models.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse batch envelope: %w", err)
	}
	stats, err := d.batch.Run(ctx, envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to run batch: %w", err)
	}
	return stats, nil
}

// RunDirectTest compiles the supplied rule once and runs it against every
// sample event synchronously, with no alert-merge, object-store, or
// pub/sub side effects — the direct_analysis shape the control surface's
// "test rule" action exposes to rule authors. Callers are expected to have
// already enforced exactly-one-rule (Dispatch does); RunDirectTest itself
// only guards against an empty Rules slice so it never indexes out of
// range when called directly, as the unit tests do.
func RunDirectTest(in models.DirectTestEnvelope) models.TestResponse {
	response := models.TestResponse{Results: make([]models.TestOutcome, 0, len(in.Events))}

	if len(in.Rules) == 0 {
		for _, ev := range in.Events {
			response.Results = append(response.Results, models.TestOutcome{
				ID:           ev.ID,
				Errored:      true,
				GenericError: "exactly one rule expected",
			})
		}
		return response
	}

	cfg := in.Rules[0]
	if cfg.VersionID == "" {
		cfg.VersionID = "default"
	}

	rule, err := rules.New(cfg, nil)
	if err != nil {
		for _, ev := range in.Events {
			response.Results = append(response.Results, models.TestOutcome{
				ID:           ev.ID,
				RuleID:       cfg.ID,
				Errored:      true,
				GenericError: err.Error(),
			})
		}
		return response
	}

	for _, ev := range in.Events {
		result := rule.Run(ev.Data, nil, false)
		response.Results = append(response.Results, toOutcome(ev.ID, result))
	}
	return response
}

func toOutcome(id string, r models.RuleResult) models.TestOutcome {
	outcome := models.TestOutcome{
		ID:          id,
		RuleID:      r.RuleID,
		Errored:     r.AnyError(),
		RuleOutput:  r.RuleOutput,
		TitleOutput: r.TitleOutput,
		DedupOutput: r.DedupOutput,
	}
	if r.GenericError != nil {
		outcome.GenericError = r.GenericError.Error()
	}
	if r.RuleError != nil {
		outcome.RuleError = r.RuleError.Error()
	}
	if r.TitleError != nil {
		outcome.TitleError = r.TitleError.Error()
	}
	if r.DedupError != nil {
		outcome.DedupError = r.DedupError.Error()
	}
	if r.AlertContextError != nil {
		outcome.AlertContextError = r.AlertContextError.Error()
	} else {
		outcome.AlertContextOutput = r.AlertContextOutput
	}
	return outcome
}
