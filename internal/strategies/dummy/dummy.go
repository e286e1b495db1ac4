// Package dummy provides a strategy that proposes a fixed nop/sleep/nop
// sequence. It exists to exercise the decision pipeline end to end.
package dummy

import (
	"context"

	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/strategies/params"
)

const (
	ID   = "dummy"
	Goal = "dummy"

	paramMessage  = "message"
	paramDuration = "duration"
)

// Descriptor returns the selection metadata.
func Descriptor() strategy.Descriptor {
	return strategy.Descriptor{
		ID:          ID,
		DisplayName: "Dummy strategy",
		Goals:       []string{Goal},
		Indicators: []efficacy.Spec{
			{Name: "proposed_actions_count", Description: "Number of proposed actions", Unit: "actions"},
		},
	}
}

type dummy struct {
	message  string
	duration float64
}

// New is the strategy.Factory for the dummy strategy.
func New(_ *cluster.Model, p map[string]interface{}) (strategy.Strategy, error) {
	if err := params.Unknown(p, paramMessage, paramDuration); err != nil {
		return nil, err
	}
	msg, err := params.String(p, paramMessage, "Welcome")
	if err != nil {
		return nil, err
	}
	d, err := params.Duration(p, paramDuration, 0)
	if err != nil {
		return nil, err
	}
	return &dummy{message: msg, duration: d.Seconds()}, nil
}

func (d *dummy) PreExecute(ctx context.Context) error {
	return ctx.Err()
}

func (d *dummy) DoExecute(ctx context.Context) ([]solution.ProposedAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []solution.ProposedAction{
		{Type: solution.ActionNop, ResourceID: ID, Parameters: map[string]interface{}{"message": d.message}},
		{Type: solution.ActionSleep, ResourceID: ID, Parameters: map[string]interface{}{"duration": d.duration}},
		{Type: solution.ActionNop, ResourceID: ID, Parameters: map[string]interface{}{"message": d.message}},
	}, nil
}

func (d *dummy) PostExecute(_ context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error) {
	return []efficacy.Indicator{{
		Name:        "proposed_actions_count",
		Description: "Number of proposed actions",
		Unit:        "actions",
		Value:       float64(len(actions)),
	}}, nil
}

func (d *dummy) ComputeGlobalEfficacy(indicators []efficacy.Indicator) (efficacy.Global, error) {
	return efficacy.Global{
		Name:        "dummy_score",
		Description: "Always 100",
		Unit:        "%",
		Value:       100,
	}, nil
}
