package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// Forward subscribes to the audit lifecycle events of pub and sends them to
// the view as messages. send is usually (*tea.Program).Send.
func Forward(pub ports.EventPublisher, send func(tea.Msg)) (func(), error) {
	handlers := map[string]func(map[string]interface{}) tea.Msg{
		ports.EventAuditStarted: func(p map[string]interface{}) tea.Msg {
			return AuditStartedMsg{ID: str(p, "audit_id"), StrategyID: str(p, "strategy_id")}
		},
		ports.EventActionPlanCreated: func(p map[string]interface{}) tea.Msg {
			return AuditFinishedMsg{
				ID:         str(p, "audit_id"),
				State:      audit.StateSucceeded,
				StrategyID: str(p, "strategy_id"),
				PlanID:     str(p, "action_plan_id"),
				Actions:    integer(p, "actions"),
			}
		},
		ports.EventAuditFailed: func(p map[string]interface{}) tea.Msg {
			return AuditFinishedMsg{
				ID:         str(p, "audit_id"),
				State:      audit.StateFailed,
				StrategyID: str(p, "strategy_id"),
				Reason:     str(p, "code"),
			}
		},
		ports.EventAuditCancelled: func(p map[string]interface{}) tea.Msg {
			return AuditFinishedMsg{ID: str(p, "audit_id"), State: audit.StateCancelled, Reason: str(p, "phase")}
		},
	}

	var subs []ports.Subscription
	unsubscribe := func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
	for eventType, toMsg := range handlers {
		sub, err := pub.Subscribe(eventType, func(_ context.Context, e ports.DomainEvent) error {
			payload, ok := e.Payload().(map[string]interface{})
			if !ok {
				return fmt.Errorf("unexpected payload %T for %s", e.Payload(), e.EventType())
			}
			send(toMsg(payload))
			return nil
		})
		if err != nil {
			unsubscribe()
			return nil, err
		}
		subs = append(subs, sub)
	}
	return unsubscribe, nil
}

func str(p map[string]interface{}, key string) string {
	if v, ok := p[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func integer(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
