package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
)

const planColumns = `id, audit_id, strategy_id, state, first_action_id, global_name, global_description, global_unit, global_value, created_at, updated_at, deleted_at`

// CommitPlan writes the plan with its actions and indicators and moves the
// audit from ONGOING to SUCCEEDED, all in one transaction.
func (s *Store) CommitPlan(ctx context.Context, plan *actionplan.ActionPlan) error {
	if err := plan.Validate(); err != nil {
		return audit.NewPersistenceError("commit plan", err)
	}

	var refused bool
	err := s.inTx(ctx, func(ctx context.Context) error {
		now := s.now().UTC()
		res, err := s.q(ctx).ExecContext(ctx, `
			UPDATE audits SET state = ?, updated_at = ?, finished_at = ?
			WHERE id = ? AND state = ?`,
			string(audit.StateSucceeded), formatTime(now), formatTime(now),
			plan.AuditID, string(audit.StateOngoing))
		if err != nil {
			return fmt.Errorf("mark audit succeeded: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark audit succeeded: %w", err)
		}
		if n == 0 {
			refused = true
			return errRefused
		}

		if err := s.insertPlan(ctx, plan); err != nil {
			return err
		}
		for _, a := range plan.Actions {
			if err := s.insertAction(ctx, a); err != nil {
				return err
			}
		}
		for i, ind := range plan.Indicators {
			if _, err := s.q(ctx).ExecContext(ctx, `
				INSERT INTO efficacy_indicators (action_plan_id, position, name, description, unit, value)
				VALUES (?, ?, ?, ?, ?, ?)`,
				plan.ID, i, ind.Name, ind.Description, ind.Unit, ind.Value); err != nil {
				return fmt.Errorf("insert efficacy indicator %s: %w", ind.Name, err)
			}
		}
		return nil
	})
	if refused {
		current, getErr := s.GetAudit(ctx, plan.AuditID)
		if getErr != nil {
			return getErr
		}
		return audit.TransitionError(plan.AuditID, current.State, audit.StateSucceeded)
	}
	return persistence("commit plan", err)
}

var errRefused = errors.New("audit is no longer ongoing")

func (s *Store) insertPlan(ctx context.Context, p *actionplan.ActionPlan) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO action_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AuditID, p.StrategyID, string(p.State), p.FirstActionID,
		p.GlobalEfficacy.Name, p.GlobalEfficacy.Description, p.GlobalEfficacy.Unit, p.GlobalEfficacy.Value,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt), formatTimePtr(p.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert action plan: %w", err)
	}
	return nil
}

func (s *Store) insertAction(ctx context.Context, a actionplan.Action) error {
	params, err := json.Marshal(a.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters of action %d: %w", a.Index, err)
	}
	parents, err := json.Marshal(a.Parents)
	if err != nil {
		return fmt.Errorf("encode parents of action %d: %w", a.Index, err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO actions (id, action_plan_id, idx, action_type, resource_id, input_parameters, state, parents, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PlanID, a.Index, a.Type, a.ResourceID, string(params), string(a.State), string(parents),
		formatTime(a.CreatedAt), formatTimePtr(a.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert action %d: %w", a.Index, err)
	}
	return nil
}

// GetActionPlan loads a plan, its ordered actions and indicators.
func (s *Store) GetActionPlan(ctx context.Context, id string) (*actionplan.ActionPlan, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+planColumns+` FROM action_plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.NewNotFoundError("action plan", id)
	}
	if err != nil {
		return nil, persistence("get action plan", err)
	}
	if err := s.loadChildren(ctx, p); err != nil {
		return nil, persistence("get action plan", err)
	}
	return p, nil
}

// GetPlanForAudit returns the most recent live plan produced by the audit.
func (s *Store) GetPlanForAudit(ctx context.Context, auditID string) (*actionplan.ActionPlan, error) {
	plans, err := s.ListActionPlans(ctx, actionplan.Filter{AuditID: auditID, SortDesc: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, audit.NewNotFoundError("action plan for audit", auditID)
	}
	return &plans[0], nil
}

var sortColumns = map[actionplan.SortKey]string{
	actionplan.SortByCreatedAt: "created_at",
	actionplan.SortByID:        "id",
	actionplan.SortByState:     "state",
}

// ListActionPlans returns plans matching filter.
func (s *Store) ListActionPlans(ctx context.Context, filter actionplan.Filter) ([]actionplan.ActionPlan, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, audit.NewValidationError(err.Error(), nil)
	}

	var (
		where []string
		args  []interface{}
	)
	if !filter.IncludeDeleted && filter.State != actionplan.StateDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.AuditID != "" {
		where = append(where, "audit_id = ?")
		args = append(args, filter.AuditID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}

	direction, after := "ASC", ">"
	if filter.SortDesc {
		direction, after = "DESC", "<"
	}
	column := sortColumns[filter.SortKey]
	if filter.Marker != "" {
		var key string
		err := s.q(ctx).QueryRowContext(ctx, `SELECT `+column+` FROM action_plans WHERE id = ?`, filter.Marker).Scan(&key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, audit.NewValidationError(
				fmt.Errorf("%w: %s", actionplan.ErrMarkerNotFound, filter.Marker).Error(),
				map[string]interface{}{"marker": filter.Marker},
			)
		}
		if err != nil {
			return nil, persistence("list action plans", err)
		}
		where = append(where, fmt.Sprintf("(%s %s ? OR (%s = ? AND id %s ?))", column, after, column, after))
		args = append(args, key, key, filter.Marker)
	}

	query := `SELECT ` + planColumns + ` FROM action_plans`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY %s %s, id %s`, column, direction, direction)
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("list action plans", err)
	}
	var plans []actionplan.ActionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, persistence("list action plans", err)
		}
		plans = append(plans, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, persistence("list action plans", err)
	}

	// Children are loaded after the cursor is closed; the pool has a single
	// connection.
	for i := range plans {
		if err := s.loadChildren(ctx, &plans[i]); err != nil {
			return nil, persistence("list action plans", err)
		}
	}
	return plans, nil
}

// SoftDeleteActionPlan marks the plan DELETED and cascades to its actions
// and indicators.
func (s *Store) SoftDeleteActionPlan(ctx context.Context, id string) error {
	var missing bool
	err := s.inTx(ctx, func(ctx context.Context) error {
		now := formatTime(s.now())
		res, err := s.q(ctx).ExecContext(ctx, `
			UPDATE action_plans SET state = ?, updated_at = ?, deleted_at = ?
			WHERE id = ? AND deleted_at IS NULL`,
			string(actionplan.StateDeleted), now, now, id)
		if err != nil {
			return fmt.Errorf("delete action plan: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete action plan: %w", err)
		}
		if n == 0 {
			missing = true
			return errRefused
		}
		if _, err := s.q(ctx).ExecContext(ctx, `
			UPDATE actions SET state = ?, deleted_at = ? WHERE action_plan_id = ?`,
			string(actionplan.ActionDeleted), now, id); err != nil {
			return fmt.Errorf("delete actions: %w", err)
		}
		if _, err := s.q(ctx).ExecContext(ctx, `
			UPDATE efficacy_indicators SET deleted_at = ? WHERE action_plan_id = ?`, now, id); err != nil {
			return fmt.Errorf("delete efficacy indicators: %w", err)
		}
		return nil
	})
	if missing {
		return audit.NewNotFoundError("action plan", id)
	}
	return persistence("delete action plan", err)
}

func scanPlan(row scanner) (*actionplan.ActionPlan, error) {
	var (
		p                    actionplan.ActionPlan
		state                string
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	if err := row.Scan(&p.ID, &p.AuditID, &p.StrategyID, &state, &p.FirstActionID,
		&p.GlobalEfficacy.Name, &p.GlobalEfficacy.Description, &p.GlobalEfficacy.Unit, &p.GlobalEfficacy.Value,
		&createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	p.State = actionplan.State(state)

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if p.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) loadChildren(ctx context.Context, p *actionplan.ActionPlan) error {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, action_plan_id, idx, action_type, resource_id, input_parameters, state, parents, created_at, deleted_at
		FROM actions WHERE action_plan_id = ? ORDER BY idx ASC`, p.ID)
	if err != nil {
		return fmt.Errorf("query actions: %w", err)
	}
	for rows.Next() {
		var (
			a                      actionplan.Action
			params, state, parents string
			createdAt              string
			deletedAt              sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.PlanID, &a.Index, &a.Type, &a.ResourceID, &params, &state, &parents, &createdAt, &deletedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan action: %w", err)
		}
		a.State = actionplan.ActionState(state)
		if err := json.Unmarshal([]byte(params), &a.Parameters); err != nil {
			rows.Close()
			return fmt.Errorf("decode action parameters: %w", err)
		}
		if err := json.Unmarshal([]byte(parents), &a.Parents); err != nil {
			rows.Close()
			return fmt.Errorf("decode action parents: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return err
		}
		if a.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
			rows.Close()
			return err
		}
		p.Actions = append(p.Actions, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.q(ctx).QueryContext(ctx, `
		SELECT name, description, unit, value FROM efficacy_indicators
		WHERE action_plan_id = ? ORDER BY position ASC`, p.ID)
	if err != nil {
		return fmt.Errorf("query efficacy indicators: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ind efficacy.Indicator
		if err := rows.Scan(&ind.Name, &ind.Description, &ind.Unit, &ind.Value); err != nil {
			return fmt.Errorf("scan efficacy indicator: %w", err)
		}
		p.Indicators = append(p.Indicators, ind)
	}
	return rows.Err()
}
