package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
)

const auditColumns = `id, name, goal, strategy_id, parameters, state, failure_code, failure_reason, created_at, updated_at, started_at, finished_at`

// CreateAudit inserts a new audit.
func (s *Store) CreateAudit(ctx context.Context, a *audit.Audit) error {
	if err := a.Validate(); err != nil {
		return err
	}
	params, err := json.Marshal(a.Parameters)
	if err != nil {
		return audit.NewValidationError("audit parameters are not serialisable", map[string]interface{}{"error": err.Error()})
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO audits (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Goal, a.StrategyID, string(params), string(a.State),
		string(a.FailureCode), a.FailureReason,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
		formatTimePtr(a.StartedAt), formatTimePtr(a.FinishedAt),
	)
	return persistence("create audit", err)
}

// GetAudit loads one audit.
func (s *Store) GetAudit(ctx context.Context, id string) (*audit.Audit, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audits WHERE id = ?`, id)
	a, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.NewNotFoundError("audit", id)
	}
	if err != nil {
		return nil, persistence("get audit", err)
	}
	return a, nil
}

// ListAudits returns audits matching filter, newest first.
func (s *Store) ListAudits(ctx context.Context, filter audit.Filter) ([]audit.Audit, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Goal != "" {
		where = append(where, "goal = ?")
		args = append(args, filter.Goal)
	}
	if filter.StrategyID != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, filter.StrategyID)
	}

	query := `SELECT ` + auditColumns + ` FROM audits`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("list audits", err)
	}
	defer rows.Close()

	var out []audit.Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, persistence("list audits", err)
		}
		out = append(out, *a)
	}
	return out, persistence("list audits", rows.Err())
}

// TransitionAudit performs the compare-and-swap as a single guarded UPDATE;
// when no row matched, the current state classifies the refusal.
func (s *Store) TransitionAudit(ctx context.Context, id string, from []audit.State, to audit.State, failure *audit.DomainError) (*audit.Audit, error) {
	if len(from) == 0 {
		return nil, audit.NewValidationError("transition requires at least one source state", nil)
	}

	now := s.now().UTC()
	staged := audit.Audit{ID: id, State: from[0]}
	if err := staged.Transition(to, failure, now); err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []interface{}{
		string(to), formatTime(now),
		formatTimePtr(staged.StartedAt), formatTimePtr(staged.FinishedAt),
		string(staged.FailureCode), staged.FailureReason,
		id,
	}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE audits
		SET state = ?, updated_at = ?,
		    started_at = COALESCE(?, started_at),
		    finished_at = COALESCE(?, finished_at),
		    failure_code = ?, failure_reason = ?
		WHERE id = ? AND state IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, persistence("transition audit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, persistence("transition audit", err)
	}

	current, err := s.GetAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, audit.TransitionError(id, current.State, to)
	}
	return current, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAudit(row scanner) (*audit.Audit, error) {
	var (
		a                    audit.Audit
		params, state, code  string
		createdAt, updatedAt string
		startedAt, finished  sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Goal, &a.StrategyID, &params, &state, &code, &a.FailureReason,
		&createdAt, &updatedAt, &startedAt, &finished); err != nil {
		return nil, err
	}
	a.State = audit.State(state)
	a.FailureCode = audit.ErrorCode(code)
	if err := json.Unmarshal([]byte(params), &a.Parameters); err != nil {
		return nil, fmt.Errorf("decode audit parameters: %w", err)
	}
	if a.Parameters == nil {
		a.Parameters = map[string]interface{}{}
	}

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if a.FinishedAt, err = parseTimePtr(finished); err != nil {
		return nil, err
	}
	return &a, nil
}
