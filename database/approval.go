/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

const approvalColumns = `company_id, approval_id, title, status, ref_entity, ref_id, ref_stage, callback_url,
	idempotency_key, content, submitted_at, completed_at, created_by, created_at, updated_by, updated_at`

const stepColumns = `company_id, approval_id, step_no, member_id, decision, result, decided_at, comment`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*model.Approval, error) {
	var a model.Approval
	var content sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&a.CompanyID,
		&a.ApprovalID,
		&a.Title,
		&a.Status,
		&a.RefEntity,
		&a.RefID,
		&a.RefStage,
		&a.CallbackURL,
		&a.IdempotencyKey,
		&content,
		&a.SubmittedAt,
		&completedAt,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedBy,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Content = content.String
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return &a, nil
}

func scanStep(row rowScanner) (model.ApprovalStep, error) {
	var s model.ApprovalStep
	var result, comment sql.NullString
	var decidedAt sql.NullTime
	err := row.Scan(&s.CompanyID, &s.ApprovalID, &s.StepNo, &s.MemberID, &s.Decision, &result, &decidedAt, &comment)
	if err != nil {
		return s, err
	}
	if result.Valid {
		s.Result = &result.String
	}
	if decidedAt.Valid {
		s.DecidedAt = &decidedAt.Time
	}
	s.Comment = comment.String
	return s, nil
}

// getApproval loads the header and its ordered steps. With forUpdate both
// the header and the steps are row-locked until the transaction ends.
func getApproval(ctx context.Context, q querier, companyID, approvalID string, forUpdate bool) (*model.Approval, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}

	row := q.QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM maintflow.approvals
		WHERE company_id = $1 AND approval_id = $2`+lock, companyID, approvalID)
	a, err := scanApproval(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("approval with ID '%s' not found", approvalID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve approval", err)
	}

	steps, err := getSteps(ctx, q, companyID, []string{approvalID}, forUpdate)
	if err != nil {
		return nil, err
	}
	a.Steps = steps[approvalID]
	if a.Steps == nil {
		a.Steps = []model.ApprovalStep{}
	}
	return a, nil
}

func getSteps(ctx context.Context, q querier, companyID string, approvalIDs []string, forUpdate bool) (map[string][]model.ApprovalStep, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM maintflow.approval_steps
		WHERE company_id = $1 AND approval_id = ANY($2)
		ORDER BY approval_id, step_no`+lock, companyID, pq.Array(approvalIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve approval steps", err)
	}
	defer func() { _ = rows.Close() }()

	steps := make(map[string][]model.ApprovalStep)
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan approval step", err)
		}
		steps[s.ApprovalID] = append(steps[s.ApprovalID], s)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over approval steps", err)
	}
	return steps, nil
}

func getApprovalByIdempotencyKey(ctx context.Context, q querier, companyID, key string) (*model.Approval, error) {
	var approvalID string
	err := q.QueryRowContext(ctx, `
		SELECT approval_id FROM maintflow.approvals
		WHERE company_id = $1 AND idempotency_key = $2`, companyID, key).Scan(&approvalID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up approval by idempotency key", err)
	}
	return getApproval(ctx, q, companyID, approvalID, false)
}

// GetApproval retrieves an approval and its steps.
func (d Datasource) GetApproval(ctx context.Context, companyID, approvalID string) (*model.Approval, error) {
	return getApproval(ctx, d.Conn, companyID, approvalID, false)
}

// GetApprovalByIdempotencyKey retrieves the approval created with key, or nil.
func (d Datasource) GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error) {
	return getApprovalByIdempotencyKey(ctx, d.Conn, companyID, key)
}

// ListApprovals returns the company's approvals newest first, each with its steps.
func (d Datasource) ListApprovals(ctx context.Context, companyID string, filter model.ApprovalFilter) ([]model.Approval, error) {
	conditions := []string{"company_id = $1"}
	args := []interface{}{companyID}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", filter.Status)
	add("ref_entity", filter.RefEntity)
	add("ref_id", filter.RefID)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM maintflow.approvals
		WHERE %s
		ORDER BY created_at DESC, approval_id DESC
		LIMIT $%d OFFSET $%d`, approvalColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list approvals", err)
	}
	defer func() { _ = rows.Close() }()

	approvals := []model.Approval{}
	var ids []string
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan approval", err)
		}
		approvals = append(approvals, *a)
		ids = append(ids, a.ApprovalID)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over approvals", err)
	}
	if len(ids) == 0 {
		return approvals, nil
	}

	steps, err := getSteps(ctx, d.Conn, companyID, ids, false)
	if err != nil {
		return nil, err
	}
	for i := range approvals {
		approvals[i].Steps = steps[approvals[i].ApprovalID]
	}
	return approvals, nil
}

// GetApprovalForUpdate loads the approval and locks it with its steps.
func (t *pgTx) GetApprovalForUpdate(ctx context.Context, companyID, approvalID string) (*model.Approval, error) {
	return getApproval(ctx, t.tx, companyID, approvalID, true)
}

func (t *pgTx) GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error) {
	return getApprovalByIdempotencyKey(ctx, t.tx, companyID, key)
}

// InsertApproval writes the header. A second approval with the same
// idempotency key in the same company yields a CONFLICT error.
func (t *pgTx) InsertApproval(ctx context.Context, a *model.Approval) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO maintflow.approvals (`+approvalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.CompanyID,
		a.ApprovalID,
		a.Title,
		a.Status,
		a.RefEntity,
		a.RefID,
		a.RefStage,
		a.CallbackURL,
		a.IdempotencyKey,
		a.Content,
		a.SubmittedAt,
		a.CompletedAt,
		a.CreatedBy,
		a.CreatedAt,
		a.UpdatedBy,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, "approval with this idempotency key already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert approval", err)
	}
	return nil
}

// UpdateApproval persists the mutable header fields.
func (t *pgTx) UpdateApproval(ctx context.Context, a *model.Approval) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE maintflow.approvals
		SET title = $3, content = $4, status = $5, completed_at = $6, updated_by = $7, updated_at = $8
		WHERE company_id = $1 AND approval_id = $2`,
		a.CompanyID, a.ApprovalID, a.Title, a.Content, a.Status, a.CompletedAt, a.UpdatedBy, a.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update approval", err)
	}
	return nil
}

func (t *pgTx) InsertSteps(ctx context.Context, steps []model.ApprovalStep) error {
	for _, s := range steps {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO maintflow.approval_steps (`+stepColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.CompanyID, s.ApprovalID, s.StepNo, s.MemberID, s.Decision, s.Result, s.DecidedAt, s.Comment)
		if err != nil {
			if isUniqueViolation(err) {
				return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("duplicate step number %d", s.StepNo), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert approval step", err)
		}
	}
	return nil
}

// UpdateStepDecision records result, decided_at and comment for one step.
func (t *pgTx) UpdateStepDecision(ctx context.Context, s *model.ApprovalStep) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE maintflow.approval_steps
		SET result = $4, decided_at = $5, comment = $6
		WHERE company_id = $1 AND approval_id = $2 AND step_no = $3`,
		s.CompanyID, s.ApprovalID, s.StepNo, s.Result, s.DecidedAt, s.Comment)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record step decision", err)
	}
	return nil
}
