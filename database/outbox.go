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
	"time"

	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

// OutboxNotifyChannel is the LISTEN channel the outbox insert trigger notifies.
const OutboxNotifyChannel = "approval_outbox"

const outboxColumns = `outbox_id, company_id, approval_id, callback_url, idempotency_key, event_type, status, payload,
	retry_count, last_error_message, last_attempt_at, next_attempt_at, created_at, updated_at`

func scanOutbox(row rowScanner) (*model.ApprovalOutbox, error) {
	var o model.ApprovalOutbox
	var lastError sql.NullString
	var lastAttemptAt sql.NullTime
	err := row.Scan(
		&o.OutboxID,
		&o.CompanyID,
		&o.ApprovalID,
		&o.CallbackURL,
		&o.IdempotencyKey,
		&o.EventType,
		&o.Status,
		&o.Payload,
		&o.RetryCount,
		&lastError,
		&lastAttemptAt,
		&o.NextAttemptAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.LastErrorMessage = lastError.String
	if lastAttemptAt.Valid {
		o.LastAttemptAt = &lastAttemptAt.Time
	}
	return &o, nil
}

func scanOutboxRows(rows *sql.Rows) ([]model.ApprovalOutbox, error) {
	defer func() { _ = rows.Close() }()

	entries := []model.ApprovalOutbox{}
	for rows.Next() {
		entry, err := scanOutbox(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan outbox entry", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over outbox entries", err)
	}
	return entries, nil
}

// InsertOutbox writes a delivery intent inside the caller's transaction so it
// commits atomically with the approval change.
func (t *pgTx) InsertOutbox(ctx context.Context, o *model.ApprovalOutbox) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO maintflow.approval_outbox
		(company_id, approval_id, callback_url, idempotency_key, event_type, status, payload,
		 retry_count, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
		RETURNING outbox_id`,
		o.CompanyID,
		o.ApprovalID,
		o.CallbackURL,
		o.IdempotencyKey,
		o.EventType,
		model.ApprovalOutboxPending,
		[]byte(o.Payload),
		o.NextAttemptAt,
		o.CreatedAt,
	).Scan(&o.OutboxID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert approval outbox entry", err)
	}
	o.Status = model.ApprovalOutboxPending
	return nil
}

// FetchDueOutbox returns up to batchSize pending rows whose next attempt is
// due, oldest first.
func (d Datasource) FetchDueOutbox(ctx context.Context, now time.Time, batchSize int) ([]model.ApprovalOutbox, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM maintflow.approval_outbox
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY created_at ASC, outbox_id ASC
		LIMIT $3`, model.ApprovalOutboxPending, now, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch due outbox entries", err)
	}
	return scanOutboxRows(rows)
}

// MarkOutboxSent marks a delivered row and clears its error.
func (d Datasource) MarkOutboxSent(ctx context.Context, id int64, attemptedAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE maintflow.approval_outbox
		SET status = $2, last_error_message = NULL, last_attempt_at = $3, updated_at = $3
		WHERE outbox_id = $1`, id, model.ApprovalOutboxSent, attemptedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark outbox entry as sent", err)
	}
	return nil
}

// MarkOutboxRetry keeps the row pending and schedules its next attempt.
func (d Datasource) MarkOutboxRetry(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt, nextAttemptAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE maintflow.approval_outbox
		SET status = $2, retry_count = $3, last_error_message = $4, last_attempt_at = $5,
			next_attempt_at = $6, updated_at = $5
		WHERE outbox_id = $1`, id, model.ApprovalOutboxPending, retryCount, errMsg, attemptedAt, nextAttemptAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reschedule outbox entry", err)
	}
	return nil
}

// MarkOutboxFailed parks the row as FAILED. Only RequeueFailedOutbox moves it again.
func (d Datasource) MarkOutboxFailed(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE maintflow.approval_outbox
		SET status = $2, retry_count = $3, last_error_message = $4, last_attempt_at = $5, updated_at = $5
		WHERE outbox_id = $1`, id, model.ApprovalOutboxFailed, retryCount, errMsg, attemptedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark outbox entry as failed", err)
	}
	return nil
}

// GetOutbox retrieves an outbox entry of the company by id. Rows of other
// companies are reported as NOT_FOUND.
func (d Datasource) GetOutbox(ctx context.Context, companyID string, id int64) (*model.ApprovalOutbox, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+outboxColumns+`
		FROM maintflow.approval_outbox
		WHERE company_id = $1 AND outbox_id = $2`, companyID, id)
	entry, err := scanOutbox(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("outbox entry %d not found", id), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve outbox entry", err)
	}
	return entry, nil
}

// ListOutbox returns the company's outbox rows newest first, optionally
// filtered by status.
func (d Datasource) ListOutbox(ctx context.Context, companyID string, filter model.OutboxFilter) ([]model.ApprovalOutbox, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if filter.Status != "" {
		rows, err = d.Conn.QueryContext(ctx, `
			SELECT `+outboxColumns+`
			FROM maintflow.approval_outbox
			WHERE company_id = $1 AND status = $2
			ORDER BY created_at DESC, outbox_id DESC
			LIMIT $3 OFFSET $4`, companyID, filter.Status, limit, filter.Offset)
	} else {
		rows, err = d.Conn.QueryContext(ctx, `
			SELECT `+outboxColumns+`
			FROM maintflow.approval_outbox
			WHERE company_id = $1
			ORDER BY created_at DESC, outbox_id DESC
			LIMIT $2 OFFSET $3`, companyID, limit, filter.Offset)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list outbox entries", err)
	}
	return scanOutboxRows(rows)
}

// RequeueFailedOutbox resets a FAILED row so the dispatcher picks it up
// immediately. Rows in any other state are left untouched and CONFLICT is
// returned.
func (d Datasource) RequeueFailedOutbox(ctx context.Context, companyID string, id int64, now time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE maintflow.approval_outbox
		SET status = $2, retry_count = 0, last_error_message = NULL, next_attempt_at = $3, updated_at = $3
		WHERE outbox_id = $1 AND status = $4 AND company_id = $5`,
		id, model.ApprovalOutboxPending, now, model.ApprovalOutboxFailed, companyID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to requeue outbox entry", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("outbox entry %d is not in FAILED state", id), nil)
	}
	return nil
}
