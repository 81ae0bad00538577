package database

import (
	"context"

	"github.com/lib/pq"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

const hasIdempotencyQuery = `
	SELECT EXISTS (
		SELECT 1 FROM maintflow.webhook_idempotency
		WHERE company_id = $1 AND idempotency_key = $2
	)`

func hasWebhookIdempotency(ctx context.Context, q querier, companyID, key string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, hasIdempotencyQuery, companyID, key).Scan(&exists); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up webhook idempotency marker", err)
	}
	return exists, nil
}

// HasWebhookIdempotency reports whether the delivery was already applied.
func (d Datasource) HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error) {
	return hasWebhookIdempotency(ctx, d.Conn, companyID, key)
}

func (t *pgTx) HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error) {
	return hasWebhookIdempotency(ctx, t.tx, companyID, key)
}

// InsertWebhookIdempotency records the processed marker. A concurrent
// receiver that already stored the same key yields CONFLICT.
func (t *pgTx) InsertWebhookIdempotency(ctx context.Context, marker *model.WebhookIdempotency) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO maintflow.webhook_idempotency (company_id, idempotency_key, event_type, approval_id, processed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		marker.CompanyID, marker.IdempotencyKey, marker.EventType, marker.ApprovalID, marker.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, "webhook already processed", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook idempotency marker", err)
	}
	return nil
}

// HasTerminalWebhook reports whether an APPROVED, REJECTED or CANCELLED
// delivery was already applied for the approval.
func (t *pgTx) HasTerminalWebhook(ctx context.Context, companyID, approvalID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM maintflow.webhook_idempotency
			WHERE company_id = $1 AND approval_id = $2 AND event_type = ANY($3)
		)`, companyID, approvalID, pq.Array(model.TerminalEvents)).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up terminal webhook marker", err)
	}
	return exists, nil
}
