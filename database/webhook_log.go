package database

import (
	"context"
	"database/sql"

	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

// RecordWebhookLog appends one delivery attempt to the audit log.
func (d Datasource) RecordWebhookLog(ctx context.Context, entry *model.WebhookLog) error {
	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO maintflow.webhook_logs
		(outbox_id, url, event_type, status_code, response_body, error_message, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		entry.OutboxID,
		entry.URL,
		entry.EventType,
		entry.StatusCode,
		entry.ResponseBody,
		entry.ErrorMessage,
		entry.AttemptedAt,
	).Scan(&entry.ID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook log", err)
	}
	return nil
}

// ListWebhookLogs returns the attempts made for an outbox row of the
// company, oldest first.
func (d Datasource) ListWebhookLogs(ctx context.Context, companyID string, outboxID int64) ([]model.WebhookLog, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT l.id, l.outbox_id, l.url, l.event_type, l.status_code, l.response_body, l.error_message, l.attempted_at
		FROM maintflow.webhook_logs l
		JOIN maintflow.approval_outbox o ON o.outbox_id = l.outbox_id
		WHERE o.company_id = $1 AND l.outbox_id = $2
		ORDER BY l.attempted_at ASC, l.id ASC`, companyID, outboxID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list webhook logs", err)
	}
	defer func() { _ = rows.Close() }()

	logs := []model.WebhookLog{}
	for rows.Next() {
		var entry model.WebhookLog
		var statusCode sql.NullInt64
		var body, errMsg sql.NullString
		if err := rows.Scan(&entry.ID, &entry.OutboxID, &entry.URL, &entry.EventType, &statusCode, &body, &errMsg, &entry.AttemptedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook log", err)
		}
		if statusCode.Valid {
			code := int(statusCode.Int64)
			entry.StatusCode = &code
		}
		entry.ResponseBody = body.String
		entry.ErrorMessage = errMsg.String
		logs = append(logs, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over webhook logs", err)
	}
	return logs, nil
}
