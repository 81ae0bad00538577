package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

// ListInbox returns the member's inbox rows newest first, joined with the
// approval title and status.
func (d Datasource) ListInbox(ctx context.Context, companyID, memberID string, filter model.InboxFilter) ([]model.ApprovalInbox, error) {
	conditions := []string{"i.company_id = $1", "i.member_id = $2"}
	args := []interface{}{companyID, memberID}
	if filter.InboxType != "" {
		args = append(args, filter.InboxType)
		conditions = append(conditions, fmt.Sprintf("i.inbox_type = $%d", len(args)))
	}
	if filter.UnreadOnly {
		conditions = append(conditions, "i.is_read = FALSE")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT i.inbox_id, i.company_id, i.approval_id, i.member_id, i.inbox_type, i.decision,
			i.is_read, i.read_at, i.created_at, i.updated_at, a.title, a.status
		FROM maintflow.approval_inbox i
		JOIN maintflow.approvals a ON a.company_id = i.company_id AND a.approval_id = i.approval_id
		WHERE %s
		ORDER BY i.created_at DESC, i.inbox_id DESC
		LIMIT $%d OFFSET $%d`, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list inbox", err)
	}
	defer func() { _ = rows.Close() }()

	items := []model.ApprovalInbox{}
	for rows.Next() {
		var item model.ApprovalInbox
		var readAt sql.NullTime
		err := rows.Scan(
			&item.InboxID,
			&item.CompanyID,
			&item.ApprovalID,
			&item.MemberID,
			&item.InboxType,
			&item.Decision,
			&item.IsRead,
			&readAt,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.Title,
			&item.Status,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan inbox row", err)
		}
		if readAt.Valid {
			item.ReadAt = &readAt.Time
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over inbox rows", err)
	}
	return items, nil
}

// MarkInboxRead flags one of the member's own inbox rows as read.
func (d Datasource) MarkInboxRead(ctx context.Context, companyID, memberID string, inboxID int64, readAt time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE maintflow.approval_inbox
		SET is_read = TRUE, read_at = COALESCE(read_at, $4), updated_at = $4
		WHERE inbox_id = $1 AND company_id = $2 AND member_id = $3`,
		inboxID, companyID, memberID, readAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark inbox row read", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("inbox row %d not found", inboxID), nil)
	}
	return nil
}

// InsertInbox fans an approval out to its members. A member holding several
// steps keeps the row created for the first one.
func (t *pgTx) InsertInbox(ctx context.Context, items []model.ApprovalInbox) error {
	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO maintflow.approval_inbox
			(company_id, approval_id, member_id, inbox_type, decision, is_read, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)
			ON CONFLICT (company_id, approval_id, member_id) DO NOTHING`,
			item.CompanyID, item.ApprovalID, item.MemberID, item.InboxType, item.Decision, item.CreatedAt)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert inbox row", err)
		}
	}
	return nil
}

// UpdateInboxForMember re-types the member's row and marks it read.
func (t *pgTx) UpdateInboxForMember(ctx context.Context, companyID, approvalID, memberID, inboxType string, readAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE maintflow.approval_inbox
		SET inbox_type = $4, is_read = TRUE, read_at = COALESCE(read_at, $5), updated_at = $5
		WHERE company_id = $1 AND approval_id = $2 AND member_id = $3`,
		companyID, approvalID, memberID, inboxType, readAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update inbox row", err)
	}
	return nil
}

// CompleteInboxForApproval flips every row of the approval to CMPLT and read.
func (t *pgTx) CompleteInboxForApproval(ctx context.Context, companyID, approvalID string, readAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE maintflow.approval_inbox
		SET inbox_type = $3, is_read = TRUE, read_at = COALESCE(read_at, $4), updated_at = $4
		WHERE company_id = $1 AND approval_id = $2`,
		companyID, approvalID, model.InboxTypeCompleted, readAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete inbox rows", err)
	}
	return nil
}
