package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/maintflow/maintflow/internal/apierror"
)

// RefDocumentTable names the columns a consuming module exposes for one
// approval stage of its document.
type RefDocumentTable struct {
	Table          string
	IDColumn       string
	StatusColumn   string
	ApprovalColumn string
}

// RefDocumentUpdate moves a referenced document to Status. A nil ApprovalID
// clears the approval reference. When OnlyFromStatuses is set, documents in
// any other status are left untouched. When OwnerApprovalID is set, a
// document that references a different approval is left untouched.
type RefDocumentUpdate struct {
	Target           RefDocumentTable
	CompanyID        string
	RefID            string
	Status           string
	ApprovalID       *string
	OnlyFromStatuses []string
	OwnerApprovalID  string
}

// UpdateRefDocument applies the update and returns the number of rows changed.
func (t *pgTx) UpdateRefDocument(ctx context.Context, u RefDocumentUpdate) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE maintflow.%s
		SET %s = $3, %s = $4, updated_at = NOW()
		WHERE company_id = $1 AND %s = $2`,
		pq.QuoteIdentifier(u.Target.Table),
		pq.QuoteIdentifier(u.Target.StatusColumn),
		pq.QuoteIdentifier(u.Target.ApprovalColumn),
		pq.QuoteIdentifier(u.Target.IDColumn),
	)
	args := []interface{}{u.CompanyID, u.RefID, u.Status, u.ApprovalID}
	if len(u.OnlyFromStatuses) > 0 {
		query += fmt.Sprintf(" AND %s = ANY($5)", pq.QuoteIdentifier(u.Target.StatusColumn))
		args = append(args, pq.Array(u.OnlyFromStatuses))
	}
	if u.OwnerApprovalID != "" {
		args = append(args, u.OwnerApprovalID)
		approvalColumn := pq.QuoteIdentifier(u.Target.ApprovalColumn)
		query += fmt.Sprintf(" AND (%s IS NULL OR %s = $%d)", approvalColumn, approvalColumn, len(args))
	}

	result, err := t.tx.ExecContext(ctx, strings.TrimSpace(query), args...)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to update %s", u.Target.Table), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected, nil
}

// RefDocumentExists reports whether the referenced document is present.
func (t *pgTx) RefDocumentExists(ctx context.Context, target RefDocumentTable, companyID, refID string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM maintflow.%s WHERE company_id = $1 AND %s = $2
		)`,
		pq.QuoteIdentifier(target.Table),
		pq.QuoteIdentifier(target.IDColumn),
	)
	var exists bool
	if err := t.tx.QueryRowContext(ctx, strings.TrimSpace(query), companyID, refID).Scan(&exists); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to look up %s", target.Table), err)
	}
	return exists, nil
}
