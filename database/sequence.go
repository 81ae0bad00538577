package database

import (
	"context"

	"github.com/maintflow/maintflow/internal/apierror"
)

// NextID allocates the next value for (company, module, date bucket). It runs
// in its own transaction and commits before returning, so the row lock is
// held only for this statement and never for the caller's transaction.
func (d Datasource) NextID(ctx context.Context, companyID, moduleCode, dateKey string) (int64, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin sequence transaction", err)
	}

	var next int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO maintflow.sequences (company_id, module_code, date_key, last_value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (company_id, module_code, date_key)
		DO UPDATE SET last_value = maintflow.sequences.last_value + 1
		RETURNING last_value`, companyID, moduleCode, dateKey).Scan(&next)
	if err != nil {
		_ = tx.Rollback()
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to allocate sequence value", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit sequence value", err)
	}
	return next, nil
}
