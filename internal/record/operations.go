// Package record persists orchestrated operation outcomes to Postgres. It is
// an optional sink next to the file journal; binaries wire it only when a DSN
// is configured.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"stablevault/pkg/vault"
)

var _ OperationsModel = (*defaultOperationsModel)(nil)

// Operation is a nullable-safe representation of one stored operation row.
type Operation struct {
	ID           int64
	Operation    string
	Owner        string
	PositionID   *string
	Amounts      map[string]string
	Digest       *string
	Status       string
	RevertReason *string
	ErrorMessage *string
	CreatedAtMs  int64
}

type operationRow struct {
	Id           int64          `db:"id"`
	Operation    string         `db:"operation"`
	OwnerAddress string         `db:"owner_address"`
	PositionId   sql.NullString `db:"position_id"`
	Amounts      sql.NullString `db:"amounts"`
	Digest       sql.NullString `db:"digest"`
	Status       string         `db:"status"`
	RevertReason sql.NullString `db:"revert_reason"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAtMs  int64          `db:"created_at_ms"`
}

type (
	// OperationsModel stores and queries orchestrated operation records.
	OperationsModel interface {
		Insert(ctx context.Context, rec *vault.OperationRecord) error
		RecentByOwner(ctx context.Context, owner string, limit int) ([]Operation, error)
	}

	defaultOperationsModel struct {
		conn sqlx.SqlConn
	}
)

// NewOperationsModel returns a model for the vault_operations table.
func NewOperationsModel(conn sqlx.SqlConn) OperationsModel {
	return &defaultOperationsModel{conn: conn}
}

// Insert stores one journal record.
func (m *defaultOperationsModel) Insert(ctx context.Context, rec *vault.OperationRecord) error {
	if rec == nil {
		return fmt.Errorf("record: nil operation record")
	}
	var amounts sql.NullString
	if len(rec.Amounts) > 0 {
		encoded, err := json.Marshal(rec.Amounts)
		if err != nil {
			return fmt.Errorf("record: encode amounts: %w", err)
		}
		amounts = sql.NullString{String: string(encoded), Valid: true}
	}

	const query = `
INSERT INTO public.vault_operations
    (operation, owner_address, position_id, amounts, digest, status, revert_reason, error_message, created_at_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := m.conn.ExecCtx(ctx, query,
		rec.Operation,
		rec.Owner,
		nullable(rec.PositionID),
		amounts,
		nullable(rec.Digest),
		rec.Status,
		nullable(rec.RevertReason),
		nullable(rec.ErrorMessage),
		rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record: insert operation: %w", err)
	}
	return nil
}

// RecentByOwner returns an owner's operations ordered newest first. Limit
// defaults to 100 when non-positive.
func (m *defaultOperationsModel) RecentByOwner(ctx context.Context, owner string, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
SELECT
    id,
    operation,
    owner_address,
    position_id,
    amounts,
    digest,
    status,
    revert_reason,
    error_message,
    created_at_ms
FROM public.vault_operations
WHERE owner_address = $1
ORDER BY created_at_ms DESC
LIMIT $2`

	var rows []operationRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, owner, limit); err != nil {
		return nil, fmt.Errorf("record: RecentByOwner query: %w", err)
	}

	result := make([]Operation, 0, len(rows))
	for i := range rows {
		result = append(result, buildOperation(&rows[i]))
	}
	return result, nil
}

func buildOperation(row *operationRow) Operation {
	op := Operation{
		ID:          row.Id,
		Operation:   row.Operation,
		Owner:       row.OwnerAddress,
		Status:      row.Status,
		CreatedAtMs: row.CreatedAtMs,
	}
	if row.PositionId.Valid {
		value := row.PositionId.String
		op.PositionID = &value
	}
	if row.Amounts.Valid {
		_ = json.Unmarshal([]byte(row.Amounts.String), &op.Amounts)
	}
	if row.Digest.Valid {
		value := row.Digest.String
		op.Digest = &value
	}
	if row.RevertReason.Valid {
		value := row.RevertReason.String
		op.RevertReason = &value
	}
	if row.ErrorMessage.Valid {
		value := row.ErrorMessage.String
		op.ErrorMessage = &value
	}
	return op
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
