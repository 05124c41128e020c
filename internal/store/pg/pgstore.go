// Package pg implements the audit transaction log on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"certledger.org/internal/audit"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

const pgErrUniqueViolation = "23505"

// AuditStore persists audit entries in the certificate_transactions table.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

// Open connects through the pgx stdlib driver with tuned pool defaults.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Close() error { return s.db.Close() }

func (s *AuditStore) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *AuditStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *AuditStore) Record(ctx context.Context, e *audit.Entry) error {
	if e == nil {
		return errors.New("pg: nil entry")
	}
	if e.TxRef == "" {
		return fmt.Errorf("%w: tx ref is required", ledger.ErrValidation)
	}
	if e.Status == "" {
		e.Status = audit.StatusConfirmed
	}
	if !audit.ValidStatus(e.Status) {
		return audit.ErrInvalidStatus
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		insert into certificate_transactions (tx_ref, doc_hash, blob_ref, writer, recorded_at, status, block, cost)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id
	`, e.TxRef, e.Hash.String(), e.BlobRef, e.Writer.String(), e.RecordedAt, e.Status, int64(e.Block), int64(e.Cost))
	if err := row.Scan(&e.ID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return audit.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *AuditStore) SetStatus(ctx context.Context, txRef, status string) error {
	if !audit.ValidStatus(status) {
		return audit.ErrInvalidStatus
	}
	res, err := s.db.ExecContext(ctx, `update certificate_transactions set status = $1 where tx_ref = $2`, status, txRef)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return audit.ErrEntryNotFound
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, afterID int64, limit int) ([]audit.Entry, int64, error) {
	limit = ledger.NormalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		select id, tx_ref, doc_hash, blob_ref, writer, recorded_at, status, block, cost
		from certificate_transactions
		where id > $1
		order by id asc
		limit $2
	`, afterID, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []audit.Entry
	last := afterID
	for rows.Next() {
		var (
			e            audit.Entry
			hash, writer string
			block, cost  int64
		)
		if err := rows.Scan(&e.ID, &e.TxRef, &hash, &e.BlobRef, &writer, &e.RecordedAt, &e.Status, &block, &cost); err != nil {
			return nil, 0, err
		}
		if e.Hash, err = fingerprint.Parse(hash); err != nil {
			return nil, 0, fmt.Errorf("pg: row %d: %w", e.ID, err)
		}
		if e.Writer, err = ledger.ParseAddress(writer); err != nil {
			return nil, 0, fmt.Errorf("pg: row %d: %w", e.ID, err)
		}
		e.Block, e.Cost = uint64(block), uint64(cost)
		res = append(res, e)
		last = e.ID
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, last, nil
}

func (s *AuditStore) Stats(ctx context.Context) (audit.Stats, error) {
	var (
		st   audit.Stats
		cost int64
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select count(*), count(distinct writer), coalesce(sum(cost), 0), max(recorded_at)
		from certificate_transactions
	`).Scan(&st.Total, &st.Writers, &cost, &last)
	if err != nil {
		return audit.Stats{}, err
	}
	st.TotalCost = uint64(cost)
	if last.Valid {
		at := last.Time
		st.LastRecordedAt = &at
	}
	return st, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
