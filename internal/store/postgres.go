package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"settlement-engine/internal/model"
)

// PostgresStore is the durable ObligationStore and AttemptRecorder backed by
// PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitDatabase opens the connection, verifies it, and bootstraps the schema.
func InitDatabase(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	logrus.Info("database initialized")
	return db, nil
}

func createTables(db *sql.DB) error {
	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS obligations (
			network VARCHAR(50) NOT NULL,
			ledger_id VARCHAR(255) NOT NULL,
			payer VARCHAR(255) NOT NULL,
			payee VARCHAR(255) NOT NULL,
			payer_address VARCHAR(255) NOT NULL,
			payee_address VARCHAR(255) NOT NULL,
			amount BIGINT NOT NULL,
			interval_seconds BIGINT NOT NULL,
			end_date TIMESTAMPTZ,
			max_payments BIGINT,
			fee BIGINT NOT NULL DEFAULT 0,
			fee_recipient VARCHAR(255) NOT NULL DEFAULT '',
			fee_currency VARCHAR(50) NOT NULL DEFAULT '',
			payment_count BIGINT NOT NULL DEFAULT 0,
			failed_payment_count BIGINT NOT NULL DEFAULT 0,
			next_due TIMESTAMPTZ NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			cancelled_at TIMESTAMPTZ,
			cancellation_reason VARCHAR(50),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (network, ledger_id)
		);`,
		`CREATE TABLE IF NOT EXISTS settlement_attempts (
			id SERIAL PRIMARY KEY,
			attempt_id VARCHAR(255) UNIQUE NOT NULL,
			network VARCHAR(50) NOT NULL,
			ledger_id VARCHAR(255) NOT NULL,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL,
			outcome VARCHAR(20) NOT NULL,
			tx_ref VARCHAR(255) NOT NULL,
			reason TEXT,
			attempted_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, q := range tableQueries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_obligations_due ON obligations(next_due) WHERE is_active;",
		"CREATE INDEX IF NOT EXISTS idx_attempts_obligation ON settlement_attempts(network, ledger_id);",
		"CREATE INDEX IF NOT EXISTS idx_attempts_attempted_at ON settlement_attempts(attempted_at);",
	}
	for _, q := range indexes {
		if _, err := db.Exec(q); err != nil {
			logrus.WithError(err).Warn("index creation skipped")
		}
	}
	return nil
}

const obligationColumns = `network, ledger_id, payer, payee, payer_address, payee_address,
	amount, interval_seconds, end_date, max_payments, fee, fee_recipient, fee_currency,
	payment_count, failed_payment_count, next_due, is_active, cancelled_at,
	cancellation_reason, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id model.ObligationID) (*model.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE network = $1 AND ledger_id = $2`
	o, err := scanObligation(s.db.QueryRowContext(ctx, query, id.Network, id.LedgerID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching obligation %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) Put(ctx context.Context, o *model.Obligation) error {
	query := `
		INSERT INTO obligations (` + obligationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (network, ledger_id) DO UPDATE SET
			payment_count = EXCLUDED.payment_count,
			failed_payment_count = EXCLUDED.failed_payment_count,
			next_due = EXCLUDED.next_due,
			is_active = EXCLUDED.is_active,
			cancelled_at = EXCLUDED.cancelled_at,
			cancellation_reason = EXCLUDED.cancellation_reason,
			updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, query, obligationArgs(o)...)
	if err != nil {
		return fmt.Errorf("saving obligation %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, o *model.Obligation) error {
	query := `
		UPDATE obligations SET
			payment_count = $3,
			failed_payment_count = $4,
			next_due = $5,
			is_active = $6,
			cancelled_at = $7,
			cancellation_reason = $8,
			updated_at = NOW()
		WHERE network = $1 AND ledger_id = $2`
	res, err := s.db.ExecContext(ctx, query,
		o.ID.Network, o.ID.LedgerID,
		o.PaymentCount, o.FailedPaymentCount, o.NextDue,
		o.IsActive, nullTime(o.CancelledAt), nullReason(o.CancellationReason))
	if err != nil {
		return fmt.Errorf("updating obligation %s: %w", o.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]*model.Obligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM obligations
		WHERE is_active AND next_due <= $1
		ORDER BY next_due ASC, network ASC, ledger_id ASC`
	args := []interface{}{now.Add(lookahead)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing due obligations: %w", err)
	}
	defer rows.Close()

	var due []*model.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning obligation: %w", err)
		}
		due = append(due, o)
	}
	return due, rows.Err()
}

func (s *PostgresStore) CountDue(ctx context.Context, now time.Time, lookahead time.Duration) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM obligations WHERE is_active AND next_due <= $1`,
		now.Add(lookahead)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting due obligations: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, a *model.SettlementAttempt) error {
	query := `
		INSERT INTO settlement_attempts (
			attempt_id, network, ledger_id, amount, fee, outcome, tx_ref, reason, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		a.AttemptID, a.ObligationID.Network, a.ObligationID.LedgerID,
		a.Amount, a.Fee, string(a.Outcome), a.TxRef, nullString(a.Reason), a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("recording settlement attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, id model.ObligationID, limit int) ([]*model.SettlementAttempt, error) {
	query := `
		SELECT attempt_id, network, ledger_id, amount, fee, outcome, tx_ref, reason, attempted_at
		FROM settlement_attempts
		WHERE network = $1 AND ledger_id = $2
		ORDER BY attempted_at DESC
		LIMIT $3`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, id.Network, id.LedgerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing settlement attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*model.SettlementAttempt
	for rows.Next() {
		a := &model.SettlementAttempt{}
		var reason sql.NullString
		var outcome string
		err := rows.Scan(&a.AttemptID, &a.ObligationID.Network, &a.ObligationID.LedgerID,
			&a.Amount, &a.Fee, &outcome, &a.TxRef, &reason, &a.AttemptedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning settlement attempt: %w", err)
		}
		a.Outcome = model.AttemptOutcome(outcome)
		a.Reason = reason.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObligation(row rowScanner) (*model.Obligation, error) {
	o := &model.Obligation{}
	var endDate, cancelledAt sql.NullTime
	var maxPayments sql.NullInt64
	var reason sql.NullString

	err := row.Scan(
		&o.ID.Network, &o.ID.LedgerID, &o.Payer, &o.Payee, &o.PayerAddress, &o.PayeeAddress,
		&o.Amount, &o.Interval, &endDate, &maxPayments, &o.Fee, &o.FeeRecipient, &o.FeeCurrency,
		&o.PaymentCount, &o.FailedPaymentCount, &o.NextDue, &o.IsActive, &cancelledAt,
		&reason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if endDate.Valid {
		o.EndDate = &endDate.Time
	}
	if maxPayments.Valid {
		o.MaxPayments = &maxPayments.Int64
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	if reason.Valid {
		r := model.CancellationReason(reason.String)
		o.CancellationReason = &r
	}
	return o, nil
}

func obligationArgs(o *model.Obligation) []interface{} {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []interface{}{
		o.ID.Network, o.ID.LedgerID, o.Payer, o.Payee, o.PayerAddress, o.PayeeAddress,
		o.Amount, o.Interval, nullTime(o.EndDate), nullInt(o.MaxPayments),
		o.Fee, o.FeeRecipient, o.FeeCurrency,
		o.PaymentCount, o.FailedPaymentCount, o.NextDue, o.IsActive,
		nullTime(o.CancelledAt), nullReason(o.CancellationReason),
		createdAt, time.Now().UTC(),
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullReason(r *model.CancellationReason) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}
