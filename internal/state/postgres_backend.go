package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// PostgresBackend journals change sets into PostgreSQL. Amounts are stored
// as NUMERIC(20,0) so the full uint64 range round-trips.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a backend over an open database handle.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	if err := p.each(ctx, `SELECT principal, amount::TEXT FROM balances`, func(r *sql.Rows) error {
		var who, amount string
		if err := r.Scan(&who, &amount); err != nil {
			return err
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return err
		}
		snap.Balances[Principal(who)] = v
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}

	if err := p.each(ctx, `SELECT principal FROM frozen_accounts`, func(r *sql.Rows) error {
		var who string
		if err := r.Scan(&who); err != nil {
			return err
		}
		snap.Frozen[Principal(who)] = struct{}{}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load frozen accounts: %w", err)
	}

	if err := p.each(ctx, `SELECT principal FROM blacklisted_addresses`, func(r *sql.Rows) error {
		var who string
		if err := r.Scan(&who); err != nil {
			return err
		}
		snap.Blacklist[Principal(who)] = struct{}{}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}

	if err := p.each(ctx, `SELECT principal, day::TEXT, amount::TEXT, tx_count::TEXT FROM period_stats`, func(r *sql.Rows) error {
		var who, day, amount, count string
		if err := r.Scan(&who, &day, &amount, &count); err != nil {
			return err
		}
		vals, err := parseNumerics(day, amount, count)
		if err != nil {
			return err
		}
		snap.PeriodStats[PeriodKey{User: Principal(who), Day: vals[0]}] = PeriodStat{Amount: vals[1], Count: vals[2]}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load period stats: %w", err)
	}

	if err := p.each(ctx, `SELECT principal, score::TEXT, last_update::TEXT FROM suspicious_activity`, func(r *sql.Rows) error {
		var who, score, last string
		if err := r.Scan(&who, &score, &last); err != nil {
			return err
		}
		vals, err := parseNumerics(score, last)
		if err != nil {
			return err
		}
		snap.Suspicious[Principal(who)] = SuspiciousActivity{Score: vals[0], LastUpdate: vals[1]}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load suspicious activity: %w", err)
	}

	if err := p.each(ctx, `SELECT sender, recipient, nonce::TEXT, amount::TEXT, created_day::TEXT, released FROM escrows`, func(r *sql.Rows) error {
		var sender, recipient, nonce, amount, day string
		var released bool
		if err := r.Scan(&sender, &recipient, &nonce, &amount, &day, &released); err != nil {
			return err
		}
		vals, err := parseNumerics(nonce, amount, day)
		if err != nil {
			return err
		}
		key := EscrowKey{Sender: Principal(sender), Recipient: Principal(recipient), Nonce: vals[0]}
		snap.Escrows[key] = Escrow{Amount: vals[1], Timestamp: vals[2], Released: released}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load escrows: %w", err)
	}

	row := p.db.QueryRowContext(ctx, `
		SELECT owner, fraud_detection_enabled, max_transaction_amount::TEXT,
		       daily_limit::TEXT, current_day::TEXT
		FROM contract_settings WHERE id = 1`)
	var (
		owner             string
		enabled           bool
		maxTx, limit, day string
	)
	switch err := row.Scan(&owner, &enabled, &maxTx, &limit, &day); err {
	case sql.ErrNoRows:
		// Fresh database; the store commits genesis settings.
	case nil:
		vals, err := parseNumerics(maxTx, limit, day)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		snap.Settings = &Settings{
			Owner:                 Principal(owner),
			FraudDetectionEnabled: enabled,
			MaxTransactionAmount:  vals[0],
			DailyLimit:            vals[1],
			CurrentDay:            vals[2],
		}
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return snap, nil
}

// Commit writes the change set in a single database transaction.
func (p *PostgresBackend) Commit(ctx context.Context, cs *ChangeSet) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for who, amount := range cs.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (principal, amount, updated_at)
			VALUES ($1, $2::NUMERIC(20,0), NOW())
			ON CONFLICT (principal) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()`,
			string(who), fmtNumeric(amount)); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
	}

	if err := setMembership(ctx, tx, "frozen_accounts", cs.Frozen); err != nil {
		return fmt.Errorf("write frozen accounts: %w", err)
	}
	if err := setMembership(ctx, tx, "blacklisted_addresses", cs.Blacklist); err != nil {
		return fmt.Errorf("write blacklist: %w", err)
	}

	for k, v := range cs.PeriodStats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO period_stats (principal, day, amount, tx_count)
			VALUES ($1, $2::NUMERIC(20,0), $3::NUMERIC(20,0), $4::NUMERIC(20,0))
			ON CONFLICT (principal, day) DO UPDATE SET amount = EXCLUDED.amount, tx_count = EXCLUDED.tx_count`,
			string(k.User), fmtNumeric(k.Day), fmtNumeric(v.Amount), fmtNumeric(v.Count)); err != nil {
			return fmt.Errorf("write period stats: %w", err)
		}
	}

	for who, v := range cs.Suspicious {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO suspicious_activity (principal, score, last_update)
			VALUES ($1, $2::NUMERIC(20,0), $3::NUMERIC(20,0))
			ON CONFLICT (principal) DO UPDATE SET score = EXCLUDED.score, last_update = EXCLUDED.last_update`,
			string(who), fmtNumeric(v.Score), fmtNumeric(v.LastUpdate)); err != nil {
			return fmt.Errorf("write suspicious activity: %w", err)
		}
	}

	for k, v := range cs.Escrows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escrows (sender, recipient, nonce, amount, created_day, released)
			VALUES ($1, $2, $3::NUMERIC(20,0), $4::NUMERIC(20,0), $5::NUMERIC(20,0), $6)
			ON CONFLICT (sender, recipient, nonce) DO UPDATE SET released = EXCLUDED.released`,
			string(k.Sender), string(k.Recipient), fmtNumeric(k.Nonce),
			fmtNumeric(v.Amount), fmtNumeric(v.Timestamp), v.Released); err != nil {
			return fmt.Errorf("write escrow: %w", err)
		}
	}

	if s := cs.Settings; s != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contract_settings (id, owner, fraud_detection_enabled, max_transaction_amount, daily_limit, current_day)
			VALUES (1, $1, $2, $3::NUMERIC(20,0), $4::NUMERIC(20,0), $5::NUMERIC(20,0))
			ON CONFLICT (id) DO UPDATE SET
				fraud_detection_enabled = EXCLUDED.fraud_detection_enabled,
				max_transaction_amount = EXCLUDED.max_transaction_amount,
				daily_limit = EXCLUDED.daily_limit,
				current_day = EXCLUDED.current_day`,
			string(s.Owner), s.FraudDetectionEnabled, fmtNumeric(s.MaxTransactionAmount),
			fmtNumeric(s.DailyLimit), fmtNumeric(s.CurrentDay)); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
	}

	return tx.Commit()
}

// setMembership inserts members flagged true and deletes those flagged false.
// table is always a package constant.
func setMembership(ctx context.Context, tx *sql.Tx, table string, changes map[Principal]bool) error {
	for who, on := range changes {
		var err error
		if on {
			_, err = tx.ExecContext(ctx, `INSERT INTO `+table+` (principal) VALUES ($1) ON CONFLICT (principal) DO NOTHING`, string(who))
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE principal = $1`, string(who))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresBackend) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func fmtNumeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("numeric %q out of range: %w", s, err)
	}
	return v, nil
}

func parseNumerics(ss ...string) ([]uint64, error) {
	out := make([]uint64, len(ss))
	for i, s := range ss {
		v, err := parseNumeric(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
