package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the shared store used when several serve replicas write
// the same audit trail.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS peasy_records (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_peasy_records_account ON peasy_records(account_id, created_at DESC);
CREATE TABLE IF NOT EXISTS peasy_wallets (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	address TEXT NOT NULL,
	address_lower TEXT NOT NULL UNIQUE,
	network TEXT NOT NULL,
	currency TEXT NOT NULL,
	encoded_key TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS peasy_contacts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	name_lower TEXT NOT NULL,
	wallet_address TEXT NOT NULL DEFAULT '',
	telegram_handle TEXT NOT NULL DEFAULT '',
	phone_number TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(user_id, name_lower)
);`

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(connectCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("create record: nil record")
	}
	prepareRecord(rec, s.now())
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO peasy_records (id, account_id, action_type, status, created_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.AccountID, string(rec.ActionType), string(rec.Status), rec.CreatedAt, rec.UpdatedAt, payload)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteRecord(ctx context.Context, id string, out Outcome) (Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := pgRecord(tx.QueryRow(ctx, "SELECT payload FROM peasy_records WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return Record{}, err
	}
	if err := applyOutcome(&rec, out, s.now()); err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE peasy_records SET status = $1, updated_at = $2, payload = $3
		WHERE id = $4 AND status = $5
	`, string(rec.Status), rec.UpdatedAt, payload, id, string(StatusProcessing))
	if err != nil {
		return Record{}, fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return Record{}, ErrAlreadyTerminal
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (Record, error) {
	return pgRecord(s.pool.QueryRow(ctx, "SELECT payload FROM peasy_records WHERE id = $1", id))
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	where := []string{}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.AccountID != "" {
		add("account_id = $%d", filter.AccountID)
	}
	if filter.ActionType != "" {
		add("action_type = $%d", string(filter.ActionType))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	q := "SELECT payload FROM peasy_records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := pgRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func pgRecord(row pgx.Row) (Record, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record payload: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CreateWallet(ctx context.Context, w *Wallet) error {
	if w == nil {
		return fmt.Errorf("create wallet: nil wallet")
	}
	prepareWallet(w, s.now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO peasy_wallets (id, user_id, address, address_lower, network, currency, encoded_key, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
	`, w.ID, w.UserID, w.Address, strings.ToLower(w.Address), w.Network, w.Currency, w.EncodedPrivateKey, w.CreatedAt)
	if err != nil {
		if pgUniqueViolation(err) {
			return ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (s *PostgresStore) WalletByUser(ctx context.Context, userID string) (Wallet, error) {
	return s.queryWallet(ctx, "user_id = $1", userID)
}

func (s *PostgresStore) WalletByAddress(ctx context.Context, address string) (Wallet, error) {
	return s.queryWallet(ctx, "address_lower = $1", strings.ToLower(strings.TrimSpace(address)))
}

func (s *PostgresStore) queryWallet(ctx context.Context, cond string, arg any) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, address, network, currency, encoded_key, active, created_at
		FROM peasy_wallets WHERE `+cond, arg).Scan(&w.ID, &w.UserID, &w.Address, &w.Network, &w.Currency, &w.EncodedPrivateKey, &w.Active, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, fmt.Errorf("read wallet: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, userID string) ([]Contact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, wallet_address, telegram_handle, phone_number, created_at, updated_at
		FROM peasy_contacts WHERE user_id = $1 ORDER BY name_lower
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	out := make([]Contact, 0)
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.WalletAddress, &c.TelegramHandle, &c.PhoneNumber, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AddContact(ctx context.Context, c *Contact) error {
	if c == nil {
		return fmt.Errorf("add contact: nil contact")
	}
	prepareContact(c, s.now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO peasy_contacts (id, user_id, name, name_lower, wallet_address, telegram_handle, phone_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.UserID, c.Name, strings.ToLower(c.Name), c.WalletAddress, c.TelegramHandle, c.PhoneNumber, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if pgUniqueViolation(err) {
			return ErrContactExists
		}
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateContact(ctx context.Context, c Contact) error {
	c.Name = strings.TrimSpace(c.Name)
	tag, err := s.pool.Exec(ctx, `
		UPDATE peasy_contacts SET name = $1, name_lower = $2, wallet_address = $3, telegram_handle = $4, phone_number = $5, updated_at = $6
		WHERE id = $7 AND user_id = $8
	`, c.Name, strings.ToLower(c.Name), c.WalletAddress, c.TelegramHandle, c.PhoneNumber, s.now(), c.ID, c.UserID)
	if err != nil {
		if pgUniqueViolation(err) {
			return ErrContactExists
		}
		return fmt.Errorf("update contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RemoveContact(ctx context.Context, userID, name string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM peasy_contacts WHERE user_id = $1 AND name_lower = $2", userID, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return isUniqueViolation(err)
}
