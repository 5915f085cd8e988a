package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records as JSON payloads next to the columns they are
// queried by. Writers across processes serialize on a file lock.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLite(path, lockPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_records_account_created ON records(account_id, created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_records_status ON records(status, updated_at DESC);",
		`CREATE TABLE IF NOT EXISTS wallets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			address TEXT NOT NULL,
			address_lower TEXT NOT NULL UNIQUE,
			network TEXT NOT NULL,
			currency TEXT NOT NULL,
			encoded_key TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			name_lower TEXT NOT NULL,
			wallet_address TEXT NOT NULL DEFAULT '',
			telegram_handle TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(user_id, name_lower)
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init store schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, lock: flock.New(lockPath), now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withWriteLock holds the in-process mutex as well: a flock handle is
// re-entrant for the goroutines sharing it.
func (s *SQLiteStore) withWriteLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("create record: nil record")
	}
	prepareRecord(rec, s.now())
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.withWriteLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO records (id, account_id, action_type, status, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.AccountID, string(rec.ActionType), string(rec.Status), rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(), payload)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) CompleteRecord(ctx context.Context, id string, out Outcome) (Record, error) {
	var done Record
	err := s.withWriteLock(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rec, err := scanRecord(tx.QueryRowContext(ctx, "SELECT payload FROM records WHERE id = ?", id))
		if err != nil {
			return err
		}
		if err := applyOutcome(&rec, out, s.now()); err != nil {
			return err
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE records SET status = ?, updated_at = ?, payload = ?
			WHERE id = ? AND status = ?
		`, string(rec.Status), rec.UpdatedAt.UnixMilli(), payload, id, string(StatusProcessing))
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ErrAlreadyTerminal
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		done = rec
		return nil
	})
	return done, err
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, "SELECT payload FROM records WHERE id = ?", id))
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	where := []string{}
	args := []any{}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.ActionType != "" {
		where = append(where, "action_type = ?")
		args = append(args, string(filter.ActionType))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	q := "SELECT payload FROM records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) CreateWallet(ctx context.Context, w *Wallet) error {
	if w == nil {
		return fmt.Errorf("create wallet: nil wallet")
	}
	prepareWallet(w, s.now())
	return s.withWriteLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO wallets (id, user_id, address, address_lower, network, currency, encoded_key, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		`, w.ID, w.UserID, w.Address, strings.ToLower(w.Address), w.Network, w.Currency, w.EncodedPrivateKey, w.CreatedAt.UnixMilli())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrWalletExists
			}
			return fmt.Errorf("insert wallet: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) WalletByUser(ctx context.Context, userID string) (Wallet, error) {
	return s.queryWallet(ctx, "user_id = ?", userID)
}

func (s *SQLiteStore) WalletByAddress(ctx context.Context, address string) (Wallet, error) {
	return s.queryWallet(ctx, "address_lower = ?", strings.ToLower(strings.TrimSpace(address)))
}

func (s *SQLiteStore) queryWallet(ctx context.Context, cond string, arg any) (Wallet, error) {
	var w Wallet
	var active int
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, address, network, currency, encoded_key, active, created_at
		FROM wallets WHERE `+cond, arg).Scan(&w.ID, &w.UserID, &w.Address, &w.Network, &w.Currency, &w.EncodedPrivateKey, &active, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, fmt.Errorf("read wallet: %w", err)
	}
	w.Active = active == 1
	w.CreatedAt = time.UnixMilli(created).UTC()
	return w, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, userID string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, wallet_address, telegram_handle, phone_number, created_at, updated_at
		FROM contacts WHERE user_id = ? ORDER BY name_lower
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	out := make([]Contact, 0)
	for rows.Next() {
		var c Contact
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.WalletAddress, &c.TelegramHandle, &c.PhoneNumber, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.CreatedAt = time.UnixMilli(created).UTC()
		c.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AddContact(ctx context.Context, c *Contact) error {
	if c == nil {
		return fmt.Errorf("add contact: nil contact")
	}
	prepareContact(c, s.now())
	return s.withWriteLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO contacts (id, user_id, name, name_lower, wallet_address, telegram_handle, phone_number, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.UserID, c.Name, strings.ToLower(c.Name), c.WalletAddress, c.TelegramHandle, c.PhoneNumber, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrContactExists
			}
			return fmt.Errorf("insert contact: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateContact(ctx context.Context, c Contact) error {
	c.Name = strings.TrimSpace(c.Name)
	return s.withWriteLock(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE contacts SET name = ?, name_lower = ?, wallet_address = ?, telegram_handle = ?, phone_number = ?, updated_at = ?
			WHERE id = ? AND user_id = ?
		`, c.Name, strings.ToLower(c.Name), c.WalletAddress, c.TelegramHandle, c.PhoneNumber, s.now().UnixMilli(), c.ID, c.UserID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrContactExists
			}
			return fmt.Errorf("update contact: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) RemoveContact(ctx context.Context, userID, name string) error {
	return s.withWriteLock(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM contacts WHERE user_id = ? AND name_lower = ?", userID, strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return fmt.Errorf("delete contact: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
