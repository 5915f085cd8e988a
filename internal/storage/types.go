// Package storage persists the financial audit trail, custodial wallets and
// the address book.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrWalletExists    = errors.New("user already has a wallet")
	ErrAlreadyTerminal = errors.New("record already has a terminal status")
	ErrContactExists   = errors.New("contact already exists")
)

type ActionType string

const (
	ActionSwapQuote      ActionType = "CRYPTO_SWAP_QUOTE_SWING"
	ActionSwap           ActionType = "CRYPTO_SWAP_SWING"
	ActionSwapReconcile  ActionType = "CRYPTO_SWAP_RECONCILE_SWING"
	ActionCryptoTransfer ActionType = "CRYPTO_TRANSFER"
	ActionNativeTransfer ActionType = "NATIVE_TRANSFER"
)

type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusError      Status = "ERROR"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusError
}

// Leg is one side of a financial action.
type Leg struct {
	Currency      string              `json:"currency"`
	Network       string              `json:"network"`
	Wallet        string              `json:"wallet"`
	BalanceBefore decimal.NullDecimal `json:"balance_before"`
	BalanceAfter  decimal.NullDecimal `json:"balance_after"`
}

// Record is the FinancialActionRecord: created PROCESSING and completed
// exactly once.
type Record struct {
	ID               string              `json:"id"`
	AccountID        string              `json:"account_id"`
	ActionType       ActionType          `json:"action_type"`
	Input            Leg                 `json:"input"`
	Output           Leg                 `json:"output"`
	ApprovalType     string              `json:"approval_type,omitempty"`
	Status           Status              `json:"status"`
	ResultData       json.RawMessage     `json:"result_data,omitempty"`
	UserMessage      string              `json:"user_message,omitempty"`
	CommissionAmount decimal.NullDecimal `json:"commission_amount"`
	CommissionWallet string              `json:"commission_wallet,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	ResultAt         *time.Time          `json:"result_at,omitempty"`
}

// Outcome is the terminal update applied to a PROCESSING record.
type Outcome struct {
	Status             Status
	ResultData         any
	UserMessage        string
	InputBalanceAfter  decimal.NullDecimal
	OutputBalanceAfter decimal.NullDecimal
	CommissionAmount   decimal.NullDecimal
	CommissionWallet   string
}

type RecordFilter struct {
	AccountID  string
	ActionType ActionType
	Status     Status
	Limit      int
}

type Wallet struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Address           string    `json:"address"`
	Network           string    `json:"network"`
	Currency          string    `json:"currency"`
	EncodedPrivateKey string    `json:"-"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

type Contact struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	WalletAddress  string    `json:"wallet_address,omitempty"`
	TelegramHandle string    `json:"telegram_handle,omitempty"`
	PhoneNumber    string    `json:"phone_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type RecordStore interface {
	CreateRecord(ctx context.Context, rec *Record) error
	CompleteRecord(ctx context.Context, id string, out Outcome) (Record, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
}

type WalletStore interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	WalletByUser(ctx context.Context, userID string) (Wallet, error)
	WalletByAddress(ctx context.Context, address string) (Wallet, error)
}

type ContactStore interface {
	ListContacts(ctx context.Context, userID string) ([]Contact, error)
	AddContact(ctx context.Context, c *Contact) error
	UpdateContact(ctx context.Context, c Contact) error
	RemoveContact(ctx context.Context, userID, name string) error
}

// Store is implemented by SQLiteStore and PostgresStore.
type Store interface {
	RecordStore
	WalletStore
	ContactStore
	Close() error
}

// prepareRecord fills identifiers and forces the initial status.
func prepareRecord(rec *Record, now time.Time) {
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = StatusProcessing
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.ResultAt = nil
}

// applyOutcome mutates a PROCESSING record into its terminal form.
func applyOutcome(rec *Record, out Outcome, now time.Time) error {
	if rec.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if !out.Status.Terminal() {
		return errors.New("outcome status must be terminal")
	}
	rec.Status = out.Status
	rec.UserMessage = out.UserMessage
	if out.ResultData != nil {
		buf, err := json.Marshal(out.ResultData)
		if err != nil {
			return err
		}
		rec.ResultData = buf
	}
	if out.InputBalanceAfter.Valid {
		rec.Input.BalanceAfter = out.InputBalanceAfter
	}
	if out.OutputBalanceAfter.Valid {
		rec.Output.BalanceAfter = out.OutputBalanceAfter
	}
	if out.CommissionAmount.Valid {
		rec.CommissionAmount = out.CommissionAmount
	}
	if out.CommissionWallet != "" {
		rec.CommissionWallet = out.CommissionWallet
	}
	rec.UpdatedAt = now
	rec.ResultAt = &now
	return nil
}

func prepareWallet(w *Wallet, now time.Time) {
	if strings.TrimSpace(w.ID) == "" {
		w.ID = uuid.NewString()
	}
	w.Active = true
	w.CreatedAt = now
}

func prepareContact(c *Contact, now time.Time) {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.NewString()
	}
	c.Name = strings.TrimSpace(c.Name)
	c.CreatedAt = now
	c.UpdatedAt = now
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 500 {
		return 500
	}
	return limit
}
