// Package contacts is the per-user address book used to name send targets.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

var (
	ErrNoFields = clierr.New(clierr.CodeUsage, "At least one field must be provided for update")
	ErrMissing  = clierr.New(clierr.CodeUsage, "Name and wallet address must be provided for adding contact")
	ErrUnknown  = clierr.New(clierr.CodeNotFound, "Contact not found. Please provide exact name of the contact.")
)

type Book struct {
	store  storage.ContactStore
	logger *zap.Logger
}

func New(store storage.ContactStore, logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{store: store, logger: logger.Named("contacts")}
}

func (b *Book) List(ctx context.Context, userID string) ([]storage.Contact, error) {
	return b.store.ListContacts(ctx, userID)
}

// Find matches names containing term, ignoring case. When nothing matches it
// falls back to names with a word starting with term.
func (b *Book) Find(ctx context.Context, userID, term string) ([]storage.Contact, error) {
	all, err := b.store.ListContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Match(all, term), nil
}

func Match(all []storage.Contact, term string) []storage.Contact {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	var out []storage.Contact
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), term) {
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, c := range all {
		for _, w := range strings.Fields(strings.ToLower(c.Name)) {
			if strings.HasPrefix(w, term) || strings.HasPrefix(term, w) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (b *Book) Add(ctx context.Context, userID, name, wallet, telegram string) (storage.Contact, error) {
	name, wallet = strings.TrimSpace(name), strings.TrimSpace(wallet)
	if name == "" || wallet == "" {
		return storage.Contact{}, ErrMissing
	}
	if !id.IsAddress(wallet) {
		return storage.Contact{}, invalidAddress(wallet)
	}
	c := storage.Contact{UserID: userID, Name: name, WalletAddress: wallet, TelegramHandle: strings.TrimSpace(telegram)}
	if err := b.store.AddContact(ctx, &c); err != nil {
		if errors.Is(err, storage.ErrContactExists) {
			return storage.Contact{}, clierr.Wrap(clierr.CodeConflict, "Contact with name "+name+" already exists", err)
		}
		return storage.Contact{}, err
	}
	b.logger.Info("contact added", zap.String("user", userID), zap.String("contact", c.ID))
	return c, nil
}

func (b *Book) Remove(ctx context.Context, userID, name string) error {
	if err := b.store.RemoveContact(ctx, userID, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnknown
		}
		return err
	}
	return nil
}

// Update applies key=value pairs (name, walletAddress, telegramHandle,
// phoneNumber) to the contact with the exact name given.
func (b *Book) Update(ctx context.Context, userID, name string, pairs []string) (storage.Contact, error) {
	fields := ParseFields(pairs)
	if len(fields) == 0 {
		return storage.Contact{}, ErrNoFields
	}
	all, err := b.store.ListContacts(ctx, userID)
	if err != nil {
		return storage.Contact{}, err
	}
	var c *storage.Contact
	for i := range all {
		if strings.EqualFold(all[i].Name, strings.TrimSpace(name)) {
			c = &all[i]
			break
		}
	}
	if c == nil {
		return storage.Contact{}, ErrUnknown
	}
	for k, v := range fields {
		switch k {
		case "name":
			c.Name = v
		case "walletaddress":
			if !id.IsAddress(v) {
				return storage.Contact{}, invalidAddress(v)
			}
			c.WalletAddress = v
		case "telegramhandle":
			c.TelegramHandle = v
		case "phonenumber":
			c.PhoneNumber = v
		}
	}
	if err := b.store.UpdateContact(ctx, *c); err != nil {
		if errors.Is(err, storage.ErrContactExists) {
			return storage.Contact{}, clierr.Wrap(clierr.CodeConflict, "Contact with name "+c.Name+" already exists", err)
		}
		return storage.Contact{}, err
	}
	return *c, nil
}

var updatable = map[string]bool{"name": true, "walletaddress": true, "telegramhandle": true, "phonenumber": true}

// ParseFields keeps the recognised key=value pairs, keyed by lower-cased key.
// Empty values are ignored.
func ParseFields(pairs []string) map[string]string {
	out := map[string]string{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if !updatable[k] || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func invalidAddress(addr string) error {
	return clierr.New(clierr.CodeUsage, fmt.Sprintf("Invalid Ethereum address format: %s", addr))
}

// Line renders a contact as "name (telegram) (wallet)".
func Line(c storage.Contact) string {
	return fmt.Sprintf("%s (%s) (%s)", c.Name, c.TelegramHandle, c.WalletAddress)
}

func Lines(all []storage.Contact) string {
	lines := make([]string, 0, len(all))
	for _, c := range all {
		lines = append(lines, Line(c))
	}
	return strings.Join(lines, "\r\n")
}
