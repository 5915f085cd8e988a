package intent

import (
	"context"
	"fmt"

	"github.com/MoseikiApp/peasy-ai/internal/contacts"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
)

func (d *Dispatcher) contactList(ctx context.Context, c Caller, _ []string, _ notify.Emitter) (string, error) {
	all, err := d.svc.Contacts.List(ctx, c.UserID)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "You have no contacts yet. Add some contacts to your address book.", nil
	}
	return "Your contacts - Name, Telegram handle, Wallet address: \r\n\r\n" + contacts.Lines(all), nil
}

func (d *Dispatcher) findContact(ctx context.Context, c Caller, p []string, _ notify.Emitter) (string, error) {
	found, err := d.svc.Contacts.Find(ctx, c.UserID, p[0])
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "No contacts found with name: " + p[0], nil
	}
	return "Found contacts: \r\n" + contacts.Lines(found), nil
}

func (d *Dispatcher) addContact(ctx context.Context, c Caller, p []string, _ notify.Emitter) (string, error) {
	tg := ""
	if len(p) > 2 {
		tg = p[2]
	}
	added, err := d.svc.Contacts.Add(ctx, c.UserID, p[0], p[1], tg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Contact added successfully: %s (%s)", added.Name, added.WalletAddress), nil
}

func (d *Dispatcher) removeContact(ctx context.Context, c Caller, p []string, _ notify.Emitter) (string, error) {
	if err := d.svc.Contacts.Remove(ctx, c.UserID, p[0]); err != nil {
		return "", err
	}
	return "Contact removed successfully", nil
}

func (d *Dispatcher) updateContact(ctx context.Context, c Caller, p []string, _ notify.Emitter) (string, error) {
	updated, err := d.svc.Contacts.Update(ctx, c.UserID, p[0], p[1:])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Contact updated successfully: %s (%s)", updated.Name, updated.WalletAddress), nil
}
