package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/MoseikiApp/peasy-ai/internal/contacts"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

func (s *runtimeState) newContactsCommand() *cobra.Command {
	var user string
	root := &cobra.Command{Use: "contacts", Short: "Address book commands"}
	root.PersistentFlags().StringVar(&user, "user", "", "User id owning the address book")
	_ = root.MarkPersistentFlagRequired("user")

	withBook := func(run func(ctx context.Context, b *contacts.Book) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			b, err := s.engine.Contacts(ctx)
			if err != nil {
				return err
			}
			data, err := run(ctx, b)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: withBook(func(ctx context.Context, b *contacts.Book) (any, error) {
			return nonNil(b.List(ctx, user))
		}),
	}

	var term string
	find := &cobra.Command{
		Use:   "find",
		Short: "Find contacts by name",
		RunE: withBook(func(ctx context.Context, b *contacts.Book) (any, error) {
			return nonNil(b.Find(ctx, user, term))
		}),
	}
	find.Flags().StringVar(&term, "name", "", "Name or part of it")
	_ = find.MarkFlagRequired("name")

	var addName, addWallet, addTelegram string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a contact",
		RunE: withBook(func(ctx context.Context, b *contacts.Book) (any, error) {
			return b.Add(ctx, user, addName, addWallet, addTelegram)
		}),
	}
	add.Flags().StringVar(&addName, "name", "", "Contact name")
	add.Flags().StringVar(&addWallet, "wallet", "", "Contact wallet address")
	add.Flags().StringVar(&addTelegram, "telegram", "", "Telegram handle")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("wallet")

	var rmName string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a contact",
		RunE: withBook(func(ctx context.Context, b *contacts.Book) (any, error) {
			if err := b.Remove(ctx, user, rmName); err != nil {
				return nil, err
			}
			return map[string]any{"removed": rmName}, nil
		}),
	}
	remove.Flags().StringVar(&rmName, "name", "", "Contact name")
	_ = remove.MarkFlagRequired("name")

	var upName string
	var upFields []string
	update := &cobra.Command{
		Use:   "update",
		Short: "Update contact fields with key=value pairs",
		RunE: withBook(func(ctx context.Context, b *contacts.Book) (any, error) {
			return b.Update(ctx, user, upName, upFields)
		}),
	}
	update.Flags().StringVar(&upName, "name", "", "Contact name")
	update.Flags().StringArrayVar(&upFields, "set", nil, "Field to change, e.g. walletAddress=0x...")
	_ = update.MarkFlagRequired("name")
	_ = update.MarkFlagRequired("set")

	root.AddCommand(list, find, add, remove, update)
	return root
}

func nonNil(items []storage.Contact, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []storage.Contact{}
	}
	return items, nil
}
