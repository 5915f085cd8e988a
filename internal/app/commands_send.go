package app

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/transfer"
)

type approvalView struct {
	Approval string `json:"approval"`
	Execute  string `json:"execute"`
}

// recipientAddress accepts an address or a name matching exactly one contact.
func (s *runtimeState) recipientAddress(ctx context.Context, userID, to string) (string, error) {
	to = strings.TrimSpace(to)
	if id.IsAddress(to) {
		return to, nil
	}
	book, err := s.engine.Contacts(ctx)
	if err != nil {
		return "", err
	}
	found, err := book.Find(ctx, userID, to)
	if err != nil {
		return "", err
	}
	if len(found) != 1 {
		return to, nil
	}
	return found[0].WalletAddress, nil
}

func (s *runtimeState) newSendCommand() *cobra.Command {
	var user, to, amountArg, currency string
	var yes bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send ETH or an ERC20 token from a user's wallet",
		Long:  "Without --yes the command only prints the approval prompt and leaves the wallet untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(false)
			defer cancel()
			from, err := s.walletAddress(ctx, user, "")
			if err != nil {
				return err
			}
			amount, err := id.ParseAmount(amountArg)
			if err != nil {
				return err
			}
			dest, err := s.recipientAddress(ctx, user, to)
			if err != nil {
				return err
			}
			svc, err := s.engine.Transfers(ctx)
			if err != nil {
				return err
			}
			req := transfer.Request{
				UserID:   user,
				From:     from.Hex(),
				To:       dest,
				Amount:   amount,
				Currency: currency,
			}
			path := trimRootPath(cmd.CommandPath())
			if !yes {
				msg, err := svc.Approval(ctx, req)
				if err != nil {
					return err
				}
				return s.emitSuccess(path, approvalView{Approval: msg, Execute: "rerun with --yes to send"})
			}
			res, err := svc.Send(ctx, req)
			if err != nil {
				if clierr.Is(err, clierr.CodeUsage) {
					return err
				}
				return s.emitOutcome(path, res, err)
			}
			return s.emitSuccess(path, res)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id owning the sending wallet")
	cmd.Flags().StringVar(&to, "to", "", "Recipient address or contact name")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Amount in decimal units")
	cmd.Flags().StringVar(&currency, "currency", "", "Token symbol, address or CAIP-19 id")
	cmd.Flags().BoolVar(&yes, "yes", false, "Approve and broadcast the transfer")
	for _, f := range []string{"user", "to", "amount", "currency"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
