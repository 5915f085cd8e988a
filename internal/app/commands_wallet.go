package app

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/model"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

func walletView(w storage.Wallet, created bool) model.WalletView {
	return model.WalletView{
		UserID:    w.UserID,
		Address:   w.Address,
		Network:   w.Network,
		Currency:  w.Currency,
		Created:   created,
		CreatedAt: w.CreatedAt,
	}
}

// walletAddress accepts --wallet directly or looks up the wallet of --user.
func (s *runtimeState) walletAddress(ctx context.Context, userID, wallet string) (common.Address, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet != "" {
		if !id.IsAddress(wallet) {
			return common.Address{}, clierr.New(clierr.CodeUsage, "Invalid Ethereum address format: "+wallet)
		}
		return common.HexToAddress(wallet), nil
	}
	if strings.TrimSpace(userID) == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, "--user or --wallet is required")
	}
	v, err := s.engine.Vault(ctx)
	if err != nil {
		return common.Address{}, err
	}
	w, err := v.WalletByUser(ctx, userID)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(w.Address), nil
}

func (s *runtimeState) newWalletCommand() *cobra.Command {
	root := &cobra.Command{Use: "wallet", Short: "Custodial wallet commands"}

	var createUser string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the custodial wallet of a user, or return the existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			v, err := s.engine.Vault(ctx)
			if err != nil {
				return err
			}
			chain, err := s.engine.network()
			if err != nil {
				return err
			}
			w, created, err := v.GetOrCreate(ctx, createUser, s.settings.Chain.Slug, chain.NativeSymbol)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), walletView(w, created))
		},
	}
	create.Flags().StringVar(&createUser, "user", "", "User id")
	_ = create.MarkFlagRequired("user")

	var showUser string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the custodial wallet of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			v, err := s.engine.Vault(ctx)
			if err != nil {
				return err
			}
			w, err := v.WalletByUser(ctx, showUser)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), walletView(w, false))
		},
	}
	show.Flags().StringVar(&showUser, "user", "", "User id")
	_ = show.MarkFlagRequired("user")

	var balUser, balWallet, balCurrency string
	bal := &cobra.Command{
		Use:   "balance",
		Short: "Read the balance of one token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			addr, err := s.walletAddress(ctx, balUser, balWallet)
			if err != nil {
				return err
			}
			svc, err := s.engine.Balances(ctx)
			if err != nil {
				return err
			}
			b, err := svc.Balance(ctx, addr, balCurrency)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), b)
		},
	}
	bal.Flags().StringVar(&balUser, "user", "", "User id")
	bal.Flags().StringVar(&balWallet, "wallet", "", "Wallet address (overrides --user)")
	bal.Flags().StringVar(&balCurrency, "currency", "", "Token symbol, address or CAIP-19 id")
	_ = bal.MarkFlagRequired("currency")

	var allUser, allWallet string
	var withUSD bool
	all := &cobra.Command{
		Use:   "balances",
		Short: "Read every non-zero registry token balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			addr, err := s.walletAddress(ctx, allUser, allWallet)
			if err != nil {
				return err
			}
			svc, err := s.engine.Balances(ctx)
			if err != nil {
				return err
			}
			if withUSD {
				p, err := svc.AllWithUSD(ctx, addr)
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), p)
			}
			items, err := svc.All(ctx, addr)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items)
		},
	}
	all.Flags().StringVar(&allUser, "user", "", "User id")
	all.Flags().StringVar(&allWallet, "wallet", "", "Wallet address (overrides --user)")
	all.Flags().BoolVar(&withUSD, "usd", false, "Price balances in USD and add a total")

	root.AddCommand(create, show, bal, all)
	return root
}

func (s *runtimeState) newRateCommand() *cobra.Command {
	var base, quote string
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Spot exchange rate between two currencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			r, err := s.engine.Rates(ctx).Spot(ctx, base, quote)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), r)
		},
	}
	cmd.Flags().StringVar(&base, "from", "", "Base currency symbol")
	cmd.Flags().StringVar(&quote, "to", "USD", "Quote currency symbol")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
