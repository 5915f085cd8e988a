package app

import (
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/intent"
	"github.com/MoseikiApp/peasy-ai/internal/model"
)

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List supported chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]model.ChainInfo, 0, len(id.Chains()))
			for _, c := range id.Chains() {
				items = append(items, model.ChainInfo{
					Name:         c.Name,
					Slug:         c.Slug,
					CAIP2:        c.CAIP2,
					ChainID:      c.EVMChainID,
					NativeSymbol: c.NativeSymbol,
					Default:      c.EVMChainID == s.settings.Chain.ChainID,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items)
		},
	})
	return root
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	var chainArg string
	root := &cobra.Command{Use: "tokens", Short: "Token registry commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registry tokens of a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chainArg == "" {
				chainArg = s.settings.Chain.Slug
			}
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			tokens := id.Tokens(chain.CAIP2)
			if len(tokens) == 0 {
				return clierr.New(clierr.CodeUnsupported, "no registry tokens for chain "+chain.Slug)
			}
			items := make([]model.TokenInfo, 0, len(tokens))
			for _, t := range tokens {
				items = append(items, model.TokenInfo{
					Symbol:   t.Symbol,
					Address:  t.Address,
					Decimals: t.Decimals,
					AssetID:  t.AssetID(),
					Stable:   id.IsStable(t.Symbol),
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items)
		},
	}
	list.Flags().StringVar(&chainArg, "chain", "", "Chain slug, id or CAIP-2 (default: configured chain)")
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Chat intent catalog"}
	// A dispatcher without services only serves its action table.
	catalog := func() *intent.Dispatcher { return intent.New(intent.Services{Logger: s.logger}) }

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List supported intent actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := catalog()
			items := make([]intent.ActionInfo, 0)
			for _, name := range d.Actions() {
				info, _ := d.Describe(name)
				items = append(items, info)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "get <action>",
		Short: "Describe one intent action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, ok := catalog().Describe(strings.TrimSpace(args[0]))
			if !ok {
				return clierr.New(clierr.CodeNotFound, "Unknown action: "+args[0])
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), info)
		},
	})
	return root
}
