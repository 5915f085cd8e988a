package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/intent"
	"github.com/MoseikiApp/peasy-ai/internal/model"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

func (s *runtimeState) newIntentCommand() *cobra.Command {
	root := &cobra.Command{Use: "intent", Short: "Run chat intents"}
	var user string
	run := &cobra.Command{
		Use:   "run <action> [params...]",
		Short: "Dispatch one intent action and print its reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(false)
			defer cancel()
			d, err := s.engine.Dispatcher(ctx)
			if err != nil {
				return err
			}
			caller := intent.Caller{UserID: user}
			v, err := s.engine.Vault(ctx)
			if err != nil {
				return err
			}
			if w, err := v.WalletByUser(ctx, user); err == nil {
				caller.Wallet = w.Address
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			progress := &notify.Recorder{}
			reply, err := d.Dispatch(ctx, caller, args[0], args[1:], progress)
			view := model.Reply{Action: args[0], Reply: reply, Progress: progress.Messages()}
			path := trimRootPath(cmd.CommandPath())
			if err != nil {
				if _, ok := clierr.As(err); !ok {
					err = clierr.Wrap(clierr.CodeInternal, reply, err)
				}
				return s.emitOutcome(path, view, err)
			}
			return s.emitSuccess(path, view)
		},
	}
	run.Flags().StringVar(&user, "user", "", "User id issuing the intent")
	_ = run.MarkFlagRequired("user")
	root.AddCommand(run)
	return root
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the intent API over HTTP",
		Long:  "Every /v1 request must send Authorization: Bearer <token>, where the token comes from server.token or PEASY_SERVER_TOKEN. The server refuses to start without one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				s.settings.Server.Addr = addr
				s.engine.settings.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv, err := s.engine.Server(ctx)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
