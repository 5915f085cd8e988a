// Package intent turns a named action with positional string parameters, as
// produced by the chat model, into a typed call on one of the services and
// renders the reply text.
package intent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/balance"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
	"github.com/MoseikiApp/peasy-ai/internal/providers/coinbase"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
	"github.com/MoseikiApp/peasy-ai/internal/swap"
	"github.com/MoseikiApp/peasy-ai/internal/transfer"
)

// Caller identifies who issued the intent and which custodial wallet they own.
type Caller struct {
	UserID string
	Wallet string
}

type Swapper interface {
	Swap(ctx context.Context, req swap.Request, emit notify.Emitter) swap.Result
}

type Transfers interface {
	Approval(ctx context.Context, req transfer.Request) (string, error)
	Send(ctx context.Context, req transfer.Request) (transfer.Result, error)
}

type Balances interface {
	Balance(ctx context.Context, wallet common.Address, currency string) (balance.Balance, error)
	All(ctx context.Context, wallet common.Address) ([]balance.Balance, error)
	AllWithUSD(ctx context.Context, wallet common.Address) (balance.Portfolio, error)
}

type Rates interface {
	Spot(ctx context.Context, base, quote string) (coinbase.Rate, error)
}

// Contacts is satisfied by *contacts.Book.
type Contacts interface {
	List(ctx context.Context, userID string) ([]storage.Contact, error)
	Find(ctx context.Context, userID, term string) ([]storage.Contact, error)
	Add(ctx context.Context, userID, name, wallet, telegram string) (storage.Contact, error)
	Remove(ctx context.Context, userID, name string) error
	Update(ctx context.Context, userID, name string, pairs []string) (storage.Contact, error)
}

type Services struct {
	Swaps     Swapper
	Transfers Transfers
	Balances  Balances
	Rates     Rates
	Contacts  Contacts
	Chain     string
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// handler runs one validated action.
type handler func(ctx context.Context, c Caller, p []string, emit notify.Emitter) (string, error)

type action struct {
	subject  string
	params   []string
	required int
	run      handler
}

type Dispatcher struct {
	svc     Services
	actions map[string]action
	logger  *zap.Logger
}

func New(svc Services) *Dispatcher {
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	if svc.Chain == "" {
		svc.Chain = "base"
	}
	d := &Dispatcher{svc: svc, logger: svc.Logger.Named("intent")}
	send := []string{"fromAddress", "toAddress", "amount", "currency"}
	d.actions = map[string]action{
		"getApprovalForSendCrypto":                {subject: "sending crypto token", params: send, required: 4, run: d.approveSend},
		"sendCrypto":                              {subject: "sending crypto token", params: send, required: 4, run: d.send},
		"getQuoteForSwapCrypto":                   {params: []string{"walletAddress", "fromCurrency", "toCurrency", "amount"}, required: 4, run: d.quote},
		"swapCrypto":                              {params: []string{"walletAddress", "fromCurrency", "toCurrency", "amount", "rateApproved"}, required: 5, run: d.swap},
		"getCryptoRate":                           {params: []string{"fromCurrency", "toCurrency"}, required: 2, run: d.rate},
		"getWalletBalance":                        {params: []string{"walletAddress", "currency"}, required: 2, run: d.balance},
		"getWalletBalanceForAllCoins":             {params: []string{"walletAddress"}, required: 1, run: d.balances},
		"getWalletBalanceForAllCoinsWithTotalUsd": {params: []string{"walletAddress"}, required: 1, run: d.balancesUSD},
		"getContactList":                          {run: d.contactList},
		"findContactByName":                       {params: []string{"name"}, required: 1, run: d.findContact},
		"addContact":                              {params: []string{"name", "walletAddress", "telegramHandle"}, required: 2, run: d.addContact},
		"removeContact":                           {params: []string{"name"}, required: 1, run: d.removeContact},
		"updateContact":                           {params: []string{"name", "key=value"}, required: 2, run: d.updateContact},
	}
	return d
}

// ActionInfo describes the parameters an action takes.
type ActionInfo struct {
	Name     string   `json:"name"`
	Subject  string   `json:"subject,omitempty"`
	Params   []string `json:"params"`
	Required int      `json:"required"`
}

// Actions lists the supported action names.
func (d *Dispatcher) Actions() []string {
	out := make([]string, 0, len(d.actions))
	for name := range d.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) Describe(name string) (ActionInfo, bool) {
	a, ok := d.actions[name]
	if !ok {
		return ActionInfo{}, false
	}
	params := a.params
	if params == nil {
		params = []string{}
	}
	return ActionInfo{Name: name, Subject: a.subject, Params: params, Required: a.required}, true
}

// Dispatch runs the action and returns the reply for the user. The reply is
// always set; err is non-nil when the action did not complete.
func (d *Dispatcher) Dispatch(ctx context.Context, c Caller, name string, params []string, emit notify.Emitter) (string, error) {
	if emit == nil {
		emit = notify.Nop{}
	}
	a, ok := d.actions[name]
	if !ok {
		d.svc.Metrics.ObserveIntent("unknown", "rejected")
		msg := "Unknown action: " + name
		return msg, clierr.New(clierr.CodeUsage, msg)
	}
	for i := range params {
		params[i] = strings.TrimSpace(params[i])
	}
	if len(params) < a.required {
		d.svc.Metrics.ObserveIntent(name, "rejected")
		subject := a.subject
		if subject == "" {
			subject = name
		}
		msg := fmt.Sprintf("Insufficient parameters for %s. Required: %s", subject, strings.Join(a.params[:a.required], ", "))
		return msg, clierr.New(clierr.CodeUsage, msg)
	}
	logger := d.logger.With(zap.String("action", name), zap.String("user", c.UserID))
	reply, err := a.run(ctx, c, params, emit)
	switch {
	case err == nil:
		d.svc.Metrics.ObserveIntent(name, "ok")
		return reply, nil
	case clierr.Is(err, clierr.CodeUsage), clierr.Is(err, clierr.CodeNotFound), clierr.Is(err, clierr.CodeConflict):
		d.svc.Metrics.ObserveIntent(name, "rejected")
		logger.Info("intent rejected", zap.Error(err))
		return clierr.UserMessage(err), err
	default:
		d.svc.Metrics.ObserveIntent(name, "error")
		logger.Warn("intent failed", zap.Error(err))
		if reply != "" {
			return reply, err
		}
		return "Ops, something went wrong: " + err.Error(), err
	}
}

func usage(format string, args ...any) error {
	return clierr.New(clierr.CodeUsage, fmt.Sprintf(format, args...))
}

func (d *Dispatcher) ownWallet(c Caller, addr string) error {
	if !strings.EqualFold(addr, c.Wallet) {
		return usage("You can only send crypto from your own wallet. Please use the wallet address: %s", c.Wallet)
	}
	return nil
}

func amount(v string) (decimal.Decimal, error) {
	a, err := id.ParseAmount(v)
	if err != nil {
		return decimal.Decimal{}, usage("Invalid amount: %s", v)
	}
	return a, nil
}

// recipient accepts an address or the exact name of a single contact.
func (d *Dispatcher) recipient(ctx context.Context, c Caller, to string) (string, error) {
	if id.IsAddress(to) || d.svc.Contacts == nil {
		return to, nil
	}
	found, err := d.svc.Contacts.Find(ctx, c.UserID, to)
	if err != nil {
		return "", err
	}
	if len(found) == 1 && found[0].WalletAddress != "" {
		return found[0].WalletAddress, nil
	}
	return to, nil
}

func (d *Dispatcher) sendRequest(ctx context.Context, c Caller, p []string) (transfer.Request, error) {
	if err := d.ownWallet(c, p[0]); err != nil {
		return transfer.Request{}, err
	}
	to, err := d.recipient(ctx, c, p[1])
	if err != nil {
		return transfer.Request{}, err
	}
	amt, err := amount(p[2])
	if err != nil {
		return transfer.Request{}, err
	}
	return transfer.Request{UserID: c.UserID, From: p[0], To: to, Amount: amt, Currency: p[3]}, nil
}

func (d *Dispatcher) approveSend(ctx context.Context, c Caller, p []string, _ notify.Emitter) (string, error) {
	req, err := d.sendRequest(ctx, c, p)
	if err != nil {
		return "", err
	}
	return d.svc.Transfers.Approval(ctx, req)
}

func (d *Dispatcher) send(ctx context.Context, c Caller, p []string, emit notify.Emitter) (string, error) {
	req, err := d.sendRequest(ctx, c, p)
	if err != nil {
		return "", err
	}
	emit.Emit(fmt.Sprintf("Processing your transfer of %s %s...", req.Amount, strings.ToUpper(req.Currency)))
	res, err := d.svc.Transfers.Send(ctx, req)
	if err != nil {
		return res.Message, err
	}
	return res.Message + "\n" + res.ExplorerURL, nil
}

func (d *Dispatcher) swapRequest(c Caller, p []string) (swap.Request, error) {
	if err := d.ownWallet(c, p[0]); err != nil {
		return swap.Request{}, err
	}
	amt, err := amount(p[3])
	if err != nil {
		return swap.Request{}, err
	}
	return swap.Request{
		UserID:             c.UserID,
		Wallet:             p[0],
		Chain:              d.svc.Chain,
		TokenIn:            p[1],
		TokenOut:           p[2],
		Amount:             amt,
		MaxSlippagePercent: decimal.NewFromInt(1),
	}, nil
}

func (d *Dispatcher) quote(ctx context.Context, c Caller, p []string, emit notify.Emitter) (string, error) {
	req, err := d.swapRequest(c, p)
	if err != nil {
		return "", err
	}
	req.QuoteOnly = true
	res := d.svc.Swaps.Swap(ctx, req, emit)
	if !res.Success {
		return res.Reason, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Do you approve the swap of %s %s to %s at rate %s? (Approximate fee: %s USD)",
		res.AmountSent, res.TokenIn.Symbol, res.TokenOut.Symbol, res.QuotedRate, res.TotalFeeUSD)
	for _, q := range res.Quotes {
		fmt.Fprintf(&b, "\n%s quote: %s", rankLabel(q.Rank), q)
	}
	if bal := d.balanceLines(ctx, req.Wallet, res.TokenIn.Symbol, res.TokenOut.Symbol); bal != "" {
		b.WriteString("\n\nYour current balance:\n" + bal)
	}
	return b.String(), nil
}

func rankLabel(rank int) string {
	switch rank {
	case 1:
		return "Best"
	case 2:
		return "2nd best"
	case 3:
		return "3rd best"
	}
	return fmt.Sprintf("%dth best", rank)
}

func (d *Dispatcher) swap(ctx context.Context, c Caller, p []string, emit notify.Emitter) (string, error) {
	req, err := d.swapRequest(c, p)
	if err != nil {
		return "", err
	}
	rate, err := decimal.NewFromString(p[4])
	if err != nil || !rate.IsPositive() {
		return "", usage("Invalid approved rate: %s", p[4])
	}
	req.ApprovedRate = &rate
	res := d.svc.Swaps.Swap(ctx, req, emit)
	if !res.Success {
		return res.Reason, nil
	}
	msg := fmt.Sprintf("Successfully swapped %s %s to %s %s.\n%s",
		res.ActualAmountSent, res.TokenIn.Symbol, res.ActualAmountReceived, res.TokenOut.Symbol, res.ExplorerURL)
	if bal := d.balanceLines(ctx, req.Wallet, res.TokenIn.Symbol, res.TokenOut.Symbol); bal != "" {
		msg += "\n\nYour new balance:\n" + bal
	}
	return msg, nil
}

// balanceLines is best effort; a read failure leaves the section out.
func (d *Dispatcher) balanceLines(ctx context.Context, wallet string, symbols ...string) string {
	if d.svc.Balances == nil {
		return ""
	}
	lines := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		b, err := d.svc.Balances.Balance(ctx, common.HexToAddress(wallet), sym)
		if err != nil {
			d.logger.Debug("balance for reply", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		lines = append(lines, fmt.Sprintf(" %s %s", b.Amount, b.Token.Symbol))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) rate(ctx context.Context, _ Caller, p []string, _ notify.Emitter) (string, error) {
	from, to := strings.ToUpper(p[0]), strings.ToUpper(p[1])
	r, err := d.svc.Rates.Spot(ctx, from, to)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Current exchange rate from %s to %s is %s at %s",
		from, to, r.Rate.StringFixed(6), r.FetchedAt.UTC().Format(time.RFC1123)), nil
}

func walletArg(v string) (common.Address, error) {
	if !id.IsAddress(v) {
		return common.Address{}, usage("Invalid Ethereum address format: %s", v)
	}
	return common.HexToAddress(v), nil
}

func (d *Dispatcher) balance(ctx context.Context, _ Caller, p []string, _ notify.Emitter) (string, error) {
	w, err := walletArg(p[0])
	if err != nil {
		return "", err
	}
	b, err := d.svc.Balances.Balance(ctx, w, p[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Balance of %s is %s %s for wallet %s", b.Token.Symbol, b.Amount, b.Token.Symbol, w.Hex()), nil
}

func (d *Dispatcher) balances(ctx context.Context, _ Caller, p []string, _ notify.Emitter) (string, error) {
	w, err := walletArg(p[0])
	if err != nil {
		return "", err
	}
	all, err := d.svc.Balances.All(ctx, w)
	if err != nil {
		return "", err
	}
	return "Your wallet balances: \r\n" + balance.Lines(all), nil
}

func (d *Dispatcher) balancesUSD(ctx context.Context, _ Caller, p []string, _ notify.Emitter) (string, error) {
	w, err := walletArg(p[0])
	if err != nil {
		return "", err
	}
	pf, err := d.svc.Balances.AllWithUSD(ctx, w)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Your wallet balances with USD amounts: \r\n%s\r\nTotal: %s USD", balance.Lines(pf.Balances), pf.TotalUSD.StringFixed(2)), nil
}
