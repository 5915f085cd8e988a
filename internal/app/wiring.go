package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/api"
	"github.com/MoseikiApp/peasy-ai/internal/balance"
	"github.com/MoseikiApp/peasy-ai/internal/cache"
	"github.com/MoseikiApp/peasy-ai/internal/chain"
	"github.com/MoseikiApp/peasy-ai/internal/commission"
	"github.com/MoseikiApp/peasy-ai/internal/config"
	"github.com/MoseikiApp/peasy-ai/internal/contacts"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution"
	"github.com/MoseikiApp/peasy-ai/internal/httpx"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/intent"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
	"github.com/MoseikiApp/peasy-ai/internal/nonceguard"
	"github.com/MoseikiApp/peasy-ai/internal/providers/coinbase"
	"github.com/MoseikiApp/peasy-ai/internal/providers/swing"
	"github.com/MoseikiApp/peasy-ai/internal/receipt"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
	"github.com/MoseikiApp/peasy-ai/internal/swap"
	"github.com/MoseikiApp/peasy-ai/internal/transfer"
	"github.com/MoseikiApp/peasy-ai/internal/vault"
)

// engine builds collaborators on first use so that offline commands never
// dial the node or open the database.
type engine struct {
	settings config.Settings
	logger   *zap.Logger

	metrics *metrics.Metrics
	locker  *nonceguard.Locker

	store       storage.Store
	cache       cache.Backend
	chainClient *chain.Client
	transactor  *execution.Transactor
	vault       *vault.Vault
	swing       *swing.Client
	rates       *coinbase.Client
	analyzer    *receipt.Analyzer
	guard       *nonceguard.Guard
	collector   *commission.Collector
	swaps       *swap.Orchestrator
	balances    *balance.Service
	transfers   *transfer.Service
	book        *contacts.Book
	dispatcher  *intent.Dispatcher
}

func newEngine(settings config.Settings, logger *zap.Logger) *engine {
	return &engine{
		settings: settings,
		logger:   logger,
		metrics:  metrics.New(),
		locker:   nonceguard.NewLocker(),
	}
}

func (e *engine) close() {
	if e.chainClient != nil {
		e.chainClient.Close()
	}
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}

func (e *engine) network() (id.Chain, error) {
	return id.ParseChain(e.settings.Chain.Slug)
}

func (e *engine) Store(ctx context.Context) (storage.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	var (
		store storage.Store
		err   error
	)
	switch strings.ToLower(e.settings.Storage.Driver) {
	case "postgres":
		if strings.TrimSpace(e.settings.Storage.PostgresDSN) == "" {
			return nil, clierr.New(clierr.CodeUsage, "storage.postgres_dsn is required for the postgres driver")
		}
		store, err = storage.OpenPostgres(ctx, e.settings.Storage.PostgresDSN)
	case "", "sqlite":
		store, err = storage.OpenSQLite(e.settings.Storage.Path, e.settings.Storage.LockPath)
	default:
		return nil, clierr.New(clierr.CodeUsage, "unsupported storage driver: "+e.settings.Storage.Driver)
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "open store", err)
	}
	e.store = store
	return store, nil
}

// Cache prefers Redis when configured. A failing cache is logged and
// skipped; providers run uncached.
func (e *engine) Cache(ctx context.Context) cache.Backend {
	if e.cache != nil || !e.settings.CacheEnabled {
		return e.cache
	}
	if e.settings.Redis.Addr != "" {
		rs, err := cache.OpenRedis(ctx, cache.RedisOptions{
			Addr:     e.settings.Redis.Addr,
			Password: e.settings.Redis.Password,
			DB:       e.settings.Redis.DB,
			TLS:      e.settings.Redis.TLS,
			Prefix:   "peasy:",
		})
		if err == nil {
			e.cache = rs
			return rs
		}
		e.logger.Warn("redis cache unavailable", zap.Error(err))
	}
	cs, err := cache.Open(e.settings.CachePath, e.settings.CacheLockPath)
	if err != nil {
		e.logger.Warn("cache unavailable", zap.Error(err))
		return nil
	}
	e.cache = cs
	return cs
}

func (e *engine) Chain(ctx context.Context) (*chain.Client, error) {
	if e.chainClient != nil {
		return e.chainClient, nil
	}
	url, err := registry.ResolveRPCURL(e.settings.Chain.RPCURL, e.settings.Chain.ChainID)
	if err != nil {
		return nil, err
	}
	c, err := chain.Dial(ctx, url, e.logger)
	if err != nil {
		return nil, err
	}
	e.chainClient = c
	return c, nil
}

func (e *engine) Transactor(ctx context.Context) (*execution.Transactor, error) {
	if e.transactor != nil {
		return e.transactor, nil
	}
	c, err := e.Chain(ctx)
	if err != nil {
		return nil, err
	}
	e.transactor = execution.NewTransactor(c, execution.Options{
		PollInterval:  e.settings.Swap.PollInterval,
		GasMultiplier: e.settings.Swap.GasMultiplier,
	}, e.logger)
	return e.transactor, nil
}

func (e *engine) Vault(ctx context.Context) (*vault.Vault, error) {
	if e.vault != nil {
		return e.vault, nil
	}
	store, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	e.vault = vault.New(store, e.settings.Vault.Salt, e.logger)
	return e.vault, nil
}

func (e *engine) httpClient() *httpx.Client {
	return httpx.New(e.settings.Timeout, e.settings.Retries).WithLogger(e.logger)
}

func (e *engine) Swing(ctx context.Context) *swing.Client {
	if e.swing == nil {
		e.swing = swing.New(e.httpClient(), e.settings.Swing, e.Cache(ctx), e.logger).
			WithMaxSlippage(e.settings.Swap.QuoteMaxSlippage)
	}
	return e.swing
}

func (e *engine) Rates(ctx context.Context) *coinbase.Client {
	if e.rates == nil {
		e.rates = coinbase.New(e.httpClient(), e.settings.Rates, e.Cache(ctx), e.logger)
	}
	return e.rates
}

func (e *engine) Analyzer(ctx context.Context) (*receipt.Analyzer, error) {
	if e.analyzer != nil {
		return e.analyzer, nil
	}
	c, err := e.Chain(ctx)
	if err != nil {
		return nil, err
	}
	a, err := receipt.New(c, e.logger)
	if err != nil {
		return nil, err
	}
	e.analyzer = a
	return a, nil
}

func (e *engine) Guard(ctx context.Context) (*nonceguard.Guard, error) {
	if e.guard != nil {
		return e.guard, nil
	}
	c, err := e.Chain(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := e.Transactor(ctx)
	if err != nil {
		return nil, err
	}
	e.guard = nonceguard.New(c, tx,
		e.settings.Swap.CancelMaxFeeGwei.Shift(9).Round(0).BigInt(),
		e.settings.Swap.CancelPriorityFeeGwei.Shift(9).Round(0).BigInt(),
		e.metrics, e.logger)
	return e.guard, nil
}

func (e *engine) Commission(ctx context.Context) (*commission.Collector, error) {
	if e.collector != nil {
		return e.collector, nil
	}
	tx, err := e.Transactor(ctx)
	if err != nil {
		return nil, err
	}
	e.collector = commission.New(e.Rates(ctx), tx, e.settings.Commission, e.metrics, e.logger)
	return e.collector, nil
}

func (e *engine) Swaps(ctx context.Context) (*swap.Orchestrator, error) {
	if e.swaps != nil {
		return e.swaps, nil
	}
	store, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.Vault(ctx)
	if err != nil {
		return nil, err
	}
	c, err := e.Chain(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := e.Transactor(ctx)
	if err != nil {
		return nil, err
	}
	a, err := e.Analyzer(ctx)
	if err != nil {
		return nil, err
	}
	g, err := e.Guard(ctx)
	if err != nil {
		return nil, err
	}
	deps := swap.Deps{
		Aggregator: e.Swing(ctx),
		Chain:      c,
		Tx:         tx,
		Analyzer:   a,
		Nonces:     g,
		Signers:    v,
		Records:    store,
		Locker:     e.locker,
		Metrics:    e.metrics,
		Logger:     e.logger,
	}
	if e.settings.Commission.Wallet != "" {
		col, err := e.Commission(ctx)
		if err != nil {
			return nil, err
		}
		deps.Commission = col
	}
	e.swaps = swap.New(deps, e.settings.Swap, e.settings.Chain)
	return e.swaps, nil
}

func (e *engine) Balances(ctx context.Context) (*balance.Service, error) {
	if e.balances != nil {
		return e.balances, nil
	}
	net, err := e.network()
	if err != nil {
		return nil, err
	}
	c, err := e.Chain(ctx)
	if err != nil {
		return nil, err
	}
	e.balances = balance.New(c, e.Rates(ctx), net, e.logger)
	return e.balances, nil
}

func (e *engine) Transfers(ctx context.Context) (*transfer.Service, error) {
	if e.transfers != nil {
		return e.transfers, nil
	}
	b, err := e.Balances(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := e.Transactor(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.Vault(ctx)
	if err != nil {
		return nil, err
	}
	store, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := transfer.New(transfer.Deps{
		Balances: b,
		Tx:       tx,
		Signers:  v,
		Records:  store,
		Locker:   e.locker,
		Metrics:  e.metrics,
		Logger:   e.logger,
	}, e.settings.Chain, e.settings.Swap.ConfirmTimeout)
	if err != nil {
		return nil, err
	}
	e.transfers = svc
	return svc, nil
}

func (e *engine) Contacts(ctx context.Context) (*contacts.Book, error) {
	if e.book != nil {
		return e.book, nil
	}
	store, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	e.book = contacts.New(store, e.logger)
	return e.book, nil
}

func (e *engine) Dispatcher(ctx context.Context) (*intent.Dispatcher, error) {
	if e.dispatcher != nil {
		return e.dispatcher, nil
	}
	swaps, err := e.Swaps(ctx)
	if err != nil {
		return nil, err
	}
	transfers, err := e.Transfers(ctx)
	if err != nil {
		return nil, err
	}
	balances, err := e.Balances(ctx)
	if err != nil {
		return nil, err
	}
	book, err := e.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	e.dispatcher = intent.New(intent.Services{
		Swaps:     swaps,
		Transfers: transfers,
		Balances:  balances,
		Rates:     e.Rates(ctx),
		Contacts:  book,
		Chain:     e.settings.Chain.Slug,
		Metrics:   e.metrics,
		Logger:    e.logger,
	})
	return e.dispatcher, nil
}

func (e *engine) Server(ctx context.Context) (*api.Server, error) {
	d, err := e.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.Vault(ctx)
	if err != nil {
		return nil, err
	}
	store, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	return api.New(d, v, store, e.metrics, e.settings.Server, e.logger), nil
}
