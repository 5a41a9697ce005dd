package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/account"
	"hl-pairs-bot/internal/alerts"
	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/hl/exchange"
	"hl-pairs-bot/internal/hl/rest"
	"hl-pairs-bot/internal/hl/ws"
	"hl-pairs-bot/internal/journal"
	"hl-pairs-bot/internal/market"
	"hl-pairs-bot/internal/metrics"
	"hl-pairs-bot/internal/state"
	"hl-pairs-bot/internal/state/sqlite"
	"hl-pairs-bot/internal/strategy"
)

// barSettleDelay gives the venue time to finalize a candle after its
// close before the cycle fetches it.
const barSettleDelay = 3 * time.Second

// App wires the live trading loop: one strategy cycle per finished
// 15-minute bar, shutdown checked only between cycles.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	rest     *rest.Client
	mids     *market.MidFeed
	pair     *market.PairFetcher
	source   *market.HyperliquidSource
	account  *account.Account
	alerts   *alerts.Telegram
	prom     *metrics.Prometheus
	journal  *journal.Writer
	exchange *exchange.Client

	engine *strategy.Engine
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	source := market.NewHyperliquidSource(restClient, cfg.Strategy.BarInterval, log)
	pair := market.NewPairFetcher(source, cfg.Strategy.PriceField, cfg.Strategy.BarInterval)

	var mids *market.MidFeed
	if cfg.WS.Enabled {
		wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
		mids = market.NewMidFeed(restClient, wsClient, log)
	}

	a := &App{
		cfg:    cfg,
		log:    log,
		store:  store,
		rest:   restClient,
		mids:   mids,
		pair:   pair,
		source: source,
		alerts: alerts.NewTelegram(cfg.Telegram, log),
	}

	if !cfg.Execution.Paper {
		if err := a.initExchange(); err != nil {
			store.Close()
			return nil, err
		}
	}
	if user := accountAddress(); user != "" {
		a.account = account.New(restClient, log, user)
	}
	if cfg.Metrics.Enabled {
		a.prom = metrics.NewPrometheus()
	}
	writer, err := journal.New(cfg.Journal, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.journal = writer
	return a, nil
}

func (a *App) initExchange() error {
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return errors.New("HL_PRIVATE_KEY is required for live execution")
	}
	isMainnet := !strings.Contains(strings.ToLower(a.cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return err
	}
	if wallet := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS")); wallet != "" {
		if !strings.EqualFold(wallet, signer.Address().Hex()) {
			return fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex())
		}
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	client, err := exchange.NewClient(a.cfg.REST.BaseURL, a.cfg.REST.Timeout, signer, vaultAddress)
	if err != nil {
		return err
	}
	client.SetLogger(a.log)
	a.exchange = client
	return nil
}

func accountAddress() string {
	if v := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS")); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	executor, err := a.buildExecutor(ctx)
	if err != nil {
		return err
	}
	coordinator := exec.NewCoordinator(executor, exec.RetryPolicy{
		MaxAttempts: a.cfg.Execution.MaxAttempts,
		BaseDelay:   a.cfg.Execution.BaseDelay,
	}, a.log)

	var fundingSource funding.Source
	if !a.cfg.Funding.Disabled {
		fundingSource = funding.NewHyperliquidSource(a.rest)
	}
	var equityFn strategy.EquityFunc
	if a.account != nil {
		equityFn = a.account.Equity
	}
	var m *metrics.Metrics
	if a.prom != nil {
		m = a.prom.Metrics
	}
	engine, err := strategy.New(a.cfg, strategy.Deps{
		Store:       a.store,
		Coordinator: coordinator,
		Funding:     fundingSource,
		Metrics:     m,
		Alerts:      a.alerts,
		Equity:      equityFn,
		Log:         a.log,
	})
	if err != nil {
		return err
	}
	a.engine = engine

	if a.journal != nil {
		a.journal.Start(ctx)
		defer a.journal.Close()
	}
	if a.prom != nil {
		a.serveMetrics(ctx)
	}
	if a.mids != nil {
		if err := a.mids.Start(ctx); err != nil {
			a.log.Warn("mid feed start failed, falling back to candle closes", zap.Error(err))
		}
	}

	a.warnStaleState(ctx)
	if err := engine.Hydrate(ctx, time.Now().UTC()); err != nil {
		return err
	}
	if err := a.warmup(ctx, engine); err != nil {
		return err
	}
	a.startOperator(ctx)

	a.log.Info("bar loop started",
		zap.Duration("interval", a.cfg.Strategy.BarInterval),
		zap.Bool("paper", a.cfg.Execution.Paper))
	return a.loop(ctx)
}

func (a *App) buildExecutor(ctx context.Context) (exec.OrderExecutor, error) {
	if a.cfg.Execution.Paper {
		a.log.Info("paper execution enabled")
		return exec.PaperExecutor{}, nil
	}
	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if st, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
	}
	assets, err := exchange.FetchAssetInfo(ctx, a.rest, []config.Symbol{config.SymbolETH, config.SymbolBTC})
	if err != nil {
		return nil, fmt.Errorf("fetch asset metadata: %w", err)
	}
	limiter := exec.NewFixedLimiter(a.cfg.Execution.MinCallInterval)
	return exchange.NewLiveExecutor(a.exchange, limiter, assets, a.log)
}

func (a *App) serveMetrics(ctx context.Context) {
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: a.prom.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics listener failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Listen))
}

// warmup replays stored history through the indicators so the first
// live bar sees a full window.
func (a *App) warmup(ctx context.Context, engine *strategy.Engine) error {
	n := a.cfg.Strategy.WarmupBars
	if n <= 0 {
		return nil
	}
	interval := a.cfg.Strategy.BarInterval
	end := market.AlignToBarClose(time.Now().UTC(), interval)
	start := end.Add(-time.Duration(n-1) * interval)
	ethBars, err := a.source.FetchHistory(ctx, config.SymbolETH, start, end)
	if err != nil {
		return fmt.Errorf("warmup ETH history: %w", err)
	}
	btcBars, err := a.source.FetchHistory(ctx, config.SymbolBTC, start, end)
	if err != nil {
		return fmt.Errorf("warmup BTC history: %w", err)
	}
	bars := pairBars(ethBars, btcBars, a.cfg.Strategy.PriceField)
	if len(bars) < n {
		a.log.Warn("warmup history incomplete",
			zap.Int("requested", n),
			zap.Int("paired", len(bars)))
	}
	return engine.Warmup(bars)
}

// pairBars joins per-leg histories on timestamp, dropping closes where
// either leg is missing.
func pairBars(eth, btc []market.PriceBar, field config.PriceField) []strategy.Bar {
	btcByTime := make(map[int64]market.PriceBar, len(btc))
	for _, bar := range btc {
		btcByTime[bar.Timestamp.Unix()] = bar
	}
	bars := make([]strategy.Bar, 0, len(eth))
	for _, ethBar := range eth {
		btcBar, ok := btcByTime[ethBar.Timestamp.Unix()]
		if !ok {
			continue
		}
		ethPrice, ok := ethBar.EffectivePrice(field)
		if !ok {
			continue
		}
		btcPrice, ok := btcBar.EffectivePrice(field)
		if !ok {
			continue
		}
		bars = append(bars, strategy.Bar{
			Timestamp: ethBar.Timestamp,
			EthPrice:  ethPrice,
			BtcPrice:  btcPrice,
		})
	}
	return bars
}

// warnStaleState flags a persisted snapshot that predates several bar
// intervals; the position it describes may no longer match the venue.
func (a *App) warnStaleState(ctx context.Context) {
	type timestamped interface {
		UpdatedAt(ctx context.Context, key string) (time.Time, bool, error)
	}
	s, ok := a.store.(timestamped)
	if !ok {
		return
	}
	ts, found, err := s.UpdatedAt(ctx, state.StrategyStateKey)
	if err != nil || !found {
		return
	}
	if age := time.Since(ts); age > 4*a.cfg.Strategy.BarInterval {
		a.log.Warn("persisted state is stale",
			zap.Duration("age", age),
			zap.Time("updated_at", ts))
	}
}

func (a *App) loop(ctx context.Context) error {
	interval := a.cfg.Strategy.BarInterval
	for {
		next := market.AlignToBarClose(time.Now().UTC(), interval).Add(interval)
		timer := time.NewTimer(time.Until(next.Add(barSettleDelay)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		a.cycle(ctx, next)
	}
}

func (a *App) cycle(ctx context.Context, close time.Time) {
	// The cycle runs to completion on a detached context; shutdown is
	// honored between cycles in loop, never mid-leg.
	ctx = context.WithoutCancel(ctx)
	snap, err := a.pair.FetchPair(ctx, close)
	if err != nil {
		a.log.Warn("pair fetch failed, skipping bar",
			zap.Time("close", close),
			zap.Error(err))
		return
	}
	bar := strategy.Bar{Timestamp: snap.Timestamp, EthPrice: snap.Eth, BtcPrice: snap.Btc}
	if a.cfg.Strategy.PriceField == config.PriceMid && a.mids != nil {
		if eth, err := a.mids.Mid(ctx, string(config.SymbolETH)); err == nil && eth > 0 {
			if btc, err := a.mids.Mid(ctx, string(config.SymbolBTC)); err == nil && btc > 0 {
				bar.EthPrice, bar.BtcPrice = eth, btc
			}
		}
	}
	res, err := a.engine.ProcessBar(ctx, bar)
	if err != nil {
		a.log.Error("bar cycle failed", zap.Time("close", close), zap.Error(err))
		return
	}
	if a.journal != nil {
		a.journal.EnqueueBar(res.Record)
		if res.Closed != nil {
			a.journal.EnqueueTrade(*res.Closed)
		}
	}
	a.log.Debug("bar processed",
		zap.Time("close", res.Record.Timestamp),
		zap.Float64("z", res.Record.ZScore),
		zap.String("status", string(res.Record.Status)))
}
