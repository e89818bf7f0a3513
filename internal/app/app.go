package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hl-mm-bot/internal/audit"
	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/grid"
	"hl-mm-bot/internal/hl/exchange"
	"hl-mm-bot/internal/hl/rest"
	"hl-mm-bot/internal/hl/ws"
	"hl-mm-bot/internal/inventory"
	"hl-mm-bot/internal/market"
	"hl-mm-bot/internal/metrics"
	"hl-mm-bot/internal/risk"
	"hl-mm-bot/internal/sizing"
	"hl-mm-bot/internal/state"
	"hl-mm-bot/internal/state/sqlite"
	"hl-mm-bot/internal/submit"
	"hl-mm-bot/internal/throttle"

	"go.uber.org/zap"
)

const (
	persistInterval    = 30 * time.Second
	shutdownTimeout    = 5 * time.Second
	reserveWeightChunk = 200
)

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	rest     *rest.Client
	ws       *ws.Client
	exchange *exchange.Client
	market   *market.MarketData
	accounts *accountPoller
	risk     *risk.Manager
	cancels  *throttle.CancelThrottle
	weights  *throttle.WeightCounter
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	audit    *audit.Writer
	history  *submit.History
	recorder submit.MultiRecorder
	cloids   *submit.CloidGen
	workers  []*worker

	reserveMu   sync.Mutex
	lastReserve time.Time
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)

	marketData := market.New(restClient, wsClient, log)
	marketData.SetSpecTTL(cfg.Engine.SpecTTL)
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		symbols = append(symbols, sym.Symbol)
		marketData.SetOverride(market.InstrumentSpec{
			Symbol:      sym.Symbol,
			TickSize:    sym.Override.TickSize,
			LotSize:     sym.Override.LotSize,
			MinNotional: sym.Override.MinNotional,
			MaxLeverage: sym.Override.MaxLeverage,
		})
	}
	marketData.EnableCandles(symbols, "", 0)

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = walletAddress
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", walletAddress, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)
	exClient.SetOrderExpiry(cfg.Engine.OrderExpiry)

	met := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		met = prom.Metrics
	}
	auditWriter, err := audit.New(cfg.Audit, log)
	if err != nil {
		return nil, err
	}
	history := submit.NewHistory(cfg.Engine.HistorySize)
	recorder := submit.MultiRecorder{history, &orderIndex{store: store, log: log}}
	if auditWriter != nil {
		recorder = append(recorder, auditWriter)
	}

	app := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		rest:     restClient,
		ws:       wsClient,
		exchange: exClient,
		market:   marketData,
		accounts: newAccountPoller(restClient, accountAddress),
		risk: risk.New(risk.Limits{
			MaxDrawdown:       cfg.Risk.MaxDrawdown,
			MaxDailyDrawdown:  cfg.Risk.MaxDailyDrawdown,
			HardStopPrice:     cfg.Risk.HardStopPrice,
			MaxInventoryRatio: cfg.Risk.MaxInventoryRatio,
		}, log),
		cancels:  throttle.NewCancelThrottle(cfg.Throttle.CancelsPerMinute, cfg.Throttle.GlobalCancelsPerMinute),
		weights:  throttle.NewWeightCounter(cfg.Throttle.WeightPerMinute, cfg.Throttle.WeightWarnFraction),
		metrics:  met,
		prom:     prom,
		audit:    auditWriter,
		history:  history,
		recorder: recorder,
		cloids:   submit.NewCloidGen(),
	}

	gridGen, err := grid.New(gridConfig(cfg.Grid))
	if err != nil {
		return nil, err
	}
	placer := &exchangePlacer{
		client:      exClient,
		market:      marketData,
		weights:     app.weights,
		onNearLimit: app.maybeReserveWeight,
	}
	subCfg := submit.Config{
		MaxRetries:          cfg.Engine.MaxRetries,
		ShadeTicks:          cfg.Engine.ShadeTicks,
		QuirkySymbols:       cfg.Engine.QuirkySymbols,
		SuppressWindow:      cfg.Engine.SuppressWindow,
		SuppressMinSamples:  cfg.Engine.SuppressMinSamples,
		SuppressThreshold:   cfg.Engine.SuppressThreshold,
		SuppressCooldown:    cfg.Engine.SuppressCooldown,
		DeadzoneBps:         cfg.Engine.DeadzoneBps,
		DailyNotionalCapUSD: cfg.Engine.DailyNotionalCapUSD,
	}
	for _, sym := range cfg.Symbols {
		unwind, err := inventory.ParseUnwindMode(sym.Inventory.Unwind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sym.Symbol, err)
		}
		app.workers = append(app.workers, &worker{
			app:    app,
			symbol: sym.Symbol,
			cfg:    sym,
			policy: sizing.Policy{
				MinUSD:    sym.Sizing.MinUSD,
				TargetUSD: sym.Sizing.TargetUSD,
				MaxUSD:    sym.Sizing.MaxUSD,
				MaxUSDAbs: sym.Sizing.MaxUSDAbs,
			},
			limits: inventory.Limits{
				MaxPositionCoins: sym.Inventory.MaxPositionCoins,
				MaxPositionUSD:   sym.Inventory.MaxPositionUSD,
				Unwind:           unwind,
				UnwindThreshold:  sym.Inventory.UnwindThreshold,
			},
			grid: gridGen,
			sub:  submit.New(sym.Symbol, subCfg, placer, marketData, app.cloids, recorder, met, log),
			log:  log.With(zap.String("symbol", sym.Symbol)),
		})
	}
	return app, nil
}

func gridConfig(cfg config.GridConfig) grid.Config {
	layers := make([]grid.Layer, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		layers = append(layers, grid.Layer{
			OffsetBps:     l.OffsetBps,
			CapitalShare:  l.CapitalShare,
			OrdersPerSide: l.OrdersPerSide,
			ParkOnly:      l.ParkOnly,
		})
	}
	return grid.Config{
		Layers:          layers,
		StaggerBps:      cfg.StaggerBps,
		SkewStepBps:     cfg.SkewStepBps,
		SkewStepRatio:   cfg.SkewStepRatio,
		ParkActivation:  cfg.ParkActivation,
		RepriceDriftBps: cfg.RepriceDriftBps,
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.audit.Close()

	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if st, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", st.Key), zap.Uint64("nonce_seed", st.Last))
	}
	if n, err := state.LoadCloidCounter(ctx, a.store); err != nil {
		a.log.Warn("cloid counter load failed", zap.Error(err))
	} else if n > 0 {
		a.cloids.Seed(n)
	}
	a.audit.Start(ctx)
	if err := a.market.Start(ctx); err != nil {
		return err
	}
	if err := a.accounts.Refresh(ctx); err != nil {
		return fmt.Errorf("initial account read: %w", err)
	}
	if snap, ok := a.accounts.Snapshot(); ok {
		a.log.Info("account state",
			zap.Float64("equity", snap.Equity),
			zap.Int("positions", len(snap.Positions)))
	}
	a.startMetricsServer(ctx)
	go a.accounts.run(ctx, a.cfg.Engine.RefreshInterval, func(err error) {
		a.log.Warn("account poll failed", zap.Error(err))
	})
	if a.cfg.DeadMan.EnabledValue() {
		go a.deadManLoop(ctx)
	}

	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}

	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			a.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if err := state.SaveCloidCounter(ctx, a.store, a.cloids.Counter()); err != nil {
				a.log.Warn("cloid counter save failed", zap.Error(err))
			}
		}
	}
}

// shutdown runs after every worker goroutine has stopped, so touching their
// open-order lists from here is safe.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, w := range a.workers {
		w.cancelAll(ctx)
	}
	if a.cfg.DeadMan.EnabledValue() {
		if err := a.exchange.DisarmScheduleCancel(ctx); err != nil {
			a.log.Warn("dead-man disarm failed", zap.Error(err))
		}
	}
	if err := state.SaveCloidCounter(ctx, a.store, a.cloids.Counter()); err != nil {
		a.log.Warn("cloid counter save failed", zap.Error(err))
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	a.log.Info("metrics server listening",
		zap.String("address", a.cfg.Metrics.Address),
		zap.String("path", a.cfg.Metrics.Path))
}

// deadManLoop keeps the exchange-side cancel scheduled ahead of the horizon.
// If the process wedges or loses connectivity, the exchange pulls every
// resting order once the horizon lapses.
func (a *App) deadManLoop(ctx context.Context) {
	horizon := a.cfg.DeadMan.Horizon
	arm := func() {
		if err := a.exchange.ScheduleCancel(ctx, time.Now().Add(horizon)); err != nil {
			a.log.Warn("dead-man arm failed", zap.Error(err))
		}
	}
	arm()
	ticker := time.NewTicker(horizon / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			arm()
		}
	}
}

// maybeReserveWeight buys extra request weight when the sliding budget runs
// hot, at most once a minute.
func (a *App) maybeReserveWeight(ctx context.Context) {
	a.reserveMu.Lock()
	if time.Since(a.lastReserve) < time.Minute {
		a.reserveMu.Unlock()
		return
	}
	a.lastReserve = time.Now()
	a.reserveMu.Unlock()
	if err := a.exchange.ReserveRequestWeight(ctx, reserveWeightChunk); err != nil {
		a.log.Warn("request weight reservation failed", zap.Error(err))
		return
	}
	a.log.Info("reserved extra request weight", zap.Int("weight", reserveWeightChunk))
}
