package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/hl/exchange"
	"hl-mm-bot/internal/hl/rest"
	"hl-mm-bot/internal/logging"
	"hl-mm-bot/internal/market"
	"hl-mm-bot/internal/quant"
	"hl-mm-bot/internal/sizing"
	"hl-mm-bot/internal/state/sqlite"
)

const (
	defaultVerifyNotional = 25.0
	defaultVerifyMinUSD   = 10.0
	defaultRESTTimeout    = 10 * time.Second
	defaultRESTBaseURL    = "https://api.hyperliquid.xyz"
	defaultVerifyEnvFile  = ".env"
)

// verify derives one quantized quote for a symbol and prints it. With
// -offline it runs entirely from HL_VERIFY_TICK/HL_VERIFY_LOT; with -place
// it also submits the quote post-only, which exercises signing, nonces and
// the live tick grid end to end.
func main() {
	configPath := flag.String("config", "", "optional config path for REST and sizing settings")
	offline := flag.Bool("offline", false, "quantize against HL_VERIFY_TICK/HL_VERIFY_LOT without touching the exchange")
	place := flag.Bool("place", false, "submit the derived order post-only (default prints and exits)")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultRESTBaseURL
	timeout := defaultRESTTimeout
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
		logCfg = cfg.Log
		if cfg.REST.BaseURL != "" {
			baseURL = cfg.REST.BaseURL
		}
		if cfg.REST.Timeout > 0 {
			timeout = cfg.REST.Timeout
		}
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	symbol := strings.TrimSpace(os.Getenv("HL_VERIFY_SYMBOL"))
	var symCfg *config.SymbolConfig
	if cfg != nil {
		for i := range cfg.Symbols {
			if symbol == "" || cfg.Symbols[i].Symbol == symbol {
				symCfg = &cfg.Symbols[i]
				symbol = cfg.Symbols[i].Symbol
				break
			}
		}
	}
	if symbol == "" {
		fatal(errors.New("HL_VERIFY_SYMBOL is required"))
	}

	side := quant.Buy
	if s := strings.ToLower(strings.TrimSpace(os.Getenv("HL_VERIFY_SIDE"))); s == "sell" {
		side = quant.Sell
	} else if s != "" && s != "buy" {
		fatal(fmt.Errorf("invalid HL_VERIFY_SIDE %q", s))
	}

	notional := defaultVerifyNotional
	if envVal, ok, err := floatEnv("HL_VERIFY_NOTIONAL"); err != nil {
		fatal(err)
	} else if ok {
		notional = envVal
	} else if symCfg != nil && symCfg.Sizing.TargetUSD > 0 {
		notional = symCfg.Sizing.TargetUSD
	}

	price := 0.0
	if envVal, ok, err := floatEnv("HL_VERIFY_PRICE"); err != nil {
		fatal(err)
	} else if ok {
		price = envVal
	}

	var md *market.MarketData
	if *offline {
		tick, ok, err := floatEnv("HL_VERIFY_TICK")
		if err != nil || !ok {
			fatal(errors.New("HL_VERIFY_TICK is required with -offline"))
		}
		lot, ok, err := floatEnv("HL_VERIFY_LOT")
		if err != nil || !ok {
			fatal(errors.New("HL_VERIFY_LOT is required with -offline"))
		}
		if price <= 0 {
			fatal(errors.New("HL_VERIFY_PRICE is required with -offline"))
		}
		md = market.New(nil, nil, log)
		md.SetOverride(market.InstrumentSpec{Symbol: symbol, TickSize: tick, LotSize: lot})
	} else {
		md = market.New(rest.New(baseURL, timeout, log), nil, log)
		if symCfg != nil {
			md.SetOverride(market.InstrumentSpec{
				Symbol:      symbol,
				TickSize:    symCfg.Override.TickSize,
				LotSize:     symCfg.Override.LotSize,
				MinNotional: symCfg.Override.MinNotional,
			})
		}
	}

	ctx := context.Background()
	qc, err := md.Refresh(ctx, symbol)
	if err != nil {
		fatal(err)
	}
	spec, err := md.Spec(ctx, symbol)
	if err != nil {
		fatal(err)
	}
	if price <= 0 {
		mid, err := md.Mid(ctx, symbol)
		if err != nil {
			fatal(err)
		}
		price = mid
	}

	px, err := qc.QuantizePrice(price, side, true)
	if err != nil {
		fatal(err)
	}
	pol := sizing.Policy{MinUSD: defaultVerifyMinUSD, TargetUSD: notional}
	if symCfg != nil {
		pol = sizing.Policy{
			MinUSD:    symCfg.Sizing.MinUSD,
			TargetUSD: symCfg.Sizing.TargetUSD,
			MaxUSD:    symCfg.Sizing.MaxUSD,
			MaxUSDAbs: symCfg.Sizing.MaxUSDAbs,
		}
	}
	norm, err := sizing.Normalize(qc, pol, px, notional/px.Val)
	if err != nil {
		fatal(err)
	}
	meetsMin := qc.MeetsMinNotional(px, norm.Size, spec.MinNotional)

	fmt.Printf("verify quote: symbol=%s side=%s price=%s size=%s notional=%.4f clamp=%s min_notional_ok=%v\n",
		symbol, side.String(), px.Str, norm.Size.Str, px.Val*norm.Size.Val, norm.Clamp.String(), meetsMin)
	if !*place {
		return
	}
	if *offline {
		fatal(errors.New("-place and -offline are mutually exclusive"))
	}
	if !meetsMin {
		fatal(fmt.Errorf("quote below exchange min notional %.2f", spec.MinNotional))
	}

	wallet := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if wallet == "" {
		fatal(errors.New("HL_WALLET_ADDRESS is required"))
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(errors.New("HL_PRIVATE_KEY is required"))
	}
	isMainnet := !strings.Contains(strings.ToLower(baseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		fatal(err)
	}
	if !strings.EqualFold(wallet, signer.Address().Hex()) {
		fatal(fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex()))
	}

	asset, ok := md.AssetID(symbol)
	if !ok {
		fatal(fmt.Errorf("asset id not found for %s", symbol))
	}
	wire, err := exchange.NewLimitOrder(asset, side == quant.Buy, px.Str, norm.Size.Str, false, exchange.TifAlo, "")
	if err != nil {
		fatal(err)
	}

	exClient, err := exchange.NewClient(baseURL, timeout, signer, "")
	if err != nil {
		fatal(err)
	}
	statePath := "data/hl-mm-bot.db"
	if cfg != nil && cfg.State.SQLitePath != "" {
		statePath = cfg.State.SQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		log.Warn("nonce store init failed: " + err.Error())
	} else if store, err := sqlite.New(statePath); err != nil {
		log.Warn("nonce store init failed: " + err.Error())
	} else {
		defer store.Close()
		if err := exClient.InitNonceStore(ctx, store); err != nil {
			log.Warn("nonce store init failed: " + err.Error())
		}
	}

	status, err := exClient.PlaceOrder(ctx, wire)
	if err != nil {
		fatal(err)
	}
	switch {
	case status.Error != "":
		fmt.Printf("exchange rejected: reject=%s error=%s\n", status.Reject.String(), status.Error)
	case status.Filled:
		fmt.Printf("exchange response: filled order_id=%s\n", status.OrderID)
	default:
		fmt.Printf("exchange response: resting order_id=%s\n", status.OrderID)
	}
}

func floatEnv(key string) (float64, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
