package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/config"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"github.com/spooky-finn/go-orderbook-mirror/helpers"
	promclient "github.com/spooky-finn/go-orderbook-mirror/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-mirror/logger"
	"github.com/spooky-finn/go-orderbook-mirror/provider"
	"github.com/spooky-finn/go-orderbook-mirror/provider/binance"
	"github.com/spooky-finn/go-orderbook-mirror/provider/bithumb"
	"github.com/spooky-finn/go-orderbook-mirror/provider/bybit"
	"github.com/spooky-finn/go-orderbook-mirror/provider/coinbase"
	"github.com/spooky-finn/go-orderbook-mirror/provider/kucoin"
	"github.com/spooky-finn/go-orderbook-mirror/provider/okx"
	"github.com/spooky-finn/go-orderbook-mirror/provider/upbit"
	"github.com/spooky-finn/go-orderbook-mirror/rpc"
	"github.com/spooky-finn/go-orderbook-mirror/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logger: %v\n", err)
		os.Exit(1)
	}
	mainLog := log.WithComponent("main")

	limiter := provider.NewLimiter(cfg.Providers.RateLimit)
	connManager := provider.NewConnectionManager(cfg.Transport,
		binance.NewBinanceAdapter(binance.Options{Limiter: limiter}),
		okx.NewOkxAdapter(okx.Options{Limiter: limiter}),
		kucoin.NewKucoinAdapter(kucoin.Options{Limiter: limiter}),
		upbit.NewUpbitAdapter(upbit.Options{Limiter: limiter}),
		bybit.NewBybitAdapter(bybit.Options{Limiter: limiter}),
		coinbase.NewCoinbaseAdapter(coinbase.Options{Limiter: limiter}),
		bithumb.NewBithumbAdapter(bithumb.Options{Limiter: limiter}),
	)
	connManager.Restrict(cfg.Providers.Available)
	mainLog.WithFields(logger.Fields{"providers": connManager.Providers()}).Info("providers enabled")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderbookSnapshotUseCase := usecase.NewOrderBookSnapshotUseCase(connManager, cfg.Session)
	server := rpc.NewServer(orderbookSnapshotUseCase, rpc.NewValidationService(connManager))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := promclient.StartPromClientServer(ctx, cfg.Server.MetricsAddr); err != nil {
			mainLog.WithError(err).Error("metrics server failed")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx, cfg.Server.GRPCAddr); err != nil {
			mainLog.WithError(err).Error("grpc server failed")
			cancel()
		}
	}()

	pause := make(chan os.Signal, 1)
	signal.Notify(pause, syscall.SIGUSR1)
	defer signal.Stop(pause)

	if cfg.Console.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runConsole(ctx, connManager, cfg, pause); err != nil {
				mainLog.WithError(err).Error("console session failed")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.WithFields(logger.Fields{"signal": sig.String()}).Info("received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	orderbookSnapshotUseCase.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mainLog.Info("graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		mainLog.Warn("shutdown timeout exceeded, forcing exit")
	}
}

// runConsole mirrors one book and prints its top of book on every frame. SIGUSR1 toggles pause.
func runConsole(ctx context.Context, connManager *provider.ConnectionManager, cfg *config.Config, pause <-chan os.Signal) error {
	log := logger.GetLogger().WithComponent("console")

	adapter, err := connManager.Adapter(cfg.Console.Provider)
	if err != nil {
		return err
	}
	symbol, err := domain.NewMarketSymbolFromString(cfg.Console.Symbol)
	if err != nil {
		return err
	}

	pairs, err := adapter.FetchAvailablePairs(ctx, symbol.Quote())
	if err != nil {
		log.WithError(err).Warn("could not list available pairs")
	} else if !slices.Contains(pairs, symbol.Base()) {
		log.WithFields(logger.Fields{"symbol": symbol.String(), "listed": len(pairs)}).Warn("pair is not listed by the provider")
	}

	session := usecase.NewOrderBookSession(connManager, cfg.Session)
	defer session.Stop()

	sub := session.Subscribe()
	defer sub.Unsubscribe()

	if err := session.Select(adapter.ID(), symbol); err != nil {
		return err
	}
	if cfg.Console.Tick != "" {
		tick, err := decimal.NewFromString(cfg.Console.Tick)
		if err != nil {
			return fmt.Errorf("invalid console tick %q: %w", cfg.Console.Tick, err)
		}
		if err := session.SetTick(tick); err != nil {
			return err
		}
	}

	paused := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pause:
			paused = !paused
			if err := session.SetPaused(paused); err != nil {
				return err
			}
			log.WithFields(logger.Fields{"paused": paused}).Info("console updates toggled")
		case frame, ok := <-sub.Stream:
			if !ok {
				return nil
			}
			if config.DebugMode {
				fmt.Println(helpers.ToJsonString(frame))
				continue
			}
			fmt.Println(topOfBook(frame))
		}
	}
}

func topOfBook(frame usecase.Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %-12s", frame.Provider, frame.Symbol, frame.Status)
	if len(frame.View.Bids) > 0 {
		fmt.Fprintf(&b, " bid %s x %s", frame.View.Bids[0].Price, frame.View.Bids[0].Qty)
	}
	if len(frame.View.Asks) > 0 {
		fmt.Fprintf(&b, " ask %s x %s", frame.View.Asks[0].Price, frame.View.Asks[0].Qty)
	}
	if frame.View.MidPrice.Valid {
		fmt.Fprintf(&b, " mid %s spread %s%%", frame.View.MidPrice.Decimal.String(), frame.View.SpreadPercent.Decimal.String())
	}
	if !frame.TickSize.IsZero() {
		fmt.Fprintf(&b, " tick %s", frame.TickSize.String())
	}
	return b.String()
}
