package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohamedkhairy/market-rules/internal/alert"
	"github.com/mohamedkhairy/market-rules/internal/api"
	"github.com/mohamedkhairy/market-rules/internal/config"
	"github.com/mohamedkhairy/market-rules/internal/connector"
	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/pubsub"
	"github.com/mohamedkhairy/market-rules/internal/rules"
	"github.com/mohamedkhairy/market-rules/internal/timer"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting rules service",
		logger.String("clock", cfg.Rules.Clock),
		logger.Int("http_port", cfg.Rules.HTTPPort),
		logger.Bool("redis", cfg.Redis.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Rules service failed", logger.ErrorField(err))
	}
	logger.Info("Rules service stopped")
}

// clockRunner is a clock that ticks until its context is done
type clockRunner interface {
	models.Clock
	run(ctx context.Context) error
}

type liveClock struct{ *timer.LiveClock }

func (c liveClock) run(ctx context.Context) error { return c.Run(ctx) }

type simClock struct {
	*timer.SimClock
	interval, step time.Duration
}

func (c simClock) run(ctx context.Context) error { return c.Run(ctx, c.interval, c.step) }

func newClock(cfg config.RulesConfig) clockRunner {
	if cfg.Clock == config.ClockSimulated {
		return simClock{
			SimClock: timer.NewSimClock(time.Now()),
			interval: cfg.TimerResolution,
			step:     cfg.SimStep,
		}
	}
	return liveClock{timer.NewLiveClock(cfg.TimerResolution)}
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := newClock(cfg.Rules)
	emu := connector.NewEmulator("demo", clock)

	securities := make([]*models.Security, 0, len(cfg.Demo.Securities))
	for _, code := range cfg.Demo.Securities {
		securities = append(securities, models.NewSecurity(code, code, nil))
	}

	feederConfig := connector.DefaultFeederConfig()
	feederConfig.Interval = cfg.Demo.TickInterval
	feederConfig.StartPrice = cfg.Demo.StartPrice
	feeder := connector.NewFeeder(emu, feederConfig, securities...)

	// Activation shipping
	var (
		stream  *pubsub.StreamPublisher
		emitter *alert.Emitter
		deps    = map[string]api.Pinger{}
	)
	opts := []rules.Option{rules.WithClock(clock)}
	if cfg.Redis.Enabled {
		redisClient, err := pubsub.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		deps["redis"] = redisClient

		if cfg.Activation.Stream != "" {
			streamConfig := pubsub.DefaultStreamPublisherConfig(cfg.Activation.Stream)
			streamConfig.BatchSize = cfg.Activation.BatchSize
			streamConfig.BatchTimeout = cfg.Activation.BatchTimeout
			stream = pubsub.NewStreamPublisher(redisClient, streamConfig)
		}

		emitter = alert.NewEmitter(redisClient, streamSink(stream), alert.EmitterConfig{
			Channel:        cfg.Activation.Channel,
			BufferSize:     cfg.Activation.BufferSize,
			PublishTimeout: cfg.Activation.PublishTimeout,
		})
		opts = append(opts, rules.WithSink(emitter))
	}

	container := rules.NewContainer("demo", opts...)
	defer container.Close()

	// Seed level1 values so relative bracket offsets resolve
	feeder.Step()

	portfolio := models.NewPortfolio("demo", emu)
	for _, sec := range securities {
		if err := newBracket(container, emu, portfolio, sec).arm(); err != nil {
			return fmt.Errorf("arm bracket for %s: %w", sec.Code, err)
		}

		series := models.NewTimeFrameSeries(sec, time.Minute)
		feeder.AddCandleBuilder(connector.NewCandleBuilder(series))
		if err := watchCandles(container, clock, series); err != nil {
			return fmt.Errorf("watch candles for %s: %w", sec.Code, err)
		}
	}
	if err := heartbeat(container, emu, 30*time.Second); err != nil {
		return err
	}

	handler := api.NewRouter(
		api.NewContainerHandler(api.NewRegistry(container)),
		api.NewHealthHandler(deps),
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Rules.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return clock.run(ctx) })
	g.Go(func() error { return feeder.Run(ctx) })

	if emitter != nil {
		if stream != nil {
			stream.Start()
		}
		g.Go(func() error {
			// the stream closes after the emitter has drained into it
			err := emitter.Run(ctx)
			if stream != nil {
				if closeErr := stream.Close(); err == nil {
					err = closeErr
				}
			}
			return err
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// streamSink keeps a nil publisher from becoming a non-nil interface
func streamSink(p *pubsub.StreamPublisher) alert.StreamSink {
	if p == nil {
		return nil
	}
	return p
}
