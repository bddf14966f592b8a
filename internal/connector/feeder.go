package connector

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

// ErrFeederRunning is returned when starting a feeder twice
var ErrFeederRunning = errors.New("feeder is already running")

// FeederConfig holds random-walk settings
type FeederConfig struct {
	Interval   time.Duration
	StartPrice decimal.Decimal
	// MaxStep bounds the absolute price change per step
	MaxStep decimal.Decimal
	// Spread is the distance between best bid and best ask
	Spread decimal.Decimal
	Seed   int64
}

// DefaultFeederConfig returns a config for a 100.00 random walk
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Interval:   100 * time.Millisecond,
		StartPrice: decimal.NewFromInt(100),
		MaxStep:    decimal.NewFromInt(1),
		Spread:     decimal.NewFromFloat(0.02),
		Seed:       time.Now().UnixNano(),
	}
}

// Feeder drives an emulator with random-walk trades, level1 quotes and
// order books for a set of securities.
type Feeder struct {
	emulator *Emulator
	config   FeederConfig

	mu       sync.Mutex
	rnd      *rand.Rand
	prices   map[*models.Security]decimal.Decimal
	depths   map[*models.Security]*models.MarketDepth
	builders []*CandleBuilder
	order    []*models.Security

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeeder creates a feeder for securities
func NewFeeder(emulator *Emulator, config FeederConfig, securities ...*models.Security) *Feeder {
	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}
	if !config.StartPrice.IsPositive() {
		config.StartPrice = decimal.NewFromInt(100)
	}

	f := &Feeder{
		emulator: emulator,
		config:   config,
		rnd:      rand.New(rand.NewSource(config.Seed)),
		prices:   make(map[*models.Security]decimal.Decimal, len(securities)),
		depths:   make(map[*models.Security]*models.MarketDepth, len(securities)),
	}
	for _, sec := range securities {
		f.prices[sec] = config.StartPrice
		f.depths[sec] = models.NewMarketDepth(sec)
		f.order = append(f.order, sec)
	}
	return f
}

// Depth returns the book maintained for security
func (f *Feeder) Depth(security *models.Security) *models.MarketDepth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depths[security]
}

// Price returns the last generated price of security
func (f *Feeder) Price(security *models.Security) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[security]
}

// AddCandleBuilder feeds generated trades into b
func (f *Feeder) AddCandleBuilder(b *CandleBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders = append(f.builders, b)
}

// Step moves every price once and publishes the resulting market data
func (f *Feeder) Step() {
	now := f.emulator.Now()

	f.mu.Lock()
	type update struct {
		sec   *models.Security
		price decimal.Decimal
		size  decimal.Decimal
	}
	updates := make([]update, 0, len(f.order))
	for _, sec := range f.order {
		change := decimal.NewFromFloat(f.rnd.Float64()*2 - 1).Mul(f.config.MaxStep).Round(2)
		price := f.prices[sec].Add(change)
		if price.LessThan(decimal.NewFromInt(1)) {
			price = decimal.NewFromInt(1)
		}
		f.prices[sec] = price
		updates = append(updates, update{sec: sec, price: price, size: decimal.NewFromInt(int64(f.rnd.Intn(1000) + 100))})
	}
	builders := append([]*CandleBuilder(nil), f.builders...)
	f.mu.Unlock()

	half := f.config.Spread.Div(decimal.NewFromInt(2))
	trades := make([]*models.Trade, 0, len(updates))
	depths := make([]*models.MarketDepth, 0, len(updates))

	for _, u := range updates {
		bid, ask := u.price.Sub(half), u.price.Add(half)

		depth := f.Depth(u.sec)
		depth.Update(
			[]models.Quote{{Price: bid, Volume: u.size}},
			[]models.Quote{{Price: ask, Volume: u.size}},
			now,
		)
		depths = append(depths, depth)

		trades = append(trades, &models.Trade{Security: u.sec, Price: u.price, Volume: u.size, Time: now})

		f.emulator.UpdateLevel1(u.sec, map[models.Level1Field]decimal.Decimal{
			models.Level1BestBidPrice: bid,
			models.Level1BestAskPrice: ask,
		})
	}

	f.emulator.AddTrades(trades...)
	f.emulator.ChangeDepths(depths...)
	for _, b := range builders {
		b.AddTrades(trades)
	}
}

// Start runs Step every interval until Stop
func (f *Feeder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return ErrFeederRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go f.loop(ctx)

	logger.Info("Feeder started",
		logger.String("connector", f.emulator.Name()),
		logger.Int("securities", len(f.order)),
		logger.Duration("interval", f.config.Interval),
	)
	return nil
}

// Stop halts the feeder and waits for the loop to exit
func (f *Feeder) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	f.wg.Wait()

	f.mu.Lock()
	builders := append([]*CandleBuilder(nil), f.builders...)
	f.mu.Unlock()
	for _, b := range builders {
		b.Flush()
	}

	logger.Info("Feeder stopped", logger.String("connector", f.emulator.Name()))
}

// Run starts the feeder and blocks until ctx is done
func (f *Feeder) Run(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	f.Stop()
	return nil
}

func (f *Feeder) loop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Step()
		}
	}
}
