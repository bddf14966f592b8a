package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

// LiveClock follows the wall clock and emits a tick every resolution
// from a dedicated goroutine.
type LiveClock struct {
	resolution time.Duration
	ticks      models.Hub[time.Time]

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLiveClock creates a stopped live clock
func NewLiveClock(resolution time.Duration) *LiveClock {
	if resolution <= 0 {
		resolution = 100 * time.Millisecond
	}
	return &LiveClock{resolution: resolution}
}

// Now returns the wall-clock time
func (c *LiveClock) Now() time.Time {
	return time.Now()
}

// OnTick registers fn for every tick
func (c *LiveClock) OnTick(fn func(now time.Time)) func() {
	return c.ticks.Subscribe(fn)
}

// Start begins emitting ticks
func (c *LiveClock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("live clock is already running")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.running = true

	c.wg.Add(1)
	go c.tickLoop(c.ctx)

	logger.Debug("Live clock started", logger.Duration("resolution", c.resolution))
	return nil
}

// Stop halts the tick goroutine and waits for it to exit
func (c *LiveClock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	logger.Debug("Live clock stopped")
}

// Run starts the clock and blocks until ctx is done
func (c *LiveClock) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	c.Stop()
	return nil
}

func (c *LiveClock) tickLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.ticks.Publish(now)
		}
	}
}

// SimClock is a manually advanced clock. Ticks are delivered synchronously
// on the goroutine that advances it.
type SimClock struct {
	mu    sync.Mutex
	now   time.Time
	ticks models.Hub[time.Time]
}

// NewSimClock creates a simulated clock set to start
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *SimClock) OnTick(fn func(now time.Time)) func() {
	return c.ticks.Subscribe(fn)
}

// Advance moves the clock forward by d and emits one tick
func (c *SimClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	c.ticks.Publish(now)
	return now
}

// SetTime moves the clock to t and emits one tick. Moving backwards is ignored.
func (c *SimClock) SetTime(t time.Time) {
	c.mu.Lock()
	if t.Before(c.now) {
		c.mu.Unlock()
		return
	}
	c.now = t
	c.mu.Unlock()

	c.ticks.Publish(t)
}

// Run advances the clock by step on every real interval until ctx is done
func (c *SimClock) Run(ctx context.Context, interval, step time.Duration) error {
	if interval <= 0 || step <= 0 {
		return fmt.Errorf("simulated clock needs positive interval and step")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Advance(step)
		}
	}
}
