package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohamedkhairy/market-rules/internal/config"
	"github.com/mohamedkhairy/market-rules/internal/connector"
	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/rules"
	"github.com/mohamedkhairy/market-rules/internal/timer"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

func setBid(emu *connector.Emulator, sec *models.Security, bid int64) {
	emu.UpdateLevel1(sec, map[models.Level1Field]decimal.Decimal{
		models.Level1BestBidPrice: decimal.NewFromInt(bid),
	})
}

func TestBracket_TakeProfitSellsAndRearms(t *testing.T) {
	logger.Set(zap.NewNop())
	clock := timer.NewSimClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	emu := connector.NewEmulator("demo", clock)
	c := rules.NewContainer("demo", rules.WithLogger(zap.NewNop()), rules.WithClock(clock))
	sec := models.NewSecurity("AAPL", "AAPL", nil)

	setBid(emu, sec, 100)
	b := newBracket(c, emu, models.NewPortfolio("demo", emu), sec)
	require.NoError(t, b.arm())
	assert.Equal(t, 2, c.Len())

	var fills int
	fillsRule, err := rules.WhenNewMyTrades(emu)
	require.NoError(t, err)
	fillsRule.Do(func(trades []*models.MyTrade) { fills += len(trades) })
	require.NoError(t, fillsRule.Apply(c))

	setBid(emu, sec, 101)
	assert.Equal(t, int64(0), b.exits.Load())

	setBid(emu, sec, 102)
	assert.Equal(t, int64(1), b.exits.Load())
	assert.Equal(t, 1, fills)
	assert.Equal(t, 3, c.Len())

	// the new pair is centred on 102
	setBid(emu, sec, 101)
	assert.Equal(t, int64(1), b.exits.Load())
	setBid(emu, sec, 100)
	assert.Equal(t, int64(2), b.exits.Load())
	assert.Equal(t, 2, fills)
}

func TestBracket_ArmLinksPairAndResumes(t *testing.T) {
	clock := timer.NewSimClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	emu := connector.NewEmulator("demo", clock)
	c := rules.NewContainer("demo", rules.WithLogger(zap.NewNop()), rules.WithClock(clock))
	sec := models.NewSecurity("AAPL", "AAPL", nil)
	setBid(emu, sec, 100)

	b := newBracket(c, emu, models.NewPortfolio("demo", emu), sec)
	require.NoError(t, b.arm())

	pair := c.Rules()
	require.Len(t, pair, 2)
	require.Len(t, pair[0].ExclusiveRules(), 1)
	require.Len(t, pair[1].ExclusiveRules(), 1)
	assert.Equal(t, pair[1].ID(), pair[0].ExclusiveRules()[0].ID())
	assert.Equal(t, pair[0].ID(), pair[1].ExclusiveRules()[0].ID())
	assert.False(t, c.IsRulesSuspended())
}

func TestBracket_ArmWhileSuspendedKeepsCounter(t *testing.T) {
	clock := timer.NewSimClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	emu := connector.NewEmulator("demo", clock)
	c := rules.NewContainer("demo", rules.WithLogger(zap.NewNop()), rules.WithClock(clock))
	sec := models.NewSecurity("AAPL", "AAPL", nil)
	setBid(emu, sec, 100)

	require.NoError(t, c.SuspendRules())
	b := newBracket(c, emu, models.NewPortfolio("demo", emu), sec)
	require.NoError(t, b.arm())
	assert.True(t, c.IsRulesSuspended())

	setBid(emu, sec, 105)
	assert.Equal(t, int64(0), b.exits.Load())

	require.NoError(t, c.ResumeRules())
	assert.False(t, c.IsRulesSuspended())
}

func TestBracket_ArmNeedsQuote(t *testing.T) {
	clock := timer.NewSimClock(time.Now())
	emu := connector.NewEmulator("demo", clock)
	c := rules.NewContainer("demo", rules.WithLogger(zap.NewNop()))

	b := newBracket(c, emu, nil, models.NewSecurity("X", "X", nil))
	assert.ErrorIs(t, b.arm(), models.ErrNoCurrentValue)
	assert.Equal(t, 0, c.Len())
}

func TestNewClock(t *testing.T) {
	live := newClock(config.RulesConfig{Clock: config.ClockLive, TimerResolution: time.Second})
	assert.IsType(t, liveClock{}, live)

	sim := newClock(config.RulesConfig{Clock: config.ClockSimulated, TimerResolution: time.Second, SimStep: time.Minute})
	require.IsType(t, simClock{}, sim)
	assert.Equal(t, time.Minute, sim.(simClock).step)
}
