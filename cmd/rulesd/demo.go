package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohamedkhairy/market-rules/internal/connector"
	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/internal/rules"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

// bracket keeps a take-profit and a stop-loss armed around the best bid
// of a security. Whichever fires first sells and arms a new pair.
type bracket struct {
	container *rules.RuleContainer
	emulator  *connector.Emulator
	portfolio *models.Portfolio
	security  *models.Security
	band      models.Unit
	volume    decimal.Decimal

	nextTx atomic.Int64
	exits  atomic.Int64
}

func newBracket(c *rules.RuleContainer, emu *connector.Emulator, pf *models.Portfolio, sec *models.Security) *bracket {
	return &bracket{
		container: c,
		emulator:  emu,
		portfolio: pf,
		security:  sec,
		band:      models.Percent(decimal.NewFromInt(1)),
		volume:    decimal.NewFromInt(10),
	}
}

func (b *bracket) arm() error {
	takeProfit, err := rules.WhenBestBidPriceMore(b.security, b.emulator, b.band)
	if err != nil {
		return fmt.Errorf("take-profit: %w", err)
	}
	stopLoss, err := rules.WhenBestBidPriceLess(b.security, b.emulator, b.band)
	if err != nil {
		return fmt.Errorf("stop-loss: %w", err)
	}

	takeProfit.UpdateName(b.security.Code + " take-profit").Once().Do(func(sec *models.Security) {
		b.exit(sec, "take-profit")
	})
	stopLoss.UpdateName(b.security.Code + " stop-loss").Once().Do(func(sec *models.Security) {
		b.exit(sec, "stop-loss")
	})

	if err := rules.Exclusive(takeProfit, stopLoss); err != nil {
		return err
	}

	// no quote may reach a half-built pair
	return rules.SuspendRules(b.container, func() error {
		if err := takeProfit.Apply(b.container); err != nil {
			return err
		}
		if err := stopLoss.Apply(b.container); err != nil {
			takeProfit.Dispose()
			return err
		}
		return nil
	})
}

func (b *bracket) exit(sec *models.Security, reason string) {
	b.exits.Add(1)
	price, ok := b.emulator.SecurityValue(sec, models.Level1BestBidPrice)
	if !ok {
		return
	}

	logger.Info("Bracket triggered",
		logger.String("security", sec.Code),
		logger.String("reason", reason),
		logger.String("bid", price.String()),
	)

	order := models.NewOrder(b.nextTx.Add(1), sec, b.portfolio, models.OrderLimit, models.Sell, price, b.volume)
	filled, err := rules.WhenOrderMatched(order)
	if err == nil {
		filled.UpdateName(fmt.Sprintf("%s exit %d filled", sec.Code, order.TransactionID)).Do(func(o *models.Order) {
			logger.Info("Bracket exit filled",
				logger.String("security", o.Security.Code),
				logger.Int64("order_id", o.ID()),
				logger.String("price", o.Price.String()),
			)
		})
		err = filled.Apply(b.container)
	}
	if err != nil {
		logger.Warn("Failed to watch exit order", logger.ErrorField(err))
	}

	if err := b.emulator.RegisterOrder(order); err != nil {
		logger.Warn("Failed to register exit order", logger.ErrorField(err))
	} else if _, err := b.emulator.MatchOrder(order, price, b.volume); err != nil {
		logger.Warn("Failed to match exit order", logger.ErrorField(err))
	}

	if err := b.arm(); err != nil {
		logger.Error("Failed to re-arm bracket",
			logger.String("security", sec.Code),
			logger.ErrorField(err),
		)
	}
}

// watchCandles logs finished and half-built candles of series
func watchCandles(c *rules.RuleContainer, clock models.Clock, series *models.CandleSeries) error {
	finished, err := rules.WhenCandlesFinished(series)
	if err != nil {
		return err
	}
	finished.UpdateName("candle finished").UpdateLogLevel(rules.LogInfo).Do(func(candle *models.Candle) {
		logger.Info("Candle finished",
			logger.String("security", series.Security.Code),
			logger.Time("open_time", candle.OpenTime),
			logger.String("close", candle.Close.String()),
			logger.String("volume", candle.TotalVolume.String()),
		)
	})

	half, err := rules.WhenCandlesPartiallyFinished(series, clock, decimal.NewFromInt(50))
	if err != nil {
		return err
	}
	half.UpdateName("candle half built").Do(func(candle *models.Candle) {
		if candle == nil {
			return
		}
		logger.Debug("Candle half built",
			logger.String("security", series.Security.Code),
			logger.String("close", candle.Close.String()),
		)
	})

	if err := finished.Apply(c); err != nil {
		return err
	}
	return half.Apply(c)
}

// heartbeat logs the size of the container on every interval
func heartbeat(c *rules.RuleContainer, conn models.Connector, every time.Duration) error {
	r, err := rules.WhenIntervalElapsed(conn, every)
	if err != nil {
		return err
	}
	r.UpdateName("heartbeat").Do(func(models.Connector) {
		logger.Info("Rules heartbeat",
			logger.String("container", c.Name()),
			logger.Int("rules", c.Len()),
			logger.Bool("suspended", c.IsRulesSuspended()),
		)
	})
	return r.Apply(c)
}
