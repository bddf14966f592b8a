package rules

import "errors"

var (
	ErrNilRule               = errors.New("rule is nil")
	ErrNilOrder              = errors.New("order is nil")
	ErrNilDepth              = errors.New("market depth is nil")
	ErrNilCandle             = errors.New("candle is nil")
	ErrNoSeries              = errors.New("candle series is nil")
	ErrNoConnector           = errors.New("connector is nil")
	ErrNoProvider            = errors.New("market data provider is nil")
	ErrEmptyComposite        = errors.New("composite rule needs at least one inner rule")
	ErrSelfExclusive         = errors.New("rule cannot be exclusive with itself")
	ErrCompositeSuspend      = errors.New("suspend and resume are not supported through a composite rule")
	ErrCompositeApply        = errors.New("rules cannot be applied to a composite rule")
	ErrAlreadyApplied        = errors.New("rule is already attached to a container")
	ErrRuleDisposed          = errors.New("rule is disposed")
	ErrContainerClosed       = errors.New("rule container is closed")
	ErrInvalidPercent        = errors.New("percent must be positive")
	ErrInvalidInterval       = errors.New("interval must be positive")
	ErrUnsupportedCandleType = errors.New("unsupported candle type")
	ErrNoQuote               = errors.New("market depth has no quote on that side")
	ErrNotBasket             = errors.New("security is not a basket")
)
