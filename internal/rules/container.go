package rules

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mohamedkhairy/market-rules/internal/models"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

// Container owns a set of rules and serializes their activation and removal
type Container interface {
	Name() string
	Logger() *zap.Logger
	Now() time.Time

	// ActivateRule runs process for rule unless the rule was removed
	// concurrently. process returns whether the rule finished.
	ActivateRule(rule Rule, process func() bool)

	IsRulesSuspended() bool
	SuspendRules() error
	ResumeRules() error

	TryRemoveRule(rule Rule, checkCanFinish bool) bool
	TryRemoveWithExclusive(rule Rule) bool

	add(rule Rule) error
	detach(rule Rule, reason string)
}

// ActivationSink observes every handler run of a container
type ActivationSink interface {
	RuleActivated(activation *models.Activation)
}

// ActivationSinkFunc adapts a function to ActivationSink
type ActivationSinkFunc func(activation *models.Activation)

func (f ActivationSinkFunc) RuleActivated(activation *models.Activation) {
	f(activation)
}

// Option configures a RuleContainer
type Option func(*RuleContainer)

// WithLogger sets the container log sink
func WithLogger(l *zap.Logger) Option {
	return func(c *RuleContainer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock makes the container report time from clock
func WithClock(clock models.Clock) Option {
	return func(c *RuleContainer) {
		c.clock = clock
	}
}

// WithSink forwards activations to sink
func WithSink(sink ActivationSink) Option {
	return func(c *RuleContainer) {
		c.sink = sink
	}
}

// RuleContainer is the standard Container. The rule list, the suspend
// counter and each rule's exclusive set are guarded by separate locks.
type RuleContainer struct {
	name   string
	logger *zap.Logger
	clock  models.Clock
	sink   ActivationSink

	rulesMu sync.RWMutex
	rules   []Rule
	closed  bool

	suspendMu    sync.Mutex
	suspendCount int
}

// NewContainer creates an empty container
func NewContainer(name string, opts ...Option) *RuleContainer {
	c := &RuleContainer{
		name:   name,
		logger: logger.Named("rules"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("container", name))
	return c
}

var (
	defaultContainer     *RuleContainer
	defaultContainerOnce sync.Once
)

// DefaultContainer returns the process-wide container used by Apply(nil)
func DefaultContainer() *RuleContainer {
	defaultContainerOnce.Do(func() {
		defaultContainer = NewContainer("default")
	})
	return defaultContainer
}

func (c *RuleContainer) Name() string {
	return c.name
}

func (c *RuleContainer) Logger() *zap.Logger {
	return c.logger
}

func (c *RuleContainer) Now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now()
}

func (c *RuleContainer) add(rule Rule) error {
	if rule == nil {
		return ErrNilRule
	}

	c.rulesMu.Lock()
	if c.closed {
		c.rulesMu.Unlock()
		return ErrContainerClosed
	}
	if err := rule.core().attachTo(c); err != nil {
		c.rulesMu.Unlock()
		return err
	}
	c.rules = append(c.rules, rule)
	c.rulesMu.Unlock()

	liveRules.WithLabelValues(c.name).Inc()
	logRule(c, rule, zapcore.DebugLevel, "added")
	return nil
}

// detach drops rule from the list; it reports whether the rule was present
func (c *RuleContainer) detach(rule Rule, reason string) {
	if c.remove(rule) {
		removedTotal.WithLabelValues(c.name, reason).Inc()
	}
}

func (c *RuleContainer) remove(rule Rule) bool {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()

	for i, r := range c.rules {
		if r == rule {
			c.rules = append(c.rules[:i:i], c.rules[i+1:]...)
			liveRules.WithLabelValues(c.name).Dec()
			return true
		}
	}
	return false
}

// Rules returns the attached rules in insertion order
func (c *RuleContainer) Rules() []Rule {
	c.rulesMu.RLock()
	defer c.rulesMu.RUnlock()
	return append([]Rule(nil), c.rules...)
}

// Len returns the number of attached rules
func (c *RuleContainer) Len() int {
	c.rulesMu.RLock()
	defer c.rulesMu.RUnlock()
	return len(c.rules)
}

// ActivateRule is the serialization point of a rule's life: a rule that
// is not Ready is skipped, a rule is never Active twice at once, and a
// finished rule is removed together with its exclusive siblings.
func (c *RuleContainer) ActivateRule(rule Rule, process func() bool) {
	logRule(c, rule, zapcore.DebugLevel, "processing")

	// the rule may have been removed by another goroutine
	if !rule.IsReady() {
		activationSkipped.WithLabelValues(c.name, skipNotReady).Inc()
		return
	}

	core := rule.core()
	if !core.state.CompareAndSwap(stateReady, stateActive) {
		activationSkipped.WithLabelValues(c.name, skipBusy).Inc()
		return
	}

	finished := runProcess(core, process, handlerDuration.WithLabelValues(c.name).Observe)
	activationsTotal.WithLabelValues(c.name).Inc()

	if !finished {
		c.notify(rule, false)
		return
	}

	core.release()
	c.detach(rule, removeFinished)
	removed := []Rule{rule}

	for _, ex := range core.unlinkExclusive() {
		if removeExclusively(ex) {
			removed = append(removed, ex)
		}
	}

	for _, r := range removed {
		logRule(c, r, zapcore.DebugLevel, "removed")
	}
	c.notify(rule, true)
}

// runProcess runs process with the rule Active and always releases it:
// Ready when the rule continues, Disposed when it finished.
func runProcess(core *ruleCore, process func() bool, observe func(float64)) (finished bool) {
	start := time.Now()
	defer func() {
		if finished {
			core.state.CompareAndSwap(stateActive, stateDisposed)
		} else {
			core.state.CompareAndSwap(stateActive, stateReady)
		}
		if observe != nil {
			observe(time.Since(start).Seconds())
		}
	}()

	return process()
}

// removeExclusively force-retires an exclusive sibling in its own container
func removeExclusively(rule Rule) bool {
	c := rule.Container()
	if c == nil {
		return false
	}

	if _, ok := rule.core().tryRetire(false); !ok {
		return false
	}
	c.detach(rule, removeExclusive)
	return true
}

func (c *RuleContainer) notify(rule Rule, finished bool) {
	if c.sink == nil {
		return
	}

	c.sink.RuleActivated(&models.Activation{
		Container: c.name,
		RuleID:    rule.ID().String(),
		RuleName:  rule.Name(),
		Token:     TokenString(rule.Token()),
		Timestamp: c.Now(),
		Finished:  finished,
	})
}

// IsRulesSuspended reports whether the suspend counter is positive
func (c *RuleContainer) IsRulesSuspended() bool {
	c.suspendMu.Lock()
	defer c.suspendMu.Unlock()
	return c.suspendCount > 0
}

// SuspendRules increments the suspend counter
func (c *RuleContainer) SuspendRules() error {
	c.suspendMu.Lock()
	defer c.suspendMu.Unlock()
	c.suspendCount++
	return nil
}

// ResumeRules decrements the suspend counter, never below zero
func (c *RuleContainer) ResumeRules() error {
	c.suspendMu.Lock()
	defer c.suspendMu.Unlock()
	if c.suspendCount > 0 {
		c.suspendCount--
	}
	return nil
}

// TryRemoveRule removes rule when it can finish, or, with checkCanFinish
// false, whenever it is Ready and not running. Exactly one of several
// concurrent callers succeeds.
func (c *RuleContainer) TryRemoveRule(rule Rule, checkCanFinish bool) bool {
	_, ok := c.retire(rule, checkCanFinish)
	return ok
}

func (c *RuleContainer) retire(rule Rule, checkCanFinish bool) ([]Rule, bool) {
	if rule == nil {
		return nil, false
	}
	siblings, ok := rule.core().tryRetire(checkCanFinish)
	if !ok {
		return nil, false
	}

	c.detach(rule, removeManual)
	logRule(c, rule, zapcore.DebugLevel, "removed")
	return siblings, true
}

// TryRemoveWithExclusive removes rule and then its exclusive siblings
func (c *RuleContainer) TryRemoveWithExclusive(rule Rule) bool {
	siblings, ok := c.retire(rule, true)
	if !ok {
		return false
	}

	for _, ex := range siblings {
		if removeExclusively(ex) {
			logRule(c, ex, zapcore.DebugLevel, "removed")
		}
	}
	return true
}

// Close disposes every rule and rejects further additions
func (c *RuleContainer) Close() {
	c.rulesMu.Lock()
	c.closed = true
	rules := c.rules
	c.rulesMu.Unlock()

	for _, r := range rules {
		r.Dispose()
	}
	logger.Debug("Rule container closed", logger.String("container", c.name), logger.Int("rules", len(rules)))
}

// SuspendRules runs action with c suspended and always resumes it,
// even when action fails or panics.
func SuspendRules(c Container, action func() error) error {
	if c == nil {
		c = DefaultContainer()
	}
	if err := c.SuspendRules(); err != nil {
		return err
	}
	defer c.ResumeRules()

	return action()
}
