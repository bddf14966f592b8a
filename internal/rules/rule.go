package rules

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel filters the log lines of a single rule
type LogLevel int

const (
	// LogInherit uses the container logger level
	LogInherit LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
	LogOff
)

func (l LogLevel) String() string {
	switch l {
	case LogInherit:
		return "inherit"
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	case LogOff:
		return "off"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l LogLevel) allows(level zapcore.Level) bool {
	switch l {
	case LogInherit:
		return true
	case LogOff:
		return false
	case LogDebug:
		return level >= zapcore.DebugLevel
	case LogInfo:
		return level >= zapcore.InfoLevel
	case LogWarn:
		return level >= zapcore.WarnLevel
	default:
		return level >= zapcore.ErrorLevel
	}
}

const (
	stateReady int32 = iota
	stateActive
	stateDisposed
)

// Rule is the type-independent view of a MarketRule
type Rule interface {
	ID() uuid.UUID
	Name() string
	SetName(name string)
	LogLevel() LogLevel
	SetLogLevel(level LogLevel)
	Container() Container
	Token() any

	IsReady() bool
	IsActive() bool
	IsDisposed() bool
	IsSuspended() bool
	SetSuspended(suspended bool)
	CanFinish() bool
	ExclusiveRules() []Rule

	Dispose()
	String() string

	core() *ruleCore
}

// ruleCore holds everything about a rule that does not depend on its
// token or argument types.
type ruleCore struct {
	id        uuid.UUID
	self      Rule
	token     any
	state     atomic.Int32
	suspended atomic.Bool

	mu        sync.RWMutex
	name      string
	logLevel  LogLevel
	container Container
	handlers  []func(any)
	until     func() bool
	terminal  func() bool
	children  []Rule
	disposers []func()
	released  bool

	exMu      sync.Mutex
	exclusive map[uuid.UUID]Rule
}

func (r *ruleCore) init(self Rule, token any, name string) {
	r.id = uuid.New()
	r.self = self
	r.token = token
	r.name = name
	r.exclusive = make(map[uuid.UUID]Rule)
}

func (r *ruleCore) core() *ruleCore {
	return r
}

func (r *ruleCore) ID() uuid.UUID {
	return r.id
}

func (r *ruleCore) Token() any {
	return r.token
}

func (r *ruleCore) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *ruleCore) SetName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

func (r *ruleCore) LogLevel() LogLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logLevel
}

// SetLogLevel sets the level of the rule and of every inner rule
func (r *ruleCore) SetLogLevel(level LogLevel) {
	r.mu.Lock()
	r.logLevel = level
	children := r.children
	r.mu.Unlock()

	for _, child := range children {
		child.SetLogLevel(level)
	}
}

func (r *ruleCore) Container() Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.container
}

func (r *ruleCore) attachTo(c Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.container != nil {
		return ErrAlreadyApplied
	}
	if r.state.Load() == stateDisposed {
		return ErrRuleDisposed
	}
	r.container = c
	return nil
}

// IsReady reports whether the rule is attached and can be activated or removed
func (r *ruleCore) IsReady() bool {
	return r.state.Load() == stateReady && r.Container() != nil
}

// IsActive reports whether a handler of the rule is running
func (r *ruleCore) IsActive() bool {
	return r.state.Load() == stateActive
}

func (r *ruleCore) IsDisposed() bool {
	return r.state.Load() == stateDisposed
}

func (r *ruleCore) IsSuspended() bool {
	return r.suspended.Load()
}

// SetSuspended gates incoming events without dropping subscriptions.
// Composite rules pass the flag to every inner rule.
func (r *ruleCore) SetSuspended(suspended bool) {
	r.suspended.Store(suspended)

	r.mu.RLock()
	children := r.children
	r.mu.RUnlock()

	for _, child := range children {
		child.SetSuspended(suspended)
	}
}

// CanFinish reports whether the rule may be removed now
func (r *ruleCore) CanFinish() bool {
	return !r.IsActive() && r.IsReady() && r.isFinished()
}

func (r *ruleCore) isFinished() bool {
	r.mu.RLock()
	until, terminal := r.until, r.terminal
	r.mu.RUnlock()

	return (until != nil && until()) || (terminal != nil && terminal())
}

func (r *ruleCore) setUntil(fn func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.until = fn
}

func (r *ruleCore) setTerminal(fn func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = fn
}

func (r *ruleCore) setChildren(children []Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children = children
}

func (r *ruleCore) addHandler(fn func(any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

// onDispose registers cleanups run once when the rule is released.
// Cleanups registered after release run immediately.
func (r *ruleCore) onDispose(fns ...func()) {
	r.mu.Lock()
	if !r.released {
		r.disposers = append(r.disposers, fns...)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ExclusiveRules returns a snapshot of the rules removed when this one finishes
func (r *ruleCore) ExclusiveRules() []Rule {
	r.exMu.Lock()
	defer r.exMu.Unlock()

	out := make([]Rule, 0, len(r.exclusive))
	for _, ex := range r.exclusive {
		out = append(out, ex)
	}
	return out
}

func (r *ruleCore) addExclusive(other Rule) {
	r.exMu.Lock()
	defer r.exMu.Unlock()
	r.exclusive[other.ID()] = other
}

// takeExclusive copies and clears the exclusive set in one step
func (r *ruleCore) takeExclusive() []Rule {
	r.exMu.Lock()
	defer r.exMu.Unlock()

	out := make([]Rule, 0, len(r.exclusive))
	for id, ex := range r.exclusive {
		out = append(out, ex)
		delete(r.exclusive, id)
	}
	return out
}

func (r *ruleCore) dropExclusive(id uuid.UUID) {
	r.exMu.Lock()
	defer r.exMu.Unlock()
	delete(r.exclusive, id)
}

// unlinkExclusive clears the exclusive set and removes this rule from
// the sets of its former siblings
func (r *ruleCore) unlinkExclusive() []Rule {
	siblings := r.takeExclusive()
	for _, ex := range siblings {
		ex.core().dropExclusive(r.ID())
	}
	return siblings
}

func (r *ruleCore) fire(arg any) {
	r.mu.RLock()
	handlers := r.handlers
	r.mu.RUnlock()

	for _, h := range handlers {
		h(arg)
	}
}

// activate hands a satisfied occurrence to the owning container
func (r *ruleCore) activate(arg any) {
	c := r.Container()
	if c == nil || r.IsSuspended() || r.IsDisposed() {
		return
	}

	if c.IsRulesSuspended() {
		activationSkipped.WithLabelValues(c.Name(), skipSuspended).Inc()
		logRule(c, r.self, zapcore.DebugLevel, "activation skipped: rules suspended")
		return
	}

	c.ActivateRule(r.self, func() bool {
		r.fire(arg)
		return r.isFinished()
	})
}

// tryRetire moves a Ready rule to Disposed. Only one caller can win; the
// winner gets the exclusive siblings the rule was unlinked from.
func (r *ruleCore) tryRetire(checkCanFinish bool) ([]Rule, bool) {
	if checkCanFinish && !r.CanFinish() {
		return nil, false
	}
	if r.Container() == nil {
		return nil, false
	}
	if !r.state.CompareAndSwap(stateReady, stateDisposed) {
		return nil, false
	}
	siblings := r.unlinkExclusive()
	r.release()
	return siblings, true
}

// release drops subscriptions and inner rules
func (r *ruleCore) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	disposers := r.disposers
	children := r.children
	r.disposers = nil
	r.mu.Unlock()

	for i := len(disposers) - 1; i >= 0; i-- {
		disposers[i]()
	}
	for _, child := range children {
		child.Dispose()
	}
}

// Dispose forcibly retires the rule and detaches it from its container
func (r *ruleCore) Dispose() {
	r.state.Store(stateDisposed)
	if c := r.Container(); c != nil {
		c.detach(r.self, removeDispose)
	}
	r.release()
	r.unlinkExclusive()
}

func (r *ruleCore) String() string {
	return r.Name()
}

// MarketRule binds a token entity of type T and activates with an
// argument of type A.
type MarketRule[T any, A any] struct {
	ruleCore
	entity T
}

func newRule[T any, A any](entity T, name string) *MarketRule[T, A] {
	r := &MarketRule[T, A]{entity: entity}
	r.init(r, entity, name)
	return r
}

// Entity returns the token the rule is bound to
func (r *MarketRule[T, A]) Entity() T {
	return r.entity
}

// Do adds an activation handler
func (r *MarketRule[T, A]) Do(fn func(arg A)) *MarketRule[T, A] {
	if fn == nil {
		panic("handler cannot be nil")
	}
	r.addHandler(func(v any) {
		arg, _ := v.(A)
		fn(arg)
	})
	return r
}

// Until installs the predicate that finishes the rule after an activation
func (r *MarketRule[T, A]) Until(fn func() bool) *MarketRule[T, A] {
	r.setUntil(fn)
	return r
}

// Once finishes the rule after its first activation
func (r *MarketRule[T, A]) Once() *MarketRule[T, A] {
	return r.Until(func() bool { return true })
}

func (r *MarketRule[T, A]) UpdateName(name string) *MarketRule[T, A] {
	r.SetName(name)
	return r
}

func (r *MarketRule[T, A]) UpdateLogLevel(level LogLevel) *MarketRule[T, A] {
	r.SetLogLevel(level)
	return r
}

func (r *MarketRule[T, A]) Suspend(suspended bool) *MarketRule[T, A] {
	r.SetSuspended(suspended)
	return r
}

// Apply attaches the rule to c, or to the default container when c is nil
func (r *MarketRule[T, A]) Apply(c Container) error {
	if c == nil {
		c = DefaultContainer()
	}
	if r.IsDisposed() {
		return ErrRuleDisposed
	}
	return c.add(r)
}

func (r *MarketRule[T, A]) activate(arg A) {
	r.ruleCore.activate(arg)
}

func logRule(c Container, rule Rule, level zapcore.Level, msg string, fields ...zap.Field) {
	if c == nil || !rule.LogLevel().allows(level) {
		return
	}
	if ce := c.Logger().Check(level, msg); ce != nil {
		fields = append(fields, zap.String("rule", rule.Name()), zap.Stringer("rule_id", rule.ID()))
		ce.Write(fields...)
	}
}
