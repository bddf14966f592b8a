package rules

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

// compositeContainer is the container inner rules of an Or/And see.
// Logging, time and the suspend flag come from the composite's own
// container; suspend and resume requests are refused.
type compositeContainer struct {
	owner *ruleCore
}

func (c *compositeContainer) outer() Container {
	return c.owner.Container()
}

func (c *compositeContainer) Name() string {
	if o := c.outer(); o != nil {
		return o.Name()
	}
	return "composite"
}

func (c *compositeContainer) Logger() *zap.Logger {
	if o := c.outer(); o != nil {
		return o.Logger()
	}
	return logger.Named("rules")
}

func (c *compositeContainer) Now() time.Time {
	if o := c.outer(); o != nil {
		return o.Now()
	}
	return time.Now()
}

func (c *compositeContainer) ActivateRule(rule Rule, process func() bool) {
	if c.outer() == nil || c.owner.IsDisposed() || c.owner.IsSuspended() {
		return
	}
	if !rule.IsReady() {
		return
	}

	core := rule.core()
	if !core.state.CompareAndSwap(stateReady, stateActive) {
		return
	}

	if !runProcess(core, process, nil) {
		return
	}

	core.release()
	logRule(c, rule, zapcore.DebugLevel, "removed")
	for _, ex := range core.unlinkExclusive() {
		removeExclusively(ex)
	}
}

func (c *compositeContainer) IsRulesSuspended() bool {
	o := c.outer()
	return o != nil && o.IsRulesSuspended()
}

func (c *compositeContainer) SuspendRules() error {
	return ErrCompositeSuspend
}

func (c *compositeContainer) ResumeRules() error {
	return ErrCompositeSuspend
}

func (c *compositeContainer) TryRemoveRule(rule Rule, checkCanFinish bool) bool {
	_, ok := c.retire(rule, checkCanFinish)
	return ok
}

func (c *compositeContainer) retire(rule Rule, checkCanFinish bool) ([]Rule, bool) {
	if rule == nil {
		return nil, false
	}
	siblings, ok := rule.core().tryRetire(checkCanFinish)
	if ok {
		logRule(c, rule, zapcore.DebugLevel, "removed")
	}
	return siblings, ok
}

func (c *compositeContainer) TryRemoveWithExclusive(rule Rule) bool {
	siblings, ok := c.retire(rule, true)
	if !ok {
		return false
	}
	for _, ex := range siblings {
		removeExclusively(ex)
	}
	return true
}

func (c *compositeContainer) add(Rule) error {
	return ErrCompositeApply
}

func (c *compositeContainer) detach(Rule, string) {}

func newComposite[T any, A any](token T, inner []Rule, sep string) (*MarketRule[T, A], error) {
	if len(inner) == 0 {
		return nil, ErrEmptyComposite
	}

	names := make([]string, 0, len(inner))
	for _, r := range inner {
		if r == nil {
			return nil, ErrNilRule
		}
		if r.Container() != nil {
			return nil, ErrAlreadyApplied
		}
		if r.IsDisposed() {
			return nil, ErrRuleDisposed
		}
		names = append(names, r.Name())
	}

	composite := newRule[T, A](token, strings.Join(names, sep))
	cc := &compositeContainer{owner: &composite.ruleCore}
	for _, r := range inner {
		if err := r.core().attachTo(cc); err != nil {
			return nil, err
		}
	}
	composite.setChildren(append([]Rule(nil), inner...))
	return composite, nil
}

// Or activates with the argument of whichever inner rule fires
func Or(rules ...Rule) (*MarketRule[any, any], error) {
	composite, err := newComposite[any, any](nil, rules, " OR ")
	if err != nil {
		return nil, err
	}

	for _, r := range rules {
		r.core().addHandler(func(arg any) {
			composite.activate(arg)
		})
	}
	return composite, nil
}

// OrOf is Or over rules sharing token and argument types
func OrOf[T any, A any](rules ...*MarketRule[T, A]) (*MarketRule[T, A], error) {
	var token T
	composite, err := newComposite[T, A](token, asRules(rules), " OR ")
	if err != nil {
		return nil, err
	}

	for _, r := range rules {
		r.Do(func(arg A) {
			composite.activate(arg)
		})
	}
	return composite, nil
}

// And activates once every inner rule has fired, with their arguments
// in firing order.
func And(rules ...Rule) (*MarketRule[any, []any], error) {
	composite, err := newComposite[any, []any](nil, rules, " AND ")
	if err != nil {
		return nil, err
	}

	state := newAndState(rules)
	composite.setTerminal(state.completed)
	for _, r := range rules {
		id := r.ID()
		r.core().addHandler(func(arg any) {
			if args, ok := state.record(id, arg); ok {
				composite.activate(args)
			}
		})
	}
	return composite, nil
}

// AndOf is And over rules sharing token and argument types. It activates
// with the argument of the first inner rule that fired.
func AndOf[T any, A any](rules ...*MarketRule[T, A]) (*MarketRule[T, A], error) {
	var token T
	composite, err := newComposite[T, A](token, asRules(rules), " AND ")
	if err != nil {
		return nil, err
	}

	state := newAndState(asRules(rules))
	composite.setTerminal(state.completed)
	for _, r := range rules {
		id := r.ID()
		r.Do(func(arg A) {
			if args, ok := state.record(id, arg); ok {
				first, _ := args[0].(A)
				composite.activate(first)
			}
		})
	}
	return composite, nil
}

func asRules[T any, A any](rules []*MarketRule[T, A]) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if r != nil {
			out[i] = r
		}
	}
	return out
}

// andState tracks which inner rules have not fired yet
type andState struct {
	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	args    []any
	done    bool
}

func newAndState(rules []Rule) *andState {
	s := &andState{pending: make(map[uuid.UUID]struct{}, len(rules))}
	for _, r := range rules {
		s.pending[r.ID()] = struct{}{}
	}
	return s
}

// record marks id as fired. It returns the collected arguments exactly
// once, when the last pending rule fires.
func (s *andState) record(id uuid.UUID, arg any) ([]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, false
	}
	if _, ok := s.pending[id]; !ok {
		return nil, false
	}
	delete(s.pending, id)
	s.args = append(s.args, arg)

	if len(s.pending) > 0 {
		return nil, false
	}
	s.done = true
	return append([]any(nil), s.args...), true
}

func (s *andState) completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
