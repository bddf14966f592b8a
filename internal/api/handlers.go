package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mohamedkhairy/market-rules/internal/rules"
	"github.com/mohamedkhairy/market-rules/pkg/logger"
)

// Registry names the containers exposed over HTTP
type Registry struct {
	mu         sync.RWMutex
	containers map[string]*rules.RuleContainer
}

// NewRegistry creates a registry holding containers
func NewRegistry(containers ...*rules.RuleContainer) *Registry {
	r := &Registry{containers: make(map[string]*rules.RuleContainer)}
	for _, c := range containers {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a container under its name
func (r *Registry) Register(c *rules.RuleContainer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[c.Name()] = c
}

// Get returns the container registered under name
func (r *Registry) Get(name string) (*rules.RuleContainer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[name]
	return c, ok
}

// List returns the containers sorted by name
func (r *Registry) List() []*rules.RuleContainer {
	r.mu.RLock()
	out := make([]*rules.RuleContainer, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ContainerView is the JSON form of a container
type ContainerView struct {
	Name      string `json:"name"`
	Rules     int    `json:"rules"`
	Suspended bool   `json:"suspended"`
}

// RuleView is the JSON form of a rule
type RuleView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Token     string   `json:"token,omitempty"`
	LogLevel  string   `json:"log_level"`
	Ready     bool     `json:"ready"`
	Active    bool     `json:"active"`
	Disposed  bool     `json:"disposed"`
	Suspended bool     `json:"suspended"`
	CanFinish bool     `json:"can_finish"`
	Exclusive []string `json:"exclusive,omitempty"`
}

func newContainerView(c *rules.RuleContainer) ContainerView {
	return ContainerView{
		Name:      c.Name(),
		Rules:     c.Len(),
		Suspended: c.IsRulesSuspended(),
	}
}

func newRuleView(r rules.Rule) RuleView {
	view := RuleView{
		ID:        r.ID().String(),
		Name:      r.Name(),
		LogLevel:  r.LogLevel().String(),
		Ready:     r.IsReady(),
		Active:    r.IsActive(),
		Disposed:  r.IsDisposed(),
		Suspended: r.IsSuspended(),
		CanFinish: r.CanFinish(),
	}
	view.Token = rules.TokenString(r.Token())
	for _, ex := range r.ExclusiveRules() {
		view.Exclusive = append(view.Exclusive, ex.ID().String())
	}
	return view
}

// ContainerHandler handles container and rule introspection endpoints
type ContainerHandler struct {
	registry *Registry
}

// NewContainerHandler creates a new container handler
func NewContainerHandler(registry *Registry) *ContainerHandler {
	return &ContainerHandler{registry: registry}
}

// ListContainers handles GET /api/v1/containers
func (h *ContainerHandler) ListContainers(w http.ResponseWriter, r *http.Request) {
	containers := h.registry.List()
	views := make([]ContainerView, 0, len(containers))
	for _, c := range containers {
		views = append(views, newContainerView(c))
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"containers": views,
		"count":      len(views),
	})
}

// GetContainer handles GET /api/v1/containers/{name}
func (h *ContainerHandler) GetContainer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, newContainerView(c))
}

// ListRules handles GET /api/v1/containers/{name}/rules
func (h *ContainerHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}

	attached := c.Rules()
	views := make([]RuleView, 0, len(attached))
	for _, rule := range attached {
		views = append(views, newRuleView(rule))
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"rules": views,
		"count": len(views),
	})
}

// GetRule handles GET /api/v1/containers/{name}/rules/{id}
func (h *ContainerHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	_, rule, ok := h.rule(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, newRuleView(rule))
}

// RemoveRule handles DELETE /api/v1/containers/{name}/rules/{id}.
// With ?finished=true the rule is only removed when it can finish.
func (h *ContainerHandler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	c, rule, ok := h.rule(w, r)
	if !ok {
		return
	}

	checkCanFinish, _ := strconv.ParseBool(r.URL.Query().Get("finished"))
	if !c.TryRemoveRule(rule, checkCanFinish) {
		respondWithError(w, http.StatusConflict, "Rule cannot be removed now")
		return
	}

	logger.Info("Rule removed over HTTP",
		logger.String("container", c.Name()),
		logger.String("rule_id", rule.ID().String()),
		logger.String("rule_name", rule.Name()),
	)
	w.WriteHeader(http.StatusNoContent)
}

// SuspendRule handles POST /api/v1/containers/{name}/rules/{id}/suspend
func (h *ContainerHandler) SuspendRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleSuspended(w, r, true)
}

// ResumeRule handles POST /api/v1/containers/{name}/rules/{id}/resume
func (h *ContainerHandler) ResumeRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleSuspended(w, r, false)
}

func (h *ContainerHandler) setRuleSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	_, rule, ok := h.rule(w, r)
	if !ok {
		return
	}
	rule.SetSuspended(suspended)
	respondWithJSON(w, http.StatusOK, newRuleView(rule))
}

// SuspendContainer handles POST /api/v1/containers/{name}/suspend
func (h *ContainerHandler) SuspendContainer(w http.ResponseWriter, r *http.Request) {
	h.changeSuspension(w, r, (*rules.RuleContainer).SuspendRules)
}

// ResumeContainer handles POST /api/v1/containers/{name}/resume
func (h *ContainerHandler) ResumeContainer(w http.ResponseWriter, r *http.Request) {
	h.changeSuspension(w, r, (*rules.RuleContainer).ResumeRules)
}

func (h *ContainerHandler) changeSuspension(w http.ResponseWriter, r *http.Request, change func(*rules.RuleContainer) error) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}
	if err := change(c); err != nil {
		respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, newContainerView(c))
}

func (h *ContainerHandler) container(w http.ResponseWriter, r *http.Request) (*rules.RuleContainer, bool) {
	name := mux.Vars(r)["name"]
	c, ok := h.registry.Get(name)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Container not found")
		return nil, false
	}
	return c, true
}

func (h *ContainerHandler) rule(w http.ResponseWriter, r *http.Request) (*rules.RuleContainer, rules.Rule, bool) {
	c, ok := h.container(w, r)
	if !ok {
		return nil, nil, false
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid rule ID")
		return nil, nil, false
	}

	for _, rule := range c.Rules() {
		if rule.ID() == id {
			return c, rule, true
		}
	}
	respondWithError(w, http.StatusNotFound, "Rule not found")
	return nil, nil, false
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler creates a health handler checking deps on /ready
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// Health handles GET /health and GET /live
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	for name, dep := range h.deps {
		if err := dep.Ping(r.Context()); err != nil {
			logger.Warn("Readiness check failed",
				logger.String("dependency", name),
				logger.ErrorField(err),
			)
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "not ready",
				"dependency": name,
			})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
