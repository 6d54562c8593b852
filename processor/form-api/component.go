// Package formapi provides the HTTP endpoints of the Topo4D metadata form.
// Each request folds one form submission into the caller's session and
// answers with the assembled, validated Item.
package formapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/topo4dform/geometry"
	"github.com/c360studio/topo4dform/item"
	"github.com/c360studio/topo4dform/metrics"
	"github.com/c360studio/topo4dform/session"
	"github.com/c360studio/topo4dform/validation"
)

// ItemPublisher receives Items that passed validation.
type ItemPublisher interface {
	Publish(ctx context.Context, sessionID string, it *item.Item) error
}

// Dependencies are the collaborators of the component. Validator is
// required; the rest fall back to defaults or are disabled when nil.
type Dependencies struct {
	Logger    *slog.Logger
	Sessions  *session.Store
	Validator *validation.Validator
	Deriver   *geometry.Deriver
	Publisher ItemPublisher
	Metrics   *metrics.Registry
}

// Component implements the form-api component.
type Component struct {
	name      string
	config    Config
	logger    *slog.Logger
	sessions  *session.Store
	validator *validation.Validator
	deriver   *geometry.Deriver
	publisher ItemPublisher
	metrics   *metrics.Registry

	// Lifecycle state machine
	// States: 0=stopped, 1=running
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
}

const (
	stateStopped = 0
	stateRunning = 1
)

// NewComponent constructs a form-api Component.
func NewComponent(config Config, deps Dependencies) (*Component, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Validator == nil {
		return nil, validation.ErrSchemaUnavailable
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewStore(0, 0)
	}
	deriver := deps.Deriver
	if deriver == nil {
		deriver = geometry.NewDeriver(nil, logger)
	}

	const name = "form-api"
	return &Component{
		name:      name,
		config:    config,
		logger:    logger.With("component", name),
		sessions:  sessions,
		validator: deps.Validator,
		deriver:   deriver,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
	}, nil
}

// Start marks the component as serving.
func (c *Component) Start(_ context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateRunning) {
		return fmt.Errorf("component already running")
	}

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	c.logger.Info("Component started", "name", c.name, "schema", c.validator.URL())
	return nil
}

// Stop marks the component as stopped.
func (c *Component) Stop() {
	if c.state.CompareAndSwap(stateRunning, stateStopped) {
		c.logger.Info("Component stopped", "name", c.name)
	}
}

// HealthStatus describes the component for the health endpoint.
type HealthStatus struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Status   string `json:"status"`
	Uptime   string `json:"uptime,omitempty"`
	Sessions int    `json:"sessions"`
	Schema   string `json:"schema"`
}

// Health returns the current health status.
func (c *Component) Health() HealthStatus {
	running := c.state.Load() == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	h := HealthStatus{
		Name:     c.name,
		Healthy:  running,
		Status:   "stopped",
		Sessions: c.sessions.Len(),
		Schema:   c.validator.URL(),
	}
	if running {
		h.Status = "running"
		h.Uptime = time.Since(startTime).Round(time.Second).String()
	}
	return h
}

func (c *Component) itemOptions() item.Options {
	return item.Options{
		SchemaURL:   c.validator.URL(),
		StacVersion: c.config.StacVersion,
		SelfHref:    c.config.SelfHref,
	}
}
