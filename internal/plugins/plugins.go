// Package plugins implements the plugin manager (C10): dependency-ordered
// bring-up of plugin descriptors against a shared PluginAPI. Grounded on
// the teacher's internal/plugins.Registry (PluginAPI's register* surface,
// the PluginRecord/Logger shapes) generalized from the teacher's
// unordered load loop to SPEC_FULL.md §4.10's topologically-ordered
// initialization with named-cycle detection, which the teacher does not
// implement.
package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/tools"
)

// Logger is the minimal logging surface handed to plugins.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Plugin is one plugin descriptor: a unique Name, its Dependencies (other
// plugin names that must initialize first), and the three lifecycle
// callbacks. BeforeInitialize and AfterInitialize may be nil.
type Plugin struct {
	Name         string
	Version      string
	Dependencies []string

	BeforeInitialize func(ctx context.Context, api *API) error
	Initialize       func(ctx context.Context, api *API) error
	AfterInitialize  func(ctx context.Context, api *API) error
}

// API is the initialization context passed to each plugin's lifecycle
// callbacks, scoped to that plugin's registrations.
type API struct {
	pluginName string
	manager    *Manager

	// Config is the plugin-specific configuration slice, resolved by the
	// caller before Initialize runs.
	Config map[string]any
}

// RegisterTool registers a single tool on behalf of this plugin.
func (a *API) RegisterTool(t tools.Tool) error {
	return a.manager.registerTool(a.pluginName, t)
}

// RegisterTools registers multiple tools on behalf of this plugin.
func (a *API) RegisterTools(ts []tools.Tool) error {
	for _, t := range ts {
		if err := a.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}

// GetTool returns a previously registered tool by name, regardless of
// which plugin registered it.
func (a *API) GetTool(name string) (tools.Tool, bool) {
	return a.manager.tools.Get(name)
}

// GetTools returns every tool registered so far, across all plugins.
func (a *API) GetTools() []tools.Tool {
	return a.manager.tools.List()
}

// RegisterHook appends handler to hook point name. Per spec.md §4.10,
// hooks are append-only during the lifecycle callbacks; calling this
// after Bring-up has completed is a programmer error the caller must
// avoid (the running loop must not add hooks).
func (a *API) RegisterHook(name hooks.Name, handler hooks.Handler) error {
	return a.manager.Hooks.Register(name, handler)
}

// RegisterService stores a named value other plugins and the host can
// retrieve with GetService.
func (a *API) RegisterService(name string, value any) {
	a.manager.mu.Lock()
	defer a.manager.mu.Unlock()
	a.manager.services[name] = value
}

// GetService retrieves a value registered with RegisterService.
func (a *API) GetService(name string) (any, bool) {
	a.manager.mu.Lock()
	defer a.manager.mu.Unlock()
	v, ok := a.manager.services[name]
	return v, ok
}

// GetConfig returns this plugin's configuration value for key.
func (a *API) GetConfig(key string) (any, bool) {
	if a.Config == nil {
		return nil, false
	}
	v, ok := a.Config[key]
	return v, ok
}

// SetConfig sets this plugin's configuration value for key.
func (a *API) SetConfig(key string, value any) {
	if a.Config == nil {
		a.Config = map[string]any{}
	}
	a.Config[key] = value
}

// Publish sends an event to any subscribers registered via Subscribe.
func (a *API) Publish(topic string, payload any) {
	a.manager.publish(topic, payload)
}

// Subscribe registers fn to be called whenever Publish(topic, ...) fires.
func (a *API) Subscribe(topic string, fn func(payload any)) {
	a.manager.subscribe(topic, fn)
}

// Logger returns the manager's logger, which all plugins share.
func (a *API) Logger() Logger {
	return a.manager.Logger
}

// Manager owns plugin bring-up and the registrations plugins make during
// it. A zero Manager is not usable; construct with New.
type Manager struct {
	Hooks  *hooks.Registry
	Logger Logger

	mu        sync.Mutex
	tools     *tools.Registry
	services  map[string]any
	listeners map[string][]func(payload any)
}

// New constructs a Manager wired to toolRegistry and hookRegistry, which
// plugins populate during bring-up.
func New(toolRegistry *tools.Registry, hookRegistry *hooks.Registry, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		Hooks:     hookRegistry,
		Logger:    logger,
		tools:     toolRegistry,
		services:  make(map[string]any),
		listeners: make(map[string][]func(payload any)),
	}
}

func (m *Manager) registerTool(pluginName string, t tools.Tool) error {
	if err := m.tools.Register(t, false); err != nil {
		return fmt.Errorf("plugin %q: %w", pluginName, err)
	}
	return nil
}

func (m *Manager) publish(topic string, payload any) {
	m.mu.Lock()
	subs := append([]func(payload any){}, m.listeners[topic]...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(payload)
	}
}

func (m *Manager) subscribe(topic string, fn func(payload any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[topic] = append(m.listeners[topic], fn)
}

// MissingDependencyError names a plugin whose declared dependency was
// never provided to Bringup.
type MissingDependencyError struct {
	Plugin     string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugins: %q depends on unregistered plugin %q", e.Plugin, e.Dependency)
}

// CycleError names the plugin on the back edge of a dependency cycle.
type CycleError struct {
	Plugin string
	Cycle  []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("plugins: dependency cycle detected at %q (%v)", e.Plugin, e.Cycle)
}

// Bringup topologically sorts plugins by Dependencies and runs each one's
// BeforeInitialize -> Initialize -> AfterInitialize in that order, per
// spec.md §4.10. configs maps plugin name to its configuration slice. Any
// single plugin's failure stops the bring-up and returns its error. Tools
// and hooks registered before the failure, including the failing plugin's
// own, are not removed: they stay in the tool and hook registries the
// Manager was built with.
func (m *Manager) Bringup(ctx context.Context, ps []Plugin, configs map[string]map[string]any) error {
	order, err := topoSort(ps)
	if err != nil {
		return err
	}

	byName := make(map[string]Plugin, len(ps))
	for _, p := range ps {
		byName[p.Name] = p
	}

	for _, name := range order {
		p := byName[name]
		api := &API{pluginName: p.Name, manager: m, Config: configs[p.Name]}

		if p.BeforeInitialize != nil {
			if err := p.BeforeInitialize(ctx, api); err != nil {
				return fmt.Errorf("plugin %q beforeInitialize: %w", p.Name, err)
			}
		}
		if p.Initialize != nil {
			if err := p.Initialize(ctx, api); err != nil {
				return fmt.Errorf("plugin %q initialize: %w", p.Name, err)
			}
		}
		if p.AfterInitialize != nil {
			if err := p.AfterInitialize(ctx, api); err != nil {
				return fmt.Errorf("plugin %q afterInitialize: %w", p.Name, err)
			}
		}
		m.Logger.Info("plugin initialized", "name", p.Name, "version", p.Version)
	}
	return nil
}

// topoSort orders ps so every plugin appears after all of its
// Dependencies, failing on a missing dependency or a cycle.
func topoSort(ps []Plugin) ([]string, error) {
	byName := make(map[string]Plugin, len(ps))
	for _, p := range ps {
		byName[p.Name] = p
	}
	for _, p := range ps {
		for _, dep := range p.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, &MissingDependencyError{Plugin: p.Name, Dependency: dep}
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(ps))
	var order []string
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			cycle := append(append([]string{}, stack...), name)
			return &CycleError{Plugin: name, Cycle: cycle}
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range byName[name].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = visited
		order = append(order, name)
		return nil
	}

	for _, p := range ps {
		if err := visit(p.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
