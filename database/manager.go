package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Manager resolves named connections lazily and shares one events registry between them.
type Manager struct {
	mu          sync.Mutex
	configs     map[string]Config
	defaultName string
	connections map[string]*Connection
	events      *Events
	opts        []Option
}

// NewManager creates a manager over configs. defaultName names the connection returned by
// Default; opts are applied to every connection it creates.
func NewManager(configs map[string]Config, defaultName string, opts ...Option) *Manager {
	copied := make(map[string]Config, len(configs))
	for k, v := range configs {
		copied[k] = v
	}
	return &Manager{
		configs:     copied,
		defaultName: defaultName,
		connections: map[string]*Connection{},
		events:      NewEvents(),
		opts:        opts,
	}
}

// Events returns the registry shared by the managed connections.
func (m *Manager) Events() *Events { return m.events }

// DefaultName returns the default connection name.
func (m *Manager) DefaultName() string { return m.defaultName }

// Names lists the configured connection names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.configs))
	for n := range m.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Connection returns the named connection, creating it on first use. An empty name selects
// the default connection. The physical handle is opened on the first statement.
func (m *Manager) Connection(name string) (*Connection, error) {
	if name == "" {
		name = m.defaultName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[name]; ok {
		return c, nil
	}
	cfg, ok := m.configs[name]
	if !ok {
		return nil, &ConnectionError{Name: name, Err: fmt.Errorf("%w: %q is not configured", ErrUnknownConnection, name)}
	}
	opts := append([]Option{WithEvents(m.events)}, m.opts...)
	c, err := NewConnection(name, cfg, opts...)
	if err != nil {
		return nil, err
	}
	m.connections[name] = c
	return c, nil
}

// Default returns the default connection.
func (m *Manager) Default() (*Connection, error) {
	return m.Connection("")
}

// Disconnect closes the named connection's handle but keeps the connection for reuse.
func (m *Manager) Disconnect(name string) error {
	if name == "" {
		name = m.defaultName
	}
	m.mu.Lock()
	c, ok := m.connections[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Disconnect()
}

// Purge disconnects the named connection and forgets it.
func (m *Manager) Purge(name string) error {
	if name == "" {
		name = m.defaultName
	}
	err := m.Disconnect(name)
	m.mu.Lock()
	delete(m.connections, name)
	m.mu.Unlock()
	return err
}

// Close disconnects every resolved connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	var errs []error
	for _, c := range conns {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping connects the named connection eagerly.
func (m *Manager) Ping(ctx context.Context, name string) error {
	c, err := m.Connection(name)
	if err != nil {
		return err
	}
	return c.Connect(ctx)
}
