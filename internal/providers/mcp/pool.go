package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
)

// ManagedClient is a pooled connection that can be closed once.
type ManagedClient struct {
	*client.Client
	name string

	mu     sync.Mutex
	closed bool
}

func (mc *ManagedClient) Name() string { return mc.name }

func (mc *ManagedClient) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.closed || mc.Client == nil {
		mc.closed = true
		return nil
	}
	mc.closed = true
	return mc.Client.Close()
}

// Pool holds one client per configured server.
type Pool struct {
	dial Dialer

	mu      sync.RWMutex
	clients map[string]*ManagedClient
}

func NewPool(dial Dialer) *Pool {
	if dial == nil {
		dial = Dial
	}
	return &Pool{dial: dial, clients: make(map[string]*ManagedClient)}
}

// Add connects name, replacing and closing any previous client.
func (p *Pool) Add(ctx context.Context, name string, cfg ServerConfig) (*ManagedClient, error) {
	cli, err := p.dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	managed := &ManagedClient{Client: cli, name: name}

	p.mu.Lock()
	old := p.clients[name]
	p.clients[name] = managed
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return managed, nil
}

func (p *Pool) Get(name string) (*ManagedClient, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cli, ok := p.clients[name]
	return cli, ok
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*ManagedClient)
	p.mu.Unlock()

	var errs []error
	for _, cli := range clients {
		if err := cli.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
