package main

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/retry"
)

// connectionManager owns the daemon's hub connection: the initial connect
// loop and replacing the settings after a successful validation.
type connectionManager struct {
	ctx      context.Context
	client   *hublink.Client
	settings *hublink.SettingsConfigProvider
	logger   hublink.Logger
	strategy retry.Strategy

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func newConnectionManager(ctx context.Context, client *hublink.Client, settings *hublink.SettingsConfigProvider, logger hublink.Logger) *connectionManager {
	return &connectionManager{
		ctx:      ctx,
		client:   client,
		settings: settings,
		logger:   logger,
		strategy: retry.ReconnectStrategy(),
	}
}

// State implements api.Connection.
func (m *connectionManager) State() hublink.ConnectionState {
	return m.client.State()
}

// Start connects in the background with the stored settings, retrying
// until the hub accepts them. Once connected the transport takes over
// reconnecting. A previous loop is stopped first.
func (m *connectionManager) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.running.Add(1)
	go func() {
		defer m.running.Done()
		m.connectLoop(ctx)
	}()
}

// Stop ends the connect loop and waits for it.
func (m *connectionManager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.running.Wait()
}

func (m *connectionManager) connectLoop(ctx context.Context) {
	cfg, err := m.settings.ConnectionConfig(ctx)
	if err != nil {
		m.logger.Errorf("Failed to read hub settings: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		m.logger.Warnf("Hub not configured (%v); POST /api/v1/connection/validate to set it", err)
		return
	}

	for attempt := 0; ; attempt++ {
		err := m.client.Connect(ctx)
		if err == nil {
			m.logger.Infof("Connected to hub %s", cfg.EndpointURL)
			return
		}
		if hublink.IsAuthentication(err) {
			m.logger.Errorf("Hub rejected the stored token: %v", err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		delay := m.strategy.CalculateRetryDelay(attempt)
		m.logger.Warnf("Connect failed: %v (retrying in %v)", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// ValidateAndSave implements api.Connection. It connects a scratch client
// with cfg, and only if the hub accepts it stores cfg and reconnects the
// daemon's client with it.
func (m *connectionManager) ValidateAndSave(ctx context.Context, cfg hublink.ConnectionConfig) error {
	transport, err := hublink.NewTransport(hublink.WithTransportLogger(m.logger))
	if err != nil {
		return err
	}
	scratch, err := hublink.NewClient(hublink.WithConn(transport), hublink.WithClientLogger(m.logger))
	if err != nil {
		return err
	}

	err = scratch.ConnectWithTransientConfig(ctx, cfg)
	scratch.Close()
	if err != nil {
		return err
	}

	if err := m.settings.Save(ctx, cfg); err != nil {
		return err
	}
	m.logger.Infof("Hub settings updated: %s", cfg.EndpointURL)

	m.client.Disconnect()
	m.Start()
	return nil
}
