// Package gateway pools broker account gateways and tracks which account is
// active for the execution layer.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"execution-core/pkg/exchanges/common"
)

// CachedGateway holds a Gateway with metadata for lifecycle management.
type CachedGateway struct {
	Gateway   common.Gateway
	AccountID string
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	Failures  int
}

// Config holds configuration for the Manager.
type Config struct {
	MaxSize          int           // Maximum number of cached gateways (LRU eviction)
	IdleTimeout      time.Duration // Time before an idle, inactive gateway is removed
	HealthInterval   time.Duration // Interval between health checks
	FailureThreshold int           // Number of failures before marking unhealthy
	CircuitTimeout   time.Duration // Time to wait before retrying unhealthy gateway
	ConnectTimeout   time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          16,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   time.Minute,
		ConnectTimeout:   15 * time.Second,
	}
}

// SwitchHook runs after the active account changes.
type SwitchHook func(from, to string)

// Manager manages a pool of gateways with LRU eviction and health checks.
// Exactly one pooled account is active at a time.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]*CachedGateway
	lruOrder []string // oldest first
	active   string
	hooks    []SwitchHook

	config  Config
	factory Factory
	log     zerolog.Logger
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(factory Factory, cfg Config, log zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = def.CircuitTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	return &Manager{
		gateways: make(map[string]*CachedGateway),
		config:   cfg,
		factory:  factory,
		log:      log.With().Str("component", "gateway_manager").Logger(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// OnSwitch registers a hook invoked synchronously after every account change.
func (m *Manager) OnSwitch(h SwitchHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, h)
	m.mu.Unlock()
}

// Start begins background cleanup and health check goroutines.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.cleanupIdle(ctx)
			}
		}
	}()

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.healthCheckAll(ctx)
			}
		}
	}()
}

// Stop halts background work and disconnects every pooled gateway.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	gws := make([]common.Gateway, 0, len(m.gateways))
	for id, cached := range m.gateways {
		gws = append(gws, cached.Gateway)
		delete(m.gateways, id)
	}
	m.lruOrder = nil
	m.active = ""
	m.mu.Unlock()

	for _, gw := range gws {
		if err := gw.Disconnect(ctx); err != nil {
			m.log.Warn().Err(err).Str("account", gw.AccountID()).Msg("disconnect failed")
		}
	}
}

// Use connects accountID if needed and makes it the active account.
func (m *Manager) Use(ctx context.Context, accountID string) (Session, error) {
	if accountID == "" {
		return Session{}, &GatewayUnavailableError{Reason: "empty account id"}
	}
	gw, err := m.getOrCreate(accountID)
	if err != nil {
		return Session{}, &GatewayUnavailableError{AccountID: accountID, Err: err}
	}
	if !gw.IsActive() {
		cctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
		err := gw.Connect(cctx)
		cancel()
		if err != nil {
			m.RecordFailure(accountID)
			return Session{}, &GatewayUnavailableError{AccountID: accountID, Reason: "connect failed", Err: err}
		}
		m.RecordSuccess(accountID)
	}

	m.mu.Lock()
	from := m.active
	m.active = accountID
	hooks := append([]SwitchHook(nil), m.hooks...)
	m.mu.Unlock()

	if from != accountID {
		m.log.Info().Str("from", from).Str("to", accountID).Msg("active account switched")
		for _, h := range hooks {
			h(from, accountID)
		}
	}
	return m.Active()
}

// ActiveAccount returns the active account id, or "".
func (m *Manager) ActiveAccount() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Active returns the session of the active account.
func (m *Manager) Active() (Session, error) {
	m.mu.RLock()
	accountID := m.active
	cached, ok := m.gateways[accountID]
	var unhealthy bool
	if ok {
		unhealthy = cached.Failures >= m.config.FailureThreshold && m.now().Sub(cached.HealthyAt) < m.config.CircuitTimeout
	}
	m.mu.RUnlock()

	if accountID == "" || !ok {
		return Session{}, &GatewayUnavailableError{Reason: "no active account"}
	}
	if unhealthy {
		return Session{}, &GatewayUnavailableError{AccountID: accountID, Reason: "circuit open after repeated failures"}
	}
	gw := cached.Gateway
	if !gw.IsActive() {
		return Session{}, &GatewayUnavailableError{AccountID: accountID, Reason: "not connected"}
	}
	conn, err := gw.Connection()
	if err != nil {
		return Session{}, &GatewayUnavailableError{AccountID: accountID, Err: err}
	}
	m.touchLRU(accountID)
	return Session{AccountID: accountID, Conn: conn}, nil
}

// Gateway returns the pooled gateway for accountID, if any.
func (m *Manager) Gateway(accountID string) (common.Gateway, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cached, ok := m.gateways[accountID]
	if !ok {
		return nil, false
	}
	return cached.Gateway, true
}

func (m *Manager) getOrCreate(accountID string) (common.Gateway, error) {
	m.mu.RLock()
	if cached, ok := m.gateways[accountID]; ok {
		m.mu.RUnlock()
		m.touchLRU(accountID)
		return cached.Gateway, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[accountID]; ok {
		m.touchLRULocked(accountID)
		return cached.Gateway, nil
	}
	if len(m.gateways) >= m.config.MaxSize && !m.evictOldestLocked() {
		return nil, ErrPoolFull
	}
	gw, err := m.factory(accountID)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	now := m.now()
	m.gateways[accountID] = &CachedGateway{
		Gateway:   gw,
		AccountID: accountID,
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
	}
	m.lruOrder = append(m.lruOrder, accountID)
	return gw, nil
}

// Remove disconnects and drops a pooled gateway. The active account cannot
// be removed.
func (m *Manager) Remove(ctx context.Context, accountID string) bool {
	m.mu.Lock()
	cached, ok := m.gateways[accountID]
	if !ok || accountID == m.active {
		m.mu.Unlock()
		return false
	}
	delete(m.gateways, accountID)
	m.removeLRULocked(accountID)
	m.mu.Unlock()
	_ = cached.Gateway.Disconnect(ctx)
	return true
}

// RecordFailure records a failure for a gateway.
func (m *Manager) RecordFailure(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[accountID]; ok {
		cached.Failures++
	}
}

// RecordSuccess resets the failure counter.
func (m *Manager) RecordSuccess(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[accountID]; ok {
		cached.Failures = 0
		cached.HealthyAt = m.now()
	}
}

// PoolStats contains gateway pool statistics.
type PoolStats struct {
	TotalGateways  int    `json:"totalGateways"`
	MaxSize        int    `json:"maxSize"`
	ActiveAccount  string `json:"activeAccount"`
	UnhealthyCount int    `json:"unhealthyCount"`
}

func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := PoolStats{TotalGateways: len(m.gateways), MaxSize: m.config.MaxSize, ActiveAccount: m.active}
	for _, cached := range m.gateways {
		if cached.Failures >= m.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

func (m *Manager) touchLRU(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLRULocked(accountID)
}

func (m *Manager) touchLRULocked(accountID string) {
	if cached, ok := m.gateways[accountID]; ok {
		cached.LastUsed = m.now()
	}
	for i, id := range m.lruOrder {
		if id == accountID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			m.lruOrder = append(m.lruOrder, accountID)
			break
		}
	}
}

func (m *Manager) removeLRULocked(accountID string) {
	for i, id := range m.lruOrder {
		if id == accountID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			break
		}
	}
}

// evictOldestLocked drops the least recently used inactive gateway.
func (m *Manager) evictOldestLocked() bool {
	for i, id := range m.lruOrder {
		if id == m.active {
			continue
		}
		if cached, ok := m.gateways[id]; ok {
			go func(gw common.Gateway) { _ = gw.Disconnect(context.Background()) }(cached.Gateway)
			delete(m.gateways, id)
		}
		m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
		return true
	}
	return false
}

func (m *Manager) cleanupIdle(ctx context.Context) {
	m.mu.Lock()
	now := m.now()
	var idle []common.Gateway
	for id, cached := range m.gateways {
		if id != m.active && now.Sub(cached.LastUsed) > m.config.IdleTimeout {
			idle = append(idle, cached.Gateway)
			delete(m.gateways, id)
			m.removeLRULocked(id)
		}
	}
	m.mu.Unlock()

	for _, gw := range idle {
		m.log.Info().Str("account", gw.AccountID()).Msg("removing idle gateway")
		_ = gw.Disconnect(ctx)
	}
}

func (m *Manager) healthCheckAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.gateways))
	for id := range m.gateways {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.healthCheck(ctx, id)
	}
}

// healthCheck reconnects gateways that report inactive.
func (m *Manager) healthCheck(ctx context.Context, accountID string) {
	gw, ok := m.Gateway(accountID)
	if !ok {
		return
	}
	if gw.IsActive() {
		m.RecordSuccess(accountID)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	err := gw.Connect(cctx)
	cancel()
	if err != nil {
		m.RecordFailure(accountID)
		m.log.Warn().Err(err).Str("account", accountID).Msg("gateway reconnect failed")
		return
	}
	m.RecordSuccess(accountID)
	m.log.Info().Str("account", accountID).Msg("gateway reconnected")
}
