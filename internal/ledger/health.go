package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	stateHealthy     = "healthy"
	stateDegraded    = "degraded"
	stateUnavailable = "unavailable"

	healthKeyPrefix = "settlements:ledger_health:"
	healthCacheTTL  = 15 * time.Second
)

type endpointHealth struct {
	name                string
	url                 string
	lastHealthyTime     time.Time
	consecutiveFailures int
	state               string
}

// healthResponse is the ledger node's self-reported health payload.
type healthResponse struct {
	Failing bool `json:"failing"`
}

// HealthMonitor probes the primary and fallback ledger endpoints in the
// background and caches their status in redis so the client (and other
// replicas of the control surface) can pick an endpoint without probing
// inline.
type HealthMonitor struct {
	redisClient *redis.Client
	httpClient  *http.Client
	interval    time.Duration
	endpoints   map[string]*endpointHealth
	mu          sync.RWMutex
}

func NewHealthMonitor(redisClient *redis.Client, primaryURL, fallbackURL string, interval time.Duration) *HealthMonitor {
	now := time.Now()
	return &HealthMonitor{
		redisClient: redisClient,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		interval:    interval,
		endpoints: map[string]*endpointHealth{
			EndpointPrimary:  {name: EndpointPrimary, url: primaryURL, lastHealthyTime: now, state: stateHealthy},
			EndpointFallback: {name: EndpointFallback, url: fallbackURL, lastHealthyTime: now, state: stateHealthy},
		},
	}
}

// Start launches one probe loop per endpoint. Loops exit when ctx is
// cancelled.
func (m *HealthMonitor) Start(ctx context.Context) {
	for name := range m.endpoints {
		go m.probeLoop(ctx, name)
	}
}

func (m *HealthMonitor) probeLoop(ctx context.Context, name string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx, name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, name)
		}
	}
}

func (m *HealthMonitor) probe(ctx context.Context, name string) {
	m.mu.RLock()
	url := m.endpoints[name].url
	m.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url+"/health", nil)
	if err != nil {
		m.recordFailure(ctx, name, fmt.Sprintf("building request: %v", err))
		return
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.recordFailure(ctx, name, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.recordFailure(ctx, name, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		m.recordFailure(ctx, name, fmt.Sprintf("decoding response: %v", err))
		return
	}
	if health.Failing {
		m.recordFailure(ctx, name, "node reports failing")
		return
	}

	m.recordSuccess(ctx, name)
}

func (m *HealthMonitor) recordSuccess(ctx context.Context, name string) {
	m.mu.Lock()
	ep := m.endpoints[name]
	oldState := ep.state
	ep.lastHealthyTime = time.Now()
	ep.consecutiveFailures = 0
	ep.state = stateHealthy
	m.mu.Unlock()

	if err := m.redisClient.Set(ctx, healthKeyPrefix+name, stateHealthy, healthCacheTTL).Err(); err != nil {
		logrus.WithError(err).WithField("endpoint", name).Warn("failed to cache endpoint health")
	}
	if oldState != stateHealthy {
		logrus.WithFields(logrus.Fields{"endpoint": name, "from": oldState}).Info("ledger endpoint recovered")
	}
}

func (m *HealthMonitor) recordFailure(ctx context.Context, name, reason string) {
	m.mu.Lock()
	ep := m.endpoints[name]
	ep.consecutiveFailures++
	oldState := ep.state
	switch {
	case ep.consecutiveFailures >= 3:
		ep.state = stateUnavailable
	case time.Since(ep.lastHealthyTime) > 30*time.Second:
		ep.state = stateDegraded
	}
	newState := ep.state
	m.mu.Unlock()

	if newState == stateUnavailable {
		if err := m.redisClient.Del(ctx, healthKeyPrefix+name).Err(); err != nil {
			logrus.WithError(err).WithField("endpoint", name).Warn("failed to drop endpoint health key")
		}
	} else if newState == stateDegraded {
		if err := m.redisClient.Set(ctx, healthKeyPrefix+name, stateDegraded, healthCacheTTL).Err(); err != nil {
			logrus.WithError(err).WithField("endpoint", name).Warn("failed to cache endpoint health")
		}
	}

	if oldState != newState {
		logrus.WithFields(logrus.Fields{
			"endpoint": name,
			"from":     oldState,
			"to":       newState,
			"reason":   reason,
		}).Warn("ledger endpoint state change")
	}
}

// Usable reports whether an endpoint should receive settlement submissions.
// The redis cache is consulted first; on a miss the local view decides.
func (m *HealthMonitor) Usable(ctx context.Context, name string) bool {
	status, err := m.redisClient.Get(ctx, healthKeyPrefix+name).Result()
	if err == nil {
		return status == stateHealthy || status == stateDegraded
	}
	if err != redis.Nil {
		logrus.WithError(err).WithField("endpoint", name).Warn("health cache lookup failed")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ep := m.endpoints[name]
	return ep.state != stateUnavailable
}

// Status returns the locally observed state of every endpoint.
func (m *HealthMonitor) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.endpoints))
	for name, ep := range m.endpoints {
		out[name] = ep.state
	}
	return out
}
