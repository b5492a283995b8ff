package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Endpoint names used for logging and metrics; URLs may carry API keys
const (
	EndpointPrimary   = "primary"
	EndpointSecondary = "secondary"
)

// ProviderHealth represents the health status of the RPC endpoints
type ProviderHealth struct {
	CurrentEndpoint  string        `json:"currentEndpoint"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	Failovers        int64         `json:"failovers"`
}

// RPCProvider tracks a primary and optional secondary JSON-RPC endpoint
// and which of them is currently in use
type RPCProvider struct {
	mu sync.RWMutex

	primaryURL   string
	secondaryURL string
	onSecondary  bool

	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	failovers        int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int
}

// NewRPCProvider creates a new RPC provider with primary and optional secondary URLs
func NewRPCProvider(primaryURL, secondaryURL string) (*RPCProvider, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}

	return &RPCProvider{
		primaryURL:   primaryURL,
		secondaryURL: secondaryURL,
	}, nil
}

// Current returns the name and URL of the active endpoint
func (p *RPCProvider) Current() (name, url string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.onSecondary {
		return EndpointSecondary, p.secondaryURL
	}
	return EndpointPrimary, p.primaryURL
}

// Failover switches to the other endpoint
func (p *RPCProvider) Failover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.secondaryURL == "" {
		return fmt.Errorf("no secondary provider configured")
	}
	p.onSecondary = !p.onSecondary
	p.failovers++
	p.consecutiveFails = 0
	return nil
}

// RecordSuccess records a successful request for health tracking
func (p *RPCProvider) RecordSuccess(duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.successfulReqs++
	p.totalLatency += duration
	p.lastSuccess = time.Now()
	p.consecutiveFails = 0
}

// RecordFailure records a failed request for health tracking
func (p *RPCProvider) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.failedReqs++
	p.lastFailure = time.Now()
	p.consecutiveFails++
}

// GetHealth returns the current health status of the provider
func (p *RPCProvider) GetHealth() *ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var successRate float64
	if p.totalRequests > 0 {
		successRate = float64(p.successfulReqs) / float64(p.totalRequests)
	}

	var avgLatency time.Duration
	if p.successfulReqs > 0 {
		avgLatency = p.totalLatency / time.Duration(p.successfulReqs)
	}

	current := EndpointPrimary
	if p.onSecondary {
		current = EndpointSecondary
	}

	return &ProviderHealth{
		CurrentEndpoint:  current,
		TotalRequests:    p.totalRequests,
		SuccessfulReqs:   p.successfulReqs,
		FailedReqs:       p.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      p.lastSuccess,
		LastFailure:      p.lastFailure,
		ConsecutiveFails: p.consecutiveFails,
		Failovers:        p.failovers,
	}
}

// Reset resets the provider to use the primary endpoint
func (p *RPCProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onSecondary = false
	p.consecutiveFails = 0
}

// shouldFailover reports whether err looks like an endpoint problem rather
// than a contract-level failure
func shouldFailover(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}
