package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the application's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	HTTP Handler / Job firing (2m)
//	  ↓
//	Service Layer (90s)
//	  ↓
//	External API (60s total VPN budget incl. retries, 5s chat send)
//	  ↓
//	Database Query (10s)
//
// Each layer completes before its parent times out, preventing cascading
// timeout failures.
type TimeoutConfig struct {
	// Handler layer timeouts
	HTTPHandler time.Duration // Overall request timeout (default: 2m)
	Job         time.Duration // Scheduled job execution timeout (default: 2m)

	// Service layer timeouts
	Service time.Duration // Service operation timeout (default: 90s)

	// External API timeouts (adapters)
	VPNTotal   time.Duration // Outline API total budget including retries (default: 60s)
	VPNAttempt time.Duration // Single Outline API attempt (default: 10s)
	ChatSend   time.Duration // Chat-platform send (default: 5s)

	// Database timeouts
	Store time.Duration // Store I/O (default: 10s)
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 2 * time.Minute,
		Job:         2 * time.Minute,
		Service:     90 * time.Second,
		VPNTotal:    60 * time.Second,
		VPNAttempt:  10 * time.Second,
		ChatSend:    5 * time.Second,
		Store:       10 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 5 * time.Second,
		Job:         5 * time.Second,
		Service:     4 * time.Second,
		VPNTotal:    2 * time.Second,
		VPNAttempt:  1 * time.Second,
		ChatSend:    1 * time.Second,
		Store:       1 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// JobContext creates a context with timeout for scheduled job firings
func (tc *TimeoutConfig) JobContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Job)
}

// ServiceContext creates a context with timeout for service layer operations
func (tc *TimeoutConfig) ServiceContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Service)
}

// VPNContext creates a context covering the full Outline retry budget
func (tc *TimeoutConfig) VPNContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.VPNTotal)
}

// ChatSendContext creates a context for a chat-platform send
func (tc *TimeoutConfig) ChatSendContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.ChatSend)
}

// StoreContext creates a context for Store I/O
func (tc *TimeoutConfig) StoreContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Store)
}
