package models

import (
	"net/http"
	"time"
)

// EndpointClass groups requests that share one per-actor budget.
type EndpointClass string

const (
	// ClassRead covers case reads and projections.
	ClassRead EndpointClass = "read"
	// ClassWrite covers filing, evidence uploads, analysis and triage.
	ClassWrite EndpointClass = "write"
)

// ClassOf maps an HTTP method to its class.
func ClassOf(method string) EndpointClass {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	default:
		return ClassWrite
	}
}

// Limit allows Requests per Window. A non-positive Requests disables it.
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// RateLimitExceededResponse is the body written with a 429.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}
