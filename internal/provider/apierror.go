package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
)

// ErrorKind classifies an adapter failure for circuit and failover decisions.
type ErrorKind string

const (
	KindTransient     ErrorKind = "TRANSIENT"      // network, timeout, 5xx
	KindRateLimited   ErrorKind = "RATE_LIMITED"   // provider 429
	KindClientInvalid ErrorKind = "CLIENT_INVALID" // 4xx other than 401/403/429
	KindAuth          ErrorKind = "AUTH"           // 401/403
	KindFatal         ErrorKind = "FATAL"          // unrecoverable adapter bug
)

// CountsForCircuit reports whether failures of this kind drive the circuit
// breaker. Client errors are a caller bug, not a provider outage.
func (k ErrorKind) CountsForCircuit() bool {
	switch k {
	case KindTransient, KindRateLimited, KindAuth:
		return true
	default:
		return false
	}
}

// APIError represents an error response from an upstream LLM provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Kind classifies the status code into an ErrorKind.
func (e *APIError) Kind() ErrorKind {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return KindAuth
	case e.StatusCode >= 500:
		return KindTransient
	case e.StatusCode >= 400:
		return KindClientInvalid
	default:
		return KindTransient
	}
}

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// Classify maps any adapter error to an ErrorKind. Timeouts and network
// errors are transient; API errors carry their own classification.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTransient
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}
	// Generic transport failures (connection refused, EOF) count as transient.
	return KindTransient
}
