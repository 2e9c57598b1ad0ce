// Package resilience provides error classification, retry with exponential
// backoff, and per-provider rate limiting for the crawl engine.
package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Class buckets an error into the crawl engine's failure taxonomy.
type Class string

const (
	ClassRateLimit Class = "rate_limit"
	ClassNetwork   Class = "network"
	ClassServer    Class = "server"
	ClassAuth      Class = "auth"
	ClassClient    Class = "client"
	ClassTimeout   Class = "timeout"
	ClassParse     Class = "parse"
	ClassUnknown   Class = "unknown"
)

// StatusCoder is implemented by errors that carry an HTTP status code from a
// provider API. Both pkg/chatapi and pkg/anthropic errors satisfy it.
type StatusCoder interface {
	HTTPStatus() int
}

// Classify maps an error to its failure class. Explicit status codes win over
// message heuristics; anything unmatched is ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.HTTPStatus())
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ClassParse
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ClassRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "invalid x-api-key"):
		return ClassAuth
	case strings.Contains(msg, "no key available"):
		// Credential pool exhausted by quarantine. Retrying cannot help
		// until keys are reset.
		return ClassAuth
	}
	networkPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return ClassNetwork
		}
	}

	return ClassUnknown
}

func classifyStatus(status int) Class {
	switch {
	case status == 429:
		return ClassRateLimit
	case status == 401 || status == 403:
		return ClassAuth
	case status == 400 || status == 404:
		return ClassClient
	case status == 408:
		return ClassTimeout
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassClient
	default:
		return ClassUnknown
	}
}

// Retryable reports whether a failure class is worth retrying. Auth and
// client errors never succeed on retry and must surface immediately.
// Unclassified errors retry: providers with unmapped error strings are more
// often transient than misconfigured.
func Retryable(class Class) bool {
	switch class {
	case ClassAuth, ClassClient, ClassParse:
		return false
	default:
		return true
	}
}
