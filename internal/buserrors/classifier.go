package buserrors

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Well-known sentinel cause errors the classifier recognizes by
// errors.Is rather than by matching a message string.
var (
	ErrOutOfMemory    = errors.New("conduit: out of memory")
	ErrStackOverflow  = errors.New("conduit: stack overflow")
	ErrAccessViolation = errors.New("conduit: access violation")
)

// Classify inspects cause and returns a BusError carrying the §7
// taxonomy: category, severity, transience and criticality.
// component/operation are attached for the aggregator's grouping.
func Classify(cause error, component, operation string) *BusError {
	be := &BusError{
		Component: component,
		Operation: operation,
		Tags:      make(map[string]string),
		Cause:     cause,
	}

	switch {
	case cause == nil:
		be.Category = CategoryUnknown
		be.Severity = SeverityLow
		return be

	case errors.Is(cause, ErrOutOfMemory), errors.Is(cause, ErrStackOverflow), errors.Is(cause, ErrAccessViolation):
		be.Category = CategorySystem
		be.Severity = SeverityCritical
		be.IsCritical = true
		be.IsTransient = false

	case errors.Is(cause, context.Canceled):
		// Cancellation passes through: not retried, not marked critical.
		be.Category = CategorySecurity
		be.Severity = SeverityLow
		be.IsTransient = false

	case errors.Is(cause, context.DeadlineExceeded):
		be.Category = CategoryTimeout
		be.Severity = SeverityMedium
		be.IsTransient = true

	case isValidationLike(cause):
		be.Category = CategoryValidation
		be.Severity = SeverityMedium
		be.IsTransient = false

	case isConfigurationLike(cause):
		be.Category = CategoryConfiguration
		be.Severity = SeverityMedium
		be.IsTransient = false

	case isNetworkLike(cause):
		be.Category = CategoryNetwork
		be.Severity = SeverityMedium
		be.IsTransient = true

	case isTimeoutLike(cause):
		be.Category = CategoryTimeout
		be.Severity = SeverityMedium
		be.IsTransient = true

	case isIOLike(cause):
		be.Category = CategoryIO
		be.Severity = SeverityMedium
		be.IsTransient = true

	default:
		be.Category = CategoryUnknown
		be.Severity = SeverityLow
		be.IsTransient = false
	}

	return be
}

func isValidationLike(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "invalid state")
}

func isConfigurationLike(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "configuration") || strings.Contains(msg, "config:")
}

func isNetworkLike(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") || strings.Contains(msg, "network")
}

func isTimeoutLike(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "i/o timeout")
}

func isIOLike(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "i/o") || strings.Contains(msg, "read:") || strings.Contains(msg, "write:")
}

// ValidationError marks a cause as a validation failure independent of
// its message text, so callers can construct one directly.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "validation: " + e.Field + ": " + e.Message
	}
	return "validation: " + e.Message
}
