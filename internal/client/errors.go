package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// ErrorKind classifies a failed API call
type ErrorKind int

const (
	// KindRetryable covers 429, 502-504, timeouts and "rate limit" or
	// "temporarily unavailable" messages
	KindRetryable ErrorKind = iota
	// KindClientInput covers malformed URLs and missing fields
	KindClientInput
	// KindCapabilityMissing is a 404 on an optional endpoint
	KindCapabilityMissing
	// KindTerminal covers 403/404 on the primary resource and everything else
	KindTerminal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindClientInput:
		return "client-input"
	case KindCapabilityMissing:
		return "capability-missing"
	default:
		return "terminal"
	}
}

// Default suggestions shown next to a failure
const (
	SuggestionRetryLater   = "The service is busy. Wait a moment and try again, or try a lower quality."
	SuggestionCheckURL     = "Check that the URL is complete and points to a single video."
	SuggestionNotFound     = "The video could not be found. Check that it is public and still available."
	SuggestionRestricted   = "This video is restricted. Try another video or use Extract Links to download it manually."
	SuggestionLowerQuality = "Try a lower quality or use Extract Links."
)

// APIError is a failed call to the download API
type APIError struct {
	Op              string
	StatusCode      int
	Kind            ErrorKind
	Message         string
	Suggestion      string
	SuggestedAction string
	RequiresManual  bool
	Instructions    []string
	Err             error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// Manual reports whether the server asked for manual download instructions
func (e *APIError) Manual() bool {
	return e.RequiresManual || e.SuggestedAction == models.SuggestedActionManual
}

// newStatusError classifies an HTTP failure. optional marks endpoints whose
// absence is a handled condition rather than a failure.
func newStatusError(op string, status int, body *models.ErrorResponse, optional bool) *APIError {
	e := &APIError{Op: op, StatusCode: status}
	if body != nil {
		e.Message = body.Error
		e.Suggestion = body.Suggestion
		e.SuggestedAction = body.SuggestedAction
		e.RequiresManual = body.RequiresManual
		e.Instructions = body.Instructions
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	e.Kind = classifyStatus(status, e.Message, optional)
	if e.Manual() {
		e.Kind = KindTerminal
	}
	if e.Suggestion == "" {
		e.Suggestion = defaultSuggestion(e.Kind, status)
	}
	return e
}

func classifyStatus(status int, message string, optional bool) ErrorKind {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return KindRetryable
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindClientInput
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		if optional {
			return KindCapabilityMissing
		}
		if status != http.StatusNotFound {
			return KindTerminal
		}
	}
	if retryableMessage(message) {
		return KindRetryable
	}
	return KindTerminal
}

func retryableMessage(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "rate limit") || strings.Contains(m, "temporarily unavailable") || strings.Contains(m, "too many requests")
}

func defaultSuggestion(kind ErrorKind, status int) string {
	switch {
	case kind == KindRetryable:
		return SuggestionRetryLater
	case kind == KindClientInput:
		return SuggestionCheckURL
	case status == http.StatusNotFound:
		return SuggestionNotFound
	case status == http.StatusForbidden:
		return SuggestionRestricted
	default:
		return SuggestionLowerQuality
	}
}

// newTransportError wraps a failure that never produced an HTTP response
func newTransportError(op string, err error) *APIError {
	kind := KindTerminal
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		kind = KindRetryable
	}
	if errors.Is(err, context.Canceled) {
		kind = KindTerminal
	}
	return &APIError{
		Op:         op,
		Kind:       kind,
		Message:    "request failed",
		Suggestion: SuggestionRetryLater,
		Err:        err,
	}
}

// AsAPIError extracts an APIError from err
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsRetryable reports whether err is worth retrying
func IsRetryable(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindRetryable
}

// IsCapabilityMissing reports whether err means the endpoint does not exist
func IsCapabilityMissing(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindCapabilityMissing
}

// IsManual reports whether err asks for manual download
func IsManual(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Manual()
}
