// Package apierror centralizes the OpenAI-shaped error taxonomy (spec.md
// §7) that every HTTP-facing component maps its failures onto. The teacher
// spreads this mapping across five per-provider files
// (internal/providers/*.go); this gateway has exactly one upstream dialect,
// so the mapping lives in one place instead.
package apierror

import (
	"strings"

	"github.com/poe2oai/gateway/internal/poetypes"
)

// Error is an HTTP-status-carrying OpenAI-shaped API error.
type Error struct {
	Status  int
	Type    string
	Code    string
	Message string
	Param   *string
}

func (e *Error) Error() string {
	return e.Message
}

// Response renders the OpenAI error envelope.
func (e *Error) Response() poetypes.ErrorResponse {
	return poetypes.ErrorResponse{
		Error: poetypes.ErrorBody{
			Message: e.Message,
			Type:    e.Type,
			Code:    e.Code,
			Param:   e.Param,
		},
	}
}

func ParseError(message string) *Error {
	return &Error{Status: 400, Type: "invalid_request_error", Code: "parse_error", Message: message}
}

func BadRequest(message string) *Error {
	return &Error{Status: 400, Type: "invalid_request_error", Code: "bad_request", Message: message}
}

func PayloadTooLarge() *Error {
	return &Error{Status: 413, Type: "invalid_request_error", Code: "payload_too_large", Message: "request payload exceeds the configured size limit"}
}

func InvalidAuth() *Error {
	return &Error{Status: 401, Type: "invalid_auth", Code: "invalid_api_key", Message: "missing or malformed Authorization header"}
}

func ModelNotFound(model string) *Error {
	return &Error{Status: 404, Type: "model_not_found", Code: "model_not_found", Message: "model `" + model + "` not found"}
}

func RateLimitExceeded(message string) *Error {
	return &Error{Status: 429, Type: "rate_limit_exceeded", Code: "rate_limit_exceeded", Message: message}
}

func InsufficientQuota() *Error {
	return &Error{
		Status:  429,
		Type:    "insufficient_quota",
		Code:    "insufficient_quota",
		Message: "You have exceeded your message quota for this model. Please try again later.",
	}
}

func InternalError(message string) *Error {
	return &Error{Status: 500, Type: "internal_error", Code: "internal_error", Message: message}
}

func GenericUpstreamFailure(message string) *Error {
	return &Error{Status: 400, Type: "invalid_request", Code: "bad_request", Message: message}
}

func AttachmentUploadFailed(message string) *Error {
	return &Error{Status: 500, Type: "processing_error", Code: "file_processing_failed", Message: message}
}

// quotaPhrases are upstream error substrings that indicate exhausted
// per-bot message quota (spec.md §8 scenario S6).
var quotaPhrases = []string{
	"more points",
	"insufficient points",
	"message quota",
}

var rateLimitPhrases = []string{
	"rate limit",
	"too many requests",
}

var internalErrorPhrases = []string{
	"internal error",
	"internal server error",
}

// ClassifyUpstreamError maps a raw upstream error event's text (plus its
// allow_retry flag) onto the taxonomy in spec.md §7.
func ClassifyUpstreamError(text string, allowRetry bool) *Error {
	lower := strings.ToLower(text)

	for _, p := range quotaPhrases {
		if strings.Contains(lower, p) {
			return InsufficientQuota()
		}
	}
	for _, p := range rateLimitPhrases {
		if strings.Contains(lower, p) {
			return RateLimitExceeded(text)
		}
	}
	for _, p := range internalErrorPhrases {
		if strings.Contains(lower, p) {
			return InternalError(text)
		}
	}

	return GenericUpstreamFailure(text)
}
