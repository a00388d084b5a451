package core

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Field names reported by Validate.
const (
	FieldTitle = "title"
	FieldURL   = "url"
)

// ErrorCode classifies a field-level validation failure.
type ErrorCode string

const (
	CodeMissingField ErrorCode = "missing_field"
	CodeMalformedURL ErrorCode = "malformed_url"
)

// User-facing messages, shown inline next to the offending field.
const (
	MsgTitleRequired = "Title is required"
	MsgURLRequired   = "URL is required"
	MsgURLMalformed  = "Enter a valid URL (include https://)"
)

// ErrInvalidURL is returned when a bookmark URL is not an absolute URL.
var ErrInvalidURL = errors.New("invalid URL")

// hostRequired lists schemes whose URLs are meaningless without a host.
var hostRequired = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
	"ftp":   true,
}

// FieldError describes why one field failed validation.
type FieldError struct {
	Code    ErrorCode
	Message string
}

// ValidationResult maps a field name to its error. An empty result is valid.
type ValidationResult map[string]FieldError

// Valid reports whether no field failed.
func (r ValidationResult) Valid() bool {
	return len(r) == 0
}

// Messages returns the field -> message mapping the view displays.
func (r ValidationResult) Messages() map[string]string {
	if len(r) == 0 {
		return nil
	}
	out := make(map[string]string, len(r))
	for field, fe := range r {
		out[field] = fe.Message
	}
	return out
}

// Err returns nil for a valid result, otherwise a *ValidationError.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Result: r}
}

// ValidationError wraps a failed ValidationResult as an error.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Result))
	for field := range e.Result {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Result[field].Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks a candidate bookmark's title and URL. It has no side effects
// and may be called on every keystroke.
func Validate(title, rawURL string) ValidationResult {
	result := ValidationResult{}

	if strings.TrimSpace(title) == "" {
		result[FieldTitle] = FieldError{Code: CodeMissingField, Message: MsgTitleRequired}
	}

	if strings.TrimSpace(rawURL) == "" {
		result[FieldURL] = FieldError{Code: CodeMissingField, Message: MsgURLRequired}
	} else if err := ValidateBookmarkURL(rawURL); err != nil {
		result[FieldURL] = FieldError{Code: CodeMalformedURL, Message: MsgURLMalformed}
	}

	return result
}

// ValidateBookmarkURL checks that rawURL parses as an absolute URL.
// A scheme is always required; web schemes also need a host.
func ValidateBookmarkURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme == "" {
		return fmt.Errorf("%w: missing scheme", ErrInvalidURL)
	}

	if hostRequired[strings.ToLower(u.Scheme)] && u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	return nil
}
