package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common application errors
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrConfigurationLoad    = errors.New("failed to load configuration")
	ErrInvalidRule          = errors.New("invalid column rule")
	ErrInvalidBins          = errors.New("invalid bin specification")

	// Input errors
	ErrInvalidInputData = errors.New("invalid input data")
	ErrMissingColumn    = errors.New("column not found")

	// Privacy errors
	ErrAugmentationPoolEmpty = errors.New("no complete sensitive tuples to sample from")
	ErrInvalidThreshold      = errors.New("invalid privacy threshold")
	ErrPrivacyViolation      = errors.New("privacy violation")

	// Storage errors
	ErrStorageReadFailed  = errors.New("storage read failed")
	ErrStorageWriteFailed = errors.New("storage write failed")
	ErrUnsupportedURI     = errors.New("unsupported storage location")
	ErrNotFound           = errors.New("not found")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeDerivation    ErrorType = "derivation"
	ErrorTypeAugmentation  ErrorType = "augmentation"
	ErrorTypePrivacy       ErrorType = "privacy"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message)
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewAugmentationError creates an augmentation error
func NewAugmentationError(code, message string) *AppError {
	return NewAppError(ErrorTypeAugmentation, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// IsType reports whether err is, or wraps, an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// TypeOf returns the type of the first AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

// ValidationErrorDetail represents detailed validation error information
type ValidationErrorDetail struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
}

// ValidationErrors accumulates configuration problems so they can be reported together.
type ValidationErrors struct {
	Message string                  `json:"message"`
	Errors  []ValidationErrorDetail `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ve.Message
	}
	parts := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return fmt.Sprintf("%s: %s", ve.Message, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrInvalidConfiguration.
func (ve *ValidationErrors) Unwrap() error {
	return ErrInvalidConfiguration
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, code, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationErrorDetail{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// HasErrors checks if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ErrorOrNil returns ve when it holds errors, nil otherwise.
func (ve *ValidationErrors) ErrorOrNil() error {
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Message: "invalid configuration",
		Errors:  make([]ValidationErrorDetail, 0),
	}
}

// Error codes for different error scenarios
const (
	// Configuration error codes
	CodeInvalidRule      = "INVALID_RULE"
	CodeUnknownRuleType  = "UNKNOWN_RULE_TYPE"
	CodeDuplicateColumn  = "DUPLICATE_COLUMN"
	CodeInvalidBins      = "INVALID_BINS"
	CodeLabelMismatch    = "LABEL_COUNT_MISMATCH"
	CodeMissingDefault   = "MISSING_DEFAULT"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidThreshold = "INVALID_THRESHOLD"
	CodeConfigLoadFailed = "CONFIG_LOAD_FAILED"

	// Augmentation error codes
	CodePoolEmpty = "AUGMENTATION_POOL_EMPTY"

	// Privacy error codes
	CodeValidationFailed = "VALIDATION_FAILED"

	// Input error codes
	CodeInvalidInput  = "INVALID_INPUT"
	CodeMissingColumn = "MISSING_COLUMN"

	// Storage error codes
	CodeReadFailed     = "READ_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeUnsupportedURI = "UNSUPPORTED_URI"
	CodeConnectFailed  = "CONNECTION_FAILED"
	CodeNotConnected   = "NOT_CONNECTED"
	CodeNotFound       = "NOT_FOUND"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
