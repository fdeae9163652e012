package core

import (
	"errors"
	"fmt"
)

// SyncErrorCode categorizes synchronization errors.
type SyncErrorCode string

const (
	// ErrCodeTransientIO is a source fetch failure that may succeed on retry.
	ErrCodeTransientIO SyncErrorCode = "TRANSIENT_IO"

	// ErrCodeLayerCreate means a destination layer could not be created.
	ErrCodeLayerCreate SyncErrorCode = "LAYER_CREATE"

	// ErrCodeInvalidFeature means a change could not be applied to a feature.
	ErrCodeInvalidFeature SyncErrorCode = "INVALID_FEATURE"

	// ErrCodeConfiguration is a malformed date, layer name or option.
	ErrCodeConfiguration SyncErrorCode = "CONFIGURATION"

	// ErrCodeASpatial means a layer has no spatial representation the destination accepts.
	ErrCodeASpatial SyncErrorCode = "ASPATIAL"

	// ErrCodePrimaryKeyUnavailable means a primary key is required but not configured.
	ErrCodePrimaryKeyUnavailable SyncErrorCode = "PRIMARY_KEY_UNAVAILABLE"

	// ErrCodeUnknownTempStrategy means the bulk copy staging strategy is not recognised.
	ErrCodeUnknownTempStrategy SyncErrorCode = "UNKNOWN_TEMP_STRATEGY"

	// ErrCodeDatasourceInit means the source could not be opened.
	ErrCodeDatasourceInit SyncErrorCode = "DATASOURCE_INIT"

	// ErrCodeMalformedConnection means a connection string or URI is invalid.
	ErrCodeMalformedConnection SyncErrorCode = "MALFORMED_CONNECTION"
)

// SyncError is a classified synchronization failure.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Layer is the affected layer id, if any.
	Layer string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Layer != "" {
		msg = fmt.Sprintf("%s (layer=%s)", msg, e.Layer)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a SyncError.
func NewSyncError(code SyncErrorCode, layer, message string, err error) *SyncError {
	return &SyncError{Code: code, Layer: layer, Message: message, Err: err}
}

// CodeOf returns the SyncErrorCode of err, or "" when err is not a SyncError.
func CodeOf(err error) SyncErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsInvalidFeatureError returns true if err is an invalid feature condition.
func IsInvalidFeatureError(err error) bool {
	return CodeOf(err) == ErrCodeInvalidFeature
}

// IsConfigurationError returns true if err is a configuration fault.
func IsConfigurationError(err error) bool {
	return CodeOf(err) == ErrCodeConfiguration
}

// IsLayerCreateError returns true if err is a layer creation fault.
func IsLayerCreateError(err error) bool {
	return CodeOf(err) == ErrCodeLayerCreate
}

// IsBatchContinuable returns true for per-layer faults that must not abort a batch:
// a layer without spatial data, or without a primary key when one is required.
func IsBatchContinuable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeASpatial, ErrCodePrimaryKeyUnavailable:
		return true
	default:
		return false
	}
}
