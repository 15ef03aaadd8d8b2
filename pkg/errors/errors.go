package errors

import (
	"errors"
	"fmt"
)

// ProvisionerError represents a failure talking to the VPN key-issuance API
// after the retry budget is exhausted.
type ProvisionerError struct {
	Op         string // "create_key", "delete_key", "transfer_metrics"
	StatusCode int    // last HTTP status, 0 for transport failures
	Message    string
	Err        error
	Retriable  bool
}

func (e *ProvisionerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vpn provisioner %s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("vpn provisioner %s: %s", e.Op, e.Message)
}

func (e *ProvisionerError) Unwrap() error {
	return e.Err
}

// NewProvisionerError creates a provisioner error for a failed API call
func NewProvisionerError(op string, statusCode int, message string, err error) *ProvisionerError {
	return &ProvisionerError{
		Op:         op,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
		Retriable:  statusCode == 0 || statusCode >= 500,
	}
}

// IsProvisionerError reports whether err is a ProvisionerError
func IsProvisionerError(err error) bool {
	var pe *ProvisionerError
	return errors.As(err, &pe)
}

// SendError represents a failed chat-platform delivery.
type SendError struct {
	UserID      int64
	StatusCode  int
	Description string
	Err         error
}

func (e *SendError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("chat send to %d failed: %s", e.UserID, e.Description)
	}
	return fmt.Sprintf("chat send to %d failed (status %d)", e.UserID, e.StatusCode)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
