package storesync

import (
	"errors"
	"fmt"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIdentifiers  = errors.New("identity map is required")
	errMissingIntegrations = errors.New("integration service is required")
	errMissingCommerce     = errors.New("commerce provider is required")

	// ErrIntegrationInactive indicates that the connection no longer accepts sync traffic.
	ErrIntegrationInactive = errors.New("storesync: integration inactive")
	// ErrNotFound indicates that a local record referenced by the request does not exist.
	ErrNotFound = errors.New("storesync: record not found")
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "storesync.service.new"
	opPushInventory  = "storesync.push_inventory"
	opPushColorway   = "storesync.push_colorway"
	opPullInventory  = "storesync.pull_inventory"
	opListLogs       = "storesync.list_logs"
	opRecordActivity = "storesync.record_activity"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
