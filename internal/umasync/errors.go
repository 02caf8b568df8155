// Package umasync ingests optimistic-oracle event streams: an adaptive
// block-range log scanner per instance, multi-endpoint RPC failover with
// per-endpoint statistics, and idempotent persistence of assertions,
// disputes, and votes.
package umasync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class buckets sync failures by how the engine reacts to them.
type Class string

const (
	// ClassContractNotFound is fatal for the invocation: no contract code
	// at the queried address. Never retried.
	ClassContractNotFound Class = "contract_not_found"

	// ClassRPCUnreachable covers timeouts, refused connections, and
	// socket-level failures. Retried on the same endpoint, then rotated.
	ClassRPCUnreachable Class = "rpc_unreachable"

	// ClassSyncFailed is the catch-all for decode, storage, and invariant
	// failures. Retried at the range level.
	ClassSyncFailed Class = "sync_failed"
)

// SyncError is a classified failure.
type SyncError struct {
	Class Class
	Err   error
}

func (e *SyncError) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *SyncError) Unwrap() error { return e.Err }

// NewSyncError wraps err under a class; an already-classified error keeps
// its original class.
func NewSyncError(class Class, err error) error {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return err
	}
	return &SyncError{Class: class, Err: err}
}

// ContractNotFound builds the fatal variant.
func ContractNotFound(address, chain string) error {
	return &SyncError{Class: ClassContractNotFound, Err: fmt.Errorf("no contract code at %s on %s", address, chain)}
}

// ClassOf extracts the class of err, classifying unclassified errors by
// their transport symptoms.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class
	}
	if isUnreachable(err) {
		return ClassRPCUnreachable
	}
	return ClassSyncFailed
}

// isUnreachable recognizes transport-level failures worth rotating over:
// deadline, refusal, reset, DNS, aborted sockets.
func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"timeout",
		"socket",
		"aborted",
		"eof",
		"fetch failed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
