package umasync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func durationMs(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassContractNotFound, ClassOf(ContractNotFound("0xdead", "ethereum")))
	assert.Equal(t, ClassRPCUnreachable, ClassOf(context.DeadlineExceeded))
	assert.Equal(t, ClassRPCUnreachable, ClassOf(errors.New("dial tcp: connection refused")))
	assert.Equal(t, ClassRPCUnreachable, ClassOf(errors.New("read: i/o timeout")))
	assert.Equal(t, ClassSyncFailed, ClassOf(errors.New("pq: duplicate key")))
}

func TestClassSurvivesWrapping(t *testing.T) {
	inner := ContractNotFound("0xdead", "ethereum")
	wrapped := fmt.Errorf("scan range: %w", inner)
	assert.Equal(t, ClassContractNotFound, ClassOf(wrapped))

	// Reclassification does not override an existing class.
	reclassified := NewSyncError(ClassSyncFailed, wrapped)
	assert.Equal(t, ClassContractNotFound, ClassOf(reclassified))
}

func TestRetriesPerEndpointScalesWithTimeout(t *testing.T) {
	mk := func(ms int64) int {
		s := &rpcSession{rpcTimeout: durationMs(ms)}
		return s.retriesPerEndpoint()
	}
	assert.Equal(t, 2, mk(1_000))
	assert.Equal(t, 2, mk(9_999))
	assert.Equal(t, 3, mk(15_000))
	assert.Equal(t, 3, mk(60_000))
}
