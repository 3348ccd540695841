package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_EnsureCreatesClosedBreaker(t *testing.T) {
	set := NewSet(nil)
	b := set.Ensure("billing", testSettings())
	require.NotNil(t, b)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, set.Len())

	got, ok := set.Get("billing")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestSet_EnsurePreservesCountersAcrossUpdate(t *testing.T) {
	set := NewSet(nil)
	b := set.Ensure("billing", Settings{FailureThreshold: 5, OpenDuration: time.Second})
	b.ReportFailure()
	b.ReportFailure()

	// Re-registering swaps settings but keeps the accumulated count.
	again := set.Ensure("billing", Settings{FailureThreshold: 3, OpenDuration: time.Second})
	require.Same(t, b, again)
	assert.Equal(t, 2, again.Snapshot().ConsecutiveFailures)
	assert.Equal(t, StateClosed, again.State())

	// One more failure reaches the lowered threshold.
	again.ReportFailure()
	assert.Equal(t, StateOpen, again.State())
}

func TestSet_RemoveDiscardsState(t *testing.T) {
	set := NewSet(nil)
	b := set.Ensure("billing", Settings{FailureThreshold: 1, OpenDuration: time.Minute})
	b.ReportFailure()
	require.Equal(t, StateOpen, b.State())

	set.Remove("billing")
	_, ok := set.Get("billing")
	assert.False(t, ok)

	fresh := set.Ensure("billing", Settings{FailureThreshold: 1, OpenDuration: time.Minute})
	assert.NotSame(t, b, fresh)
	assert.Equal(t, StateClosed, fresh.State())
	assert.Zero(t, fresh.Snapshot().ConsecutiveFailures)
}

func TestSet_SnapshotsSortedByService(t *testing.T) {
	set := NewSet(nil)
	set.Ensure("search", testSettings())
	set.Ensure("billing", testSettings())
	set.Ensure("ledger", testSettings())

	snaps := set.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "billing", snaps[0].Service)
	assert.Equal(t, "ledger", snaps[1].Service)
	assert.Equal(t, "search", snaps[2].Service)
}

func TestSet_SharedTransitionCallback(t *testing.T) {
	var services []string
	set := NewSet(func(service string, from, to State) {
		services = append(services, service)
	})
	b := set.Ensure("billing", Settings{FailureThreshold: 1, OpenDuration: time.Minute})
	b.ReportFailure()
	require.Equal(t, []string{"billing"}, services)
}
