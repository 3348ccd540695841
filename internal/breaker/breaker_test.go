package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/relayforge/service-gateway/internal/errors"
)

func testSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		OpenDuration:     40 * time.Millisecond,
		BackoffFactor:    2,
		MaxOpenDuration:  5 * time.Minute,
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("billing", testSettings(), nil)

	b.ReportFailure()
	b.ReportFailure()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())

	b.ReportFailure()
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, gwerrors.IsCircuitOpen(err))
	assert.Equal(t, "billing", gwerrors.ServiceOf(err))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("billing", testSettings(), nil)

	b.ReportFailure()
	b.ReportFailure()
	b.ReportSuccess()
	b.ReportFailure()
	b.ReportFailure()
	assert.Equal(t, StateClosed, b.State(), "count should restart after a success")

	b.ReportFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ThresholdOneTripsImmediately(t *testing.T) {
	s := testSettings()
	s.FailureThreshold = 1
	b := New("flaky", s, nil)

	b.ReportFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SingleProbeAfterOpenWindow(t *testing.T) {
	b := New("billing", testSettings(), nil)
	for i := 0; i < 3; i++ {
		b.ReportFailure()
	}
	require.Equal(t, StateOpen, b.State())
	require.Error(t, b.Allow(), "window has not elapsed yet")

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Allow(), "first call after the window is the probe")
	assert.Equal(t, StateHalfOpen, b.State())

	err := b.Allow()
	require.Error(t, err, "only one probe may be in flight")
	assert.True(t, gwerrors.IsCircuitOpen(err))

	b.ReportSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())

	snap := b.Snapshot()
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.True(t, snap.NextProbeAt.IsZero())
}

func TestBreaker_FailedProbeWidensWindow(t *testing.T) {
	s := testSettings()
	s.OpenDuration = 30 * time.Millisecond
	s.MaxOpenDuration = 100 * time.Millisecond
	b := New("billing", s, nil)

	for i := 0; i < 3; i++ {
		b.ReportFailure()
	}
	assert.Equal(t, 30*time.Millisecond, b.Snapshot().OpenWindow)

	time.Sleep(45 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.ReportFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 60*time.Millisecond, b.Snapshot().OpenWindow, "window doubles after a failed probe")

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.ReportFailure()
	assert.Equal(t, 100*time.Millisecond, b.Snapshot().OpenWindow, "widening is capped")
}

func TestBreaker_SuccessfulProbeResetsWindow(t *testing.T) {
	s := testSettings()
	s.OpenDuration = 30 * time.Millisecond
	b := New("billing", s, nil)

	for i := 0; i < 3; i++ {
		b.ReportFailure()
	}
	time.Sleep(45 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.ReportFailure() // widened to 60ms

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.ReportSuccess()
	require.Equal(t, StateClosed, b.State())

	for i := 0; i < 3; i++ {
		b.ReportFailure()
	}
	assert.Equal(t, 30*time.Millisecond, b.Snapshot().OpenWindow, "next trip starts from the base window")
}

func TestBreaker_LateResultsWhileOpenKeepWindow(t *testing.T) {
	b := New("billing", testSettings(), nil)
	for i := 0; i < 3; i++ {
		b.ReportFailure()
	}
	before := b.Snapshot()

	// Results from calls admitted before the trip arrive late.
	b.ReportSuccess()
	b.ReportFailure()

	after := b.Snapshot()
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, before.NextProbeAt, after.NextProbeAt, "late results must not move the probe time")
	require.Error(t, b.Allow())
}

func TestBreaker_TransitionCallbackSequence(t *testing.T) {
	type hop struct{ from, to State }
	var mu sync.Mutex
	var hops []hop
	record := func(service string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "billing", service)
		hops = append(hops, hop{from, to})
	}

	b := New("billing", testSettings(), record)
	for i := 0; i < 3; i++ {
		b.ReportFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.ReportSuccess()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []hop{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, hops)
}

func TestBreaker_ConcurrentReportsStayConsistent(t *testing.T) {
	s := testSettings()
	s.FailureThreshold = 50
	b := New("billing", s, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = b.Allow()
				b.ReportFailure()
				b.ReportSuccess()
			}
		}()
	}
	wg.Wait()

	// A success always follows each failure, so the breaker never
	// accumulates enough consecutive failures to trip.
	snap := b.Snapshot()
	assert.Equal(t, StateClosed.String(), snap.State)
	assert.Less(t, snap.ConsecutiveFailures, 50)
}

func TestBreaker_RejectionsAreCounted(t *testing.T) {
	b := New("billing", testSettings(), nil)
	for i := 0; i < 3; i++ {
		b.ReportFailure()
	}
	for i := 0; i < 5; i++ {
		_ = b.Allow()
	}
	snap := b.Snapshot()
	assert.Equal(t, uint64(5), snap.Rejected)
	assert.Equal(t, uint64(1), snap.Opens)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
