package monitoring

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestAudit(t *testing.T, maxRows int) (*AuditLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	a, err := OpenAudit(path, maxRows)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, path
}

func TestAudit_RecordAndRecent(t *testing.T) {
	a, _ := openTestAudit(t, 100)

	a.Record(NewEvent(EventServiceRegistered, "billing", "registered"))
	a.Record(NewEvent(EventBreakerTransition, "billing", "closed -> open"))
	a.Record(NewEvent(EventHealthChange, "search", "healthy -> unhealthy"))

	events, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, EventHealthChange, events[0].Kind)
	assert.Equal(t, "search", events[0].Service)
	assert.Equal(t, EventBreakerTransition, events[1].Kind)
	assert.Equal(t, EventServiceRegistered, events[2].Kind)
	assert.WithinDuration(t, time.Now(), events[0].Time, time.Minute)
}

func TestAudit_RecentHonorsLimit(t *testing.T) {
	a, _ := openTestAudit(t, 100)
	for i := 0; i < 8; i++ {
		a.Record(NewEvent(EventHealthChange, "svc", "flap"))
	}

	events, err := a.Recent(3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestAudit_RetentionPrunesOldestOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	a, err := OpenAudit(path, 10)
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		a.Record(NewEvent(EventBreakerTransition, "svc", "tick"))
	}
	a.Record(NewEvent(EventGatewayStopped, "", "last"))
	require.NoError(t, a.Close())

	a, err = OpenAudit(path, 10)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	n, err := a.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	events, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 10)
	assert.Equal(t, EventGatewayStopped, events[0].Kind, "pruning keeps the newest rows")
}

func TestAudit_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	a, err := OpenAudit(path, 100)
	require.NoError(t, err)
	a.Record(NewEvent(EventGatewayStarted, "", "up"))
	require.NoError(t, a.Close())

	a, err = OpenAudit(path, 100)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	events, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventGatewayStarted, events[0].Kind)
}
