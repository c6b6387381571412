package statestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (c *changeLog) add(change Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
}

func (c *changeLog) snapshot() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change(nil), c.changes...)
}

func TestMemoryViewsShareDataWithDistinctOrigins(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	tabA := backend.View()
	tabB := backend.View()
	require.NotEqual(t, tabA.Origin(), tabB.Origin())

	require.NoError(t, tabA.Save(ctx, "user-1", map[string]string{KeyDeploymentStatus: "deployed", KeyPipelineID: "9"}))
	values, err := tabB.Load(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "deployed", values[KeyDeploymentStatus])
	require.Equal(t, "9", values[KeyPipelineID])

	other, err := tabB.Load(ctx, "user-2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestMemorySubscribeReceivesChangesWithOrigin(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	writer := backend.View()
	reader := backend.View()

	var log changeLog
	cancel, err := reader.Subscribe(ctx, "user-1", log.add)
	require.NoError(t, err)

	require.NoError(t, writer.Save(ctx, "user-1", map[string]string{KeyActiveTab: "tab-2"}))
	require.NoError(t, writer.Remove(ctx, "user-1", KeyActiveTab, KeyPipelineID))
	require.NoError(t, writer.Save(ctx, "user-2", map[string]string{KeyActiveTab: "ignored"}))

	changes := log.snapshot()
	require.Len(t, changes, 2)
	require.Equal(t, Change{Scope: "user-1", Key: KeyActiveTab, Value: "tab-2", Origin: writer.Origin()}, changes[0])
	require.True(t, changes[1].Deleted)

	cancel()
	require.NoError(t, writer.Save(ctx, "user-1", map[string]string{KeyActiveTab: "tab-3"}))
	require.Len(t, log.snapshot(), 2)
}

func TestMemorySubscribeEndsWithContext(t *testing.T) {
	backend := NewMemory()
	view := backend.View()
	ctx, cancel := context.WithCancel(context.Background())

	var log changeLog
	_, err := view.Subscribe(ctx, "user-1", log.add)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.subs["user-1"]) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDeploymentKeyGroup(t *testing.T) {
	require.True(t, IsDeploymentKey(KeyEndpointURL))
	require.True(t, IsDeploymentKey(KeyLocalTestMode))
	require.False(t, IsDeploymentKey(KeySession))
	require.False(t, IsDeploymentKey(KeyActiveTab))
}
