package service

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingNotifier holds every delivery until release is closed
type blockingNotifier struct {
	recordingNotifier
	release chan struct{}
}

func (n *blockingNotifier) Notify(ctx context.Context, msg Notification) error {
	<-n.release
	return n.recordingNotifier.Notify(ctx, msg)
}

func TestDispatcherFlushesOnStop(t *testing.T) {
	next := &recordingNotifier{}
	d := NewDispatcher(next, 10, log.New(io.Discard, "", 0))
	d.Start()

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, d.Notify(context.Background(), Notification{Subject: s}))
	}
	d.Stop()

	assert.Equal(t, []string{"a", "b", "c"}, next.subjects())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	next := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher(next, 1, log.New(io.Discard, "", 0))

	require.NoError(t, d.Notify(context.Background(), Notification{Subject: "first"}))
	assert.ErrorIs(t, d.Notify(context.Background(), Notification{Subject: "second"}), ErrQueueFull)

	d.Start()
	close(next.release)
	d.Stop()
	assert.Equal(t, []string{"first"}, next.subjects())
}

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	first, err := d.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := d.FirstSeen(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, other)

	now = now.Add(25 * time.Hour)
	expired, err := d.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestCancellationSweeperRunsAtStart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	project := projectFor(t, env, "cs_1", 24900)
	_, err := env.customers.CancelProject(ctx, joe, project.ID, "")
	require.NoError(t, err)
	env.now = env.now.Add(31 * 24 * time.Hour)

	sweeper := NewCancellationSweeper(env.customers, time.Hour, log.New(io.Discard, "", 0))
	sweeper.Start()

	assert.Eventually(t, func() bool {
		rec, err := env.customers.Get(ctx, joe)
		return err == nil && rec.CompletedProjects[0].Status == "Completed"
	}, 2*time.Second, 10*time.Millisecond)
	sweeper.Stop()
}
