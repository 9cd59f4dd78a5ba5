package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPushAssignsMonotonicCursors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}
	sender := wire.DeviceId{2}

	c1, err := s.Push(ctx, group, wire.NewBlobId(), sender, []byte("a"), 1024, 1<<20, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, wire.Cursor(1), c1)

	c2, err := s.Push(ctx, group, wire.NewBlobId(), sender, []byte("b"), 1024, 1<<20, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, wire.Cursor(2), c2)
}

func TestPushConcurrentDevicesYieldDenseUniqueCursors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{9}

	const devices = 10
	const perDevice = 10

	var wg sync.WaitGroup
	cursors := make(chan wire.Cursor, devices*perDevice)
	errs := make(chan error, devices*perDevice)

	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			sender := wire.DeviceId{byte(d)}
			for i := 0; i < perDevice; i++ {
				c, err := s.Push(ctx, group, wire.NewBlobId(), sender, []byte("x"), 1024, 1<<20, time.Hour)
				if err != nil {
					errs <- err
					continue
				}
				cursors <- c
			}
		}(d)
	}
	wg.Wait()
	close(cursors)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[wire.Cursor]bool)
	for c := range cursors {
		require.False(t, seen[c], "duplicate cursor %d", c)
		seen[c] = true
	}
	assert.Len(t, seen, devices*perDevice)
	for i := 1; i <= devices*perDevice; i++ {
		assert.True(t, seen[wire.Cursor(i)], "missing cursor %d", i)
	}
}

func TestPushRejectsOversizedBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}

	_, err := s.Push(ctx, group, wire.NewBlobId(), wire.DeviceId{1}, make([]byte, 601), 600, 1<<20, time.Hour)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindBlobTooLarge))
}

func TestPushEnforcesGroupStorageQuota(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}

	_, err := s.Push(ctx, group, wire.NewBlobId(), wire.DeviceId{1}, make([]byte, 600), 1024, 1024, time.Hour)
	require.NoError(t, err)

	_, err = s.Push(ctx, group, wire.NewBlobId(), wire.DeviceId{1}, make([]byte, 600), 1024, 1024, time.Hour)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindQuotaExceeded))
}

func TestPushRejectsDuplicateBlobId(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}
	blobID := wire.NewBlobId()

	_, err := s.Push(ctx, group, blobID, wire.DeviceId{1}, []byte("a"), 1024, 1<<20, time.Hour)
	require.NoError(t, err)

	_, err = s.Push(ctx, group, blobID, wire.DeviceId{1}, []byte("b"), 1024, 1<<20, time.Hour)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindInvalidMessage))
}

func TestPullReturnsInOrderAndClampsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}
	sender := wire.DeviceId{1}

	for i := 0; i < 5; i++ {
		_, err := s.Push(ctx, group, wire.NewBlobId(), sender, []byte{byte(i)}, 1024, 1<<20, time.Hour)
		require.NoError(t, err)
	}

	blobs, next, more, err := s.Pull(ctx, group, wire.NoCursor, 2, 2)
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, wire.Cursor(1), blobs[0].Cursor)
	assert.Equal(t, wire.Cursor(2), blobs[1].Cursor)
	assert.Equal(t, wire.Cursor(2), next)
	assert.True(t, more)

	blobs, next, more, err = s.Pull(ctx, group, next, 2, 2)
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, wire.Cursor(4), next)
	assert.True(t, more)

	blobs, next, more, err = s.Pull(ctx, group, next, 2, 2)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, wire.Cursor(5), next)
	assert.False(t, more)
}

func TestPullClampsAboveServerMax(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}
	sender := wire.DeviceId{1}

	for i := 0; i < 3; i++ {
		_, err := s.Push(ctx, group, wire.NewBlobId(), sender, []byte{byte(i)}, 1024, 1<<20, time.Hour)
		require.NoError(t, err)
	}

	blobs, _, _, err := s.Pull(ctx, group, wire.NoCursor, 1000, 2)
	require.NoError(t, err)
	assert.Len(t, blobs, 2)
}

func TestRecordDeliveriesIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}
	sender := wire.DeviceId{1}
	device := wire.DeviceId{7}

	_, err := s.Push(ctx, group, wire.NewBlobId(), sender, []byte("a"), 1024, 1<<20, time.Hour)
	require.NoError(t, err)
	blobs, _, _, err := s.Pull(ctx, group, wire.NoCursor, 10, 10)
	require.NoError(t, err)
	require.Len(t, blobs, 1)

	ids := []wire.BlobId{blobs[0].BlobId}
	require.NoError(t, s.RecordDeliveries(ctx, device, ids))
	require.NoError(t, s.RecordDeliveries(ctx, device, ids))
}

func TestCleanupRemovesExpiredBlobsAndDeliveries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := wire.GroupId{1}
	sender := wire.DeviceId{1}

	_, err := s.Push(ctx, group, wire.NewBlobId(), sender, []byte("a"), 1024, 1<<20, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	blobs, _, _, err := s.Pull(ctx, group, wire.NoCursor, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, blobs)
}

func TestLastAssignedCursorForNeverPushedGroup(t *testing.T) {
	s := openTestStore(t)
	c, err := s.LastAssignedCursor(context.Background(), wire.GroupId{99})
	require.NoError(t, err)
	assert.Equal(t, wire.NoCursor, c)
}
