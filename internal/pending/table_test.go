package pending

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nanit/internal/proto"
)

func TestNextIDMonotonic(t *testing.T) {
	tbl := New()
	var ids []uint32
	for i := 0; i < 100; i++ {
		ids = append(ids, tbl.NextID())
	}
	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1])
	}
	require.Equal(t, uint32(1), ids[0])
}

func TestNextIDMonotonicUnderConcurrency(t *testing.T) {
	tbl := New()
	const n = 500
	ids := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- tbl.NextID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	require.Len(t, seen, n)
}

func TestTrackDuplicateIDFails(t *testing.T) {
	tbl := New()
	_, err := tbl.Track(1)
	require.NoError(t, err)
	_, err = tbl.Track(1)
	require.Error(t, err)
}

func TestResolveCompletesWithExactResponse(t *testing.T) {
	tbl := New()
	entry, err := tbl.Track(5)
	require.NoError(t, err)

	resp := &proto.Response{RequestID: 5, StatusCode: 0}
	ok := tbl.Resolve(5, resp)
	require.True(t, ok)

	result := <-entry.Chan()
	require.Same(t, resp, result.Response)
	require.NoError(t, result.Err)
}

func TestResolveUnknownIDReturnsFalse(t *testing.T) {
	tbl := New()
	ok := tbl.Resolve(999, &proto.Response{})
	require.False(t, ok)
}

func TestResolveAlreadyResolvedReturnsFalse(t *testing.T) {
	tbl := New()
	_, err := tbl.Track(1)
	require.NoError(t, err)
	require.True(t, tbl.Resolve(1, &proto.Response{}))
	require.False(t, tbl.Resolve(1, &proto.Response{}))
}

func TestCancelAllDrainsAndCompletesWithError(t *testing.T) {
	tbl := New()
	e1, _ := tbl.Track(1)
	e2, _ := tbl.Track(2)
	sentinel := errors.New("connection lost")

	tbl.CancelAll(sentinel)
	require.Equal(t, 0, tbl.PendingCount())

	r1 := <-e1.Chan()
	r2 := <-e2.Chan()
	require.ErrorIs(t, r1.Err, sentinel)
	require.ErrorIs(t, r2.Err, sentinel)

	// A subsequent track of the same ID succeeds: the table was cleared.
	_, err := tbl.Track(1)
	require.NoError(t, err)
}

func TestCancelAllWithNoErrorStillCompletes(t *testing.T) {
	tbl := New()
	e, _ := tbl.Track(1)
	tbl.CancelAll(nil)
	r := <-e.Chan()
	require.NoError(t, r.Err)
	require.Nil(t, r.Response)
}

func TestForgetCleansUpTimedOutEntry(t *testing.T) {
	tbl := New()
	_, err := tbl.Track(1)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.PendingCount())

	tbl.Forget(1)
	require.Equal(t, 0, tbl.PendingCount())
	require.False(t, tbl.Resolve(1, &proto.Response{}))
}
