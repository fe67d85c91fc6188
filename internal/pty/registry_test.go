package pty

import (
	"errors"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandle(id string) *handle {
	return &handle{id: id, cmd: &exec.Cmd{}, cols: DefaultCols, rows: DefaultRows}
}

func TestRegistryInsertCollision(t *testing.T) {
	r := newRegistry()

	require.NoError(t, r.insert("s1", testHandle("s1")))
	err := r.insert("s1", testHandle("s1"))
	require.ErrorIs(t, err, ErrExists)
	assert.Equal(t, 1, r.len())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := newRegistry()
	h := testHandle("s1")
	require.NoError(t, r.insert("s1", h))

	got, err := r.remove("s1")
	require.NoError(t, err)
	assert.Same(t, h, got)

	_, err = r.remove("s1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.len())
}

func TestRegistryWith(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.insert("s1", testHandle("s1")))

	err := r.with("ghost", func(*handle) error {
		t.Fatal("callback must not run for a missing id")
		return nil
	})
	require.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("boom")
	err = r.with("s1", func(h *handle) error {
		h.cols = 132
		return boom
	})
	require.ErrorIs(t, err, boom)

	infos := r.snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, uint16(132), infos[0].Cols)
}

func TestRegistryConcurrentInsertHasOneWinner(t *testing.T) {
	r := newRegistry()

	const workers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.insert("same", testHandle("same")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.len())
}

func TestRegistryDrain(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.insert("a", testHandle("a")))
	require.NoError(t, r.insert("b", testHandle("b")))

	handles := r.drain()
	assert.Len(t, handles, 2)
	assert.Equal(t, 0, r.len())
	assert.False(t, r.contains("a"))
}
