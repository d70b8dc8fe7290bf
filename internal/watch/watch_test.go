package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sources")
	decisions := filepath.Join(dir, "decisions.jsonl")
	patterns := filepath.Join(dir, "patterns.jsonl")
	other := filepath.Join(dir, "notes.txt")

	var (
		mu    sync.Mutex
		calls [][]string
	)
	w, err := New([]string{decisions, patterns}, func(_ context.Context, changed []string) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, changed)
		return nil
	}, 100*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Wait for the directory to be created and watched.
	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(other, []byte("ignored\n"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(decisions, []byte("{}\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(patterns, []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) > 0
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1, "a burst of writes is one refresh")
	want := []string{decisions, patterns}
	for i := range want {
		want[i], _ = filepath.Abs(want[i])
	}
	assert.Equal(t, want, calls[0])
}
