package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutor_RunsSerially(t *testing.T) {
	e := New()
	defer e.Halt()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestExecutor_ReturnsError(t *testing.T) {
	e := New()
	defer e.Halt()

	boom := errors.New("boom")
	err := e.Do(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestExecutor_NestedRunsInline(t *testing.T) {
	e := New()
	defer e.Halt()

	var inner bool
	err := e.Do(context.Background(), func(ctx context.Context) error {
		require.True(t, e.Owns(ctx))
		return e.Do(ctx, func(context.Context) error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	require.True(t, inner)
}

func TestExecutor_PanicBecomesError(t *testing.T) {
	e := New()
	defer e.Halt()

	err := e.Do(context.Background(), func(context.Context) error { panic("kaput") })
	require.Error(t, err)
	require.Contains(t, err.Error(), "kaput")

	require.NoError(t, e.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestExecutor_AfterHalt(t *testing.T) {
	e := New()
	e.Halt()
	e.Halt()

	err := e.Do(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrHalted)
}

func TestExecutor_CancelledBeforeSubmit(t *testing.T) {
	e := New()
	defer e.Halt()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Do(context.Background(), func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Do(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	close(block)
}

func TestExecutor_OwnsForeignContext(t *testing.T) {
	a, b := New(), New()
	defer a.Halt()
	defer b.Halt()

	_ = a.Do(context.Background(), func(ctx context.Context) error {
		require.False(t, b.Owns(ctx))
		return nil
	})
	require.False(t, a.Owns(context.Background()))
}
