package clickcounter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingKeeper struct {
	mu     sync.Mutex
	clicks map[string]int64
	err    error
}

func (k *recordingKeeper) AddClicks(ctx context.Context, clicks map[string]int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.err != nil {
		return k.err
	}
	for short, n := range clicks {
		k.clicks[short] += n
	}
	return nil
}

func (k *recordingKeeper) get(short string) int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.clicks[short]
}

func TestClicksAreFlushedPeriodically(t *testing.T) {
	keeper := &recordingKeeper{clicks: map[string]int64{}}
	counter := New(keeper, 16, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	counter.Run(ctx)

	counter.Count("abc")
	counter.Count("abc")
	counter.Count("def")

	assert.Eventually(t, func() bool {
		return keeper.get("abc") == 2 && keeper.get("def") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClicksAreFlushedOnShutdown(t *testing.T) {
	keeper := &recordingKeeper{clicks: map[string]int64{}}
	counter := New(keeper, 16, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	counter.Run(ctx)

	for i := 0; i < 5; i++ {
		counter.Count("abc")
	}
	cancel()

	select {
	case <-counter.Done():
	case <-time.After(time.Second):
		t.Fatal("click counter did not stop")
	}

	assert.Equal(t, int64(5), keeper.get("abc"))
}

func TestCountNeverBlocks(t *testing.T) {
	keeper := &recordingKeeper{clicks: map[string]int64{}}
	counter := New(keeper, 1, time.Hour)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			counter.Count("abc")
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Count blocked on a full queue")
	}
}

func TestFlushErrorsAreReported(t *testing.T) {
	keeper := &recordingKeeper{clicks: map[string]int64{}, err: assert.AnError}
	counter := New(keeper, 16, 10*time.Millisecond)

	errs := make(chan error, 1)
	counter.ListenErrors(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	counter.Run(ctx)
	counter.Count("abc")

	select {
	case err := <-errs:
		require.ErrorIs(t, err, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("flush error was not reported")
	}
}
