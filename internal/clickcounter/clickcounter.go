// Package clickcounter batches redirect clicks in memory and periodically adds
// them to the clicks column of the urls table.
package clickcounter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tokenshrt/internal/logger"
	"github.com/patric-chuzhbe/tokenshrt/internal/metrics"
)

type clicksKeeper interface {
	AddClicks(ctx context.Context, clicks map[string]int64) error
}

// ClickCounter accepts clicks from request goroutines and flushes them from a
// single background goroutine.
type ClickCounter struct {
	queue         chan string
	db            clicksKeeper
	flushInterval time.Duration
	flushTimeout  time.Duration
	errorChannel  chan error
	done          chan struct{}
}

func New(
	db clicksKeeper,
	channelCapacity int,
	flushInterval time.Duration,
) *ClickCounter {
	return &ClickCounter{
		db:            db,
		queue:         make(chan string, channelCapacity),
		flushInterval: flushInterval,
		flushTimeout:  5 * time.Second,
		errorChannel:  make(chan error, channelCapacity),
		done:          make(chan struct{}),
	}
}

// Count registers one click on short. It never blocks: when the queue is full
// the click is dropped.
func (c *ClickCounter) Count(short string) {
	select {
	case c.queue <- short:
	default:
		metrics.ClicksDropped.Inc()
	}
}

// ListenErrors hands flush errors to callback on a separate goroutine.
func (c *ClickCounter) ListenErrors(callback func(error)) {
	go func() {
		for err := range c.errorChannel {
			callback(err)
		}
	}()
}

// Run starts the flushing loop. When ctx is cancelled the queue is drained,
// flushed one last time and Done is closed.
func (c *ClickCounter) Run(ctx context.Context) {
	go func() {
		defer close(c.done)
		defer close(c.errorChannel)

		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		pending := map[string]int64{}

		for {
			select {
			case short := <-c.queue:
				pending[short]++
			case <-ticker.C:
				pending = c.flush(pending)
			case <-ctx.Done():
				c.drain(pending)
				c.flush(pending)
				return
			}
		}
	}()
}

// Done is closed after the final flush.
func (c *ClickCounter) Done() <-chan struct{} {
	return c.done
}

func (c *ClickCounter) drain(pending map[string]int64) {
	for {
		select {
		case short := <-c.queue:
			pending[short]++
		default:
			return
		}
	}
}

// flush writes pending and returns the map to accumulate into next. A failed
// batch is reported and discarded.
func (c *ClickCounter) flush(pending map[string]int64) map[string]int64 {
	if len(pending) == 0 {
		return pending
	}

	var total int64
	for _, n := range pending {
		total += n
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()

	if err := c.db.AddClicks(ctx, pending); err != nil {
		metrics.ClicksDropped.Add(float64(total))
		select {
		case c.errorChannel <- err:
		default:
			logger.Log.Errorw("click flush failed", zap.Error(err))
		}
		return map[string]int64{}
	}

	metrics.ClicksFlushed.Add(float64(total))
	logger.Log.Debugf("flushed %d clicks over %d short URLs", total, len(pending))

	return map[string]int64{}
}
