package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("persistence buffer closed")

// Store is the durable side of the buffer.
type Store interface {
	InsertDirectMessages(ctx context.Context, msgs []models.DirectChatMessage) error
	Ping(ctx context.Context) error
}

type Config struct {
	QueueSize     int
	FlushInterval time.Duration
	MaxBuffered   int
	WriteTimeout  time.Duration
}

type Stats struct {
	Accepted  int64 // direct chat records appended
	Unhandled int64 // responses of other kinds, discarded
	Dropped   int64 // oldest records evicted at MaxBuffered
	Flushes   int64
	Inserted  int64
	Lost      int64 // records drained by a failed insert
	Skipped   int64 // ticks skipped because the store was unreachable
}

// Buffer accumulates direct chat records and writes them in bulk on every
// flush tick. Intake and flush run as separate loops sharing pending under mu.
type Buffer struct {
	cfg   Config
	store Store
	log   zerolog.Logger

	input chan models.Response
	done  chan struct{}

	mu      sync.Mutex
	pending []models.DirectChatMessage
	stats   Stats
}

func NewBuffer(cfg Config, store Store) *Buffer {
	return &Buffer{
		cfg:   cfg,
		store: store,
		log:   logger.Component("persistence"),
		input: make(chan models.Response, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

// Enqueue hands a response to the intake loop, blocking while the queue is
// full until ctx is done.
func (b *Buffer) Enqueue(ctx context.Context, resp models.Response) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.input <- resp:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx is cancelled. Whatever is still queued or pending at
// that point is written by one final flush.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	b.log.Info().
		Dur("flush_interval", b.cfg.FlushInterval).
		Int("max_buffered", b.cfg.MaxBuffered).
		Msg("persistence buffer started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.flushLoop(ctx, ticker.C)
	}()

	b.intakeLoop(ctx)
	wg.Wait()
	close(b.done)

drain:
	for {
		select {
		case resp := <-b.input:
			b.accept(resp)
		default:
			break drain
		}
	}

	if err := b.Flush(context.WithoutCancel(ctx)); err != nil {
		b.log.Error().Err(err).Msg("final flush failed")
	}
	b.log.Info().Msg("persistence buffer stopped")
}

func (b *Buffer) intakeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-b.input:
			b.accept(resp)
		}
	}
}

func (b *Buffer) flushLoop(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := b.Flush(ctx); err != nil {
				b.log.Warn().Err(err).Msg("flush tick failed")
			}
		}
	}
}

func (b *Buffer) accept(resp models.Response) {
	switch r := resp.(type) {
	case models.DirectChatMessageResponse:
		b.mu.Lock()
		b.pending = append(b.pending, models.NewDirectChatMessage(r))
		b.stats.Accepted++
		if over := len(b.pending) - b.cfg.MaxBuffered; b.cfg.MaxBuffered > 0 && over > 0 {
			b.pending = append(b.pending[:0], b.pending[over:]...)
			b.stats.Dropped += int64(over)
		}
		b.mu.Unlock()
	default:
		b.mu.Lock()
		b.stats.Unhandled++
		b.mu.Unlock()
		b.log.Debug().
			Str("kind", string(resp.Kind())).
			Str("event_id", resp.EventID().String()).
			Msg("unhandled event kind, discarded")
	}
}

// Flush drains pending and writes it with a single bulk insert. When the store
// is unreachable the records stay pending for the next attempt; when the insert
// itself fails they are lost.
func (b *Buffer) Flush(ctx context.Context) error {
	if b.Len() == 0 {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
	err := b.store.Ping(pingCtx)
	cancel()
	if err != nil {
		b.mu.Lock()
		b.stats.Skipped++
		carried := len(b.pending)
		b.mu.Unlock()
		return fmt.Errorf("store unavailable, %d records carried over: %w", carried, err)
	}

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	// Take ownership of current batch
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	start := time.Now()
	writeCtx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
	defer cancel()

	if err := b.store.InsertDirectMessages(writeCtx, batch); err != nil {
		b.mu.Lock()
		b.stats.Lost += int64(len(batch))
		b.mu.Unlock()
		b.log.Error().Err(err).Int("count", len(batch)).Msg("bulk insert failed, records lost")
		return fmt.Errorf("bulk insert of %d records: %w", len(batch), err)
	}

	b.mu.Lock()
	b.stats.Flushes++
	b.stats.Inserted += int64(len(batch))
	b.mu.Unlock()

	b.log.Debug().
		Int("count", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("flushed direct messages")
	return nil
}

// Len reports the number of records waiting for the next flush.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
