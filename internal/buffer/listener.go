// Copyright (C) 2025 ArchiveHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrChannelClosed is surfaced when the listener's input channel closes
// before shutdown was requested. Producers never close the channel
// themselves, so this indicates a defect.
var ErrChannelClosed = errors.New("listener channel closed unexpectedly")

// Listener multiplexes batches from many producers into one Buffer,
// flushing on the buffer's size threshold, on an idle timeout, or on
// shutdown. A single goroutine drives the buffer, so the buffer itself
// needs no locking.
type Listener[T Item] struct {
	buf         *Buffer[T]
	ch          chan []T
	idleTimeout time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
	err         error
}

// Spawn starts the listener goroutine.
func Spawn[T Item](buf *Buffer[T], idleTimeout time.Duration, channelCapacity int) *Listener[T] {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener[T]{
		buf:         buf,
		ch:          make(chan []T, channelCapacity),
		idleTimeout: idleTimeout,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

// Sender is a cloneable handle for pushing batches into a listener. Sends
// from one sender preserve relative order; interleavings across senders
// are unspecified.
type Sender[T Item] struct {
	ch chan<- []T
}

// Send delivers one batch, blocking until the listener accepts it or ctx
// is cancelled.
func (s Sender[T]) Send(ctx context.Context, batch []T) error {
	select {
	case s.ch <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewSender returns a handle into the listener's channel. Handles are
// values and may be copied freely.
func (l *Listener[T]) NewSender() Sender[T] {
	return Sender[T]{ch: l.ch}
}

func (l *Listener[T]) run(ctx context.Context) {
	defer close(l.done)

	timer := time.NewTimer(l.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush runs on a fresh context: the listener context
			// is already cancelled and must not abort the flush.
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			l.drain(flushCtx)
			l.err = l.buf.Flush(flushCtx)
			cancel()
			return

		case batch, ok := <-l.ch:
			if !ok {
				flushErr := l.buf.Flush(ctx)
				l.err = errors.Join(ErrChannelClosed, flushErr)
				return
			}
			for _, item := range batch {
				if err := l.buf.Add(ctx, item); err != nil {
					// The batch stays buffered; the next threshold or
					// idle flush retries it.
					slog.Error("Buffer flush failed, will retry", slog.Any("error", err))
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.idleTimeout)

		case <-timer.C:
			if err := l.buf.Flush(ctx); err != nil {
				slog.Error("Idle flush failed, will retry", slog.Any("error", err))
			}
			timer.Reset(l.idleTimeout)
		}
	}
}

// drain moves batches already accepted into the channel over to the
// buffer, so the final flush includes everything producers sent before
// shutdown was requested.
func (l *Listener[T]) drain(ctx context.Context) {
	for {
		select {
		case batch, ok := <-l.ch:
			if !ok {
				return
			}
			for _, item := range batch {
				if err := l.buf.Add(ctx, item); err != nil {
					slog.Error("Buffer flush failed during shutdown drain", slog.Any("error", err))
				}
			}
		default:
			return
		}
	}
}

// Close signals shutdown and waits for the listener goroutine to finish,
// surfacing any error from the final flush or an unexpected channel
// closure.
func (l *Listener[T]) Close(ctx context.Context) error {
	l.cancel()
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for listener shutdown: %w", ctx.Err())
	}
}
