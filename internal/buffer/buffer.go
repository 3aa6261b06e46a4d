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

// Package buffer accumulates sized items into batches and hands each batch
// to a submitter when a byte threshold or idle timeout is reached.
package buffer

import "context"

// Item is anything with a byte size the buffer can account against its
// flush threshold.
type Item interface {
	SizeBytes() int64
}

// SubmitFunc receives a full batch on flush. A non-nil error leaves the
// batch in the buffer so the flush can be retried.
type SubmitFunc[T Item] func(ctx context.Context, batch []T) error

// Buffer accumulates items and a running byte total. It has no locking of
// its own; a Listener owns one and drives it from a single goroutine.
type Buffer[T Item] struct {
	threshold int64
	total     int64
	items     []T
	submit    SubmitFunc[T]
}

// New creates a buffer that flushes once the accumulated item sizes reach
// threshold bytes.
func New[T Item](threshold int64, submit SubmitFunc[T]) *Buffer[T] {
	return &Buffer[T]{
		threshold: threshold,
		submit:    submit,
	}
}

// Add appends an item and flushes synchronously if the running total has
// reached the threshold.
func (b *Buffer[T]) Add(ctx context.Context, item T) error {
	b.items = append(b.items, item)
	b.total += item.SizeBytes()
	if b.total >= b.threshold {
		return b.Flush(ctx)
	}
	return nil
}

// Flush submits the current batch, if any. The submitter is awaited before
// the batch is cleared: on submit failure the buffer keeps its contents so
// the caller can retry without losing items.
func (b *Buffer[T]) Flush(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}
	if err := b.submit(ctx, b.items); err != nil {
		return err
	}
	b.items = nil
	b.total = 0
	return nil
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	return len(b.items)
}
