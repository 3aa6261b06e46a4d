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

package sources

import (
	"context"
	"sync"
	"time"

	"github.com/archivehq/logpacker/internal/buffer"
	"github.com/archivehq/logpacker/lpdb"
)

// fakeState records lifecycle calls and passes objects through.
type fakeState struct {
	mu       sync.Mutex
	started  bool
	ended    bool
	failMsgs []string
	startErr error
}

func (s *fakeState) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeState) End(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return nil
}

func (s *fakeState) Fail(_ context.Context, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failMsgs = append(s.failMsgs, msg)
}

func (s *fakeState) Ingest(_ context.Context, objects []lpdb.ObjectMeta) ([]lpdb.ObjectMeta, error) {
	return objects, nil
}

func (s *fakeState) failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failMsgs...)
}

// capture collects every object a connector pushes through a real
// listener. The one-byte threshold makes each batch flush immediately.
type capture struct {
	mu       sync.Mutex
	objects  []lpdb.ObjectMeta
	listener *buffer.Listener[lpdb.ObjectMeta]
}

func newCapture() *capture {
	c := &capture{}
	buf := buffer.New(1, func(_ context.Context, batch []lpdb.ObjectMeta) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.objects = append(c.objects, batch...)
		return nil
	})
	c.listener = buffer.Spawn(buf, time.Hour, 16)
	return c
}

func (c *capture) sender() buffer.Sender[lpdb.ObjectMeta] {
	return c.listener.NewSender()
}

func (c *capture) seen() []lpdb.ObjectMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]lpdb.ObjectMeta(nil), c.objects...)
}

func (c *capture) close(ctx context.Context) error {
	return c.listener.Close(ctx)
}
