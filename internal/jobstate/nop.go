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

package jobstate

import (
	"context"

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/lpdb"
)

// NopFactory builds non-durable pass-through states. Nothing is persisted
// and no object ids are assigned; batches flow through unchanged.
type NopFactory struct{}

func NewNopFactory() NopFactory {
	return NopFactory{}
}

func (NopFactory) Register(context.Context, uuid.UUID, string, []byte) error {
	return nil
}

func (NopFactory) NewScannerState(uuid.UUID) State {
	return nopState{}
}

func (NopFactory) NewQueueState(uuid.UUID) State {
	return nopState{}
}

func (NopFactory) ScannerCursor(context.Context, uuid.UUID) (string, error) {
	return "", nil
}

type nopState struct{}

func (nopState) Start(context.Context) error       { return nil }
func (nopState) End(context.Context) error         { return nil }
func (nopState) Fail(context.Context, string)      {}
func (nopState) Ingest(_ context.Context, objects []lpdb.ObjectMeta) ([]lpdb.ObjectMeta, error) {
	return objects, nil
}
