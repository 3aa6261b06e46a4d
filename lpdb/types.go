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

package lpdb

// ObjectMeta describes one log object discovered by a source connector.
// Identity is (Bucket, ObjectKey). ID is assigned by durable persistence
// when the object row is inserted; it is nil for buffered items that have
// not been persisted yet.
type ObjectMeta struct {
	Bucket    string
	ObjectKey string
	FileSize  int64
	ID        *int64
}

// SizeBytes reports the object size for buffer accounting.
func (o ObjectMeta) SizeBytes() int64 {
	return o.FileSize
}

// IOTemplate is the serialized IO configuration stored on each compression
// job row (the clp_config column). InputKeys is filled per submission from
// the batch being handed off; the remaining fields are fixed per ingestion
// job.
type IOTemplate struct {
	InputType    string   `json:"input_type"`
	Region       string   `json:"region,omitempty"`
	EndpointURL  string   `json:"endpoint_url,omitempty"`
	Bucket       string   `json:"bucket"`
	Dataset      string   `json:"dataset,omitempty"`
	TimestampKey string   `json:"timestamp_key,omitempty"`
	Unstructured bool     `json:"unstructured"`
	Tags         []string `json:"tags,omitempty"`
	InputKeys    []string `json:"input_keys"`
}

// WithInputKeys returns a copy of the template with InputKeys replaced.
func (t IOTemplate) WithInputKeys(keys []string) IOTemplate {
	out := t
	out.InputKeys = keys
	return out
}
