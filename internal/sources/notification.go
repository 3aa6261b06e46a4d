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

// Package sources implements the ingestion job connectors: an object-store
// scanner, a queue-notification listener, and a log-topic listener. Each
// runs as a background task pushing discovered objects into a listener
// channel until cancelled.
package sources

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/archivehq/logpacker/lpdb"
)

// objectCreatedPrefix matches S3-style event names such as
// "ObjectCreated:Put" and "ObjectCreated:CompleteMultipartUpload".
const objectCreatedPrefix = "ObjectCreated:"

// Filter decides which notification records belong to a job's configured
// source range.
type Filter struct {
	Bucket    string
	KeyPrefix string
}

// Relevant reports whether a record denotes the creation of a real object
// inside the job's bucket and key prefix. Keys ending in the pseudo-
// directory separator are never relevant.
func (f Filter) Relevant(eventName, bucket, key string) bool {
	if !strings.HasPrefix(eventName, objectCreatedPrefix) {
		return false
	}
	if bucket != f.Bucket {
		return false
	}
	if strings.HasSuffix(key, "/") {
		return false
	}
	return strings.HasPrefix(key, f.KeyPrefix)
}

// ParseNotification parses an object-store event notification body and
// returns the records matching the filter. A body that is not a
// well-formed event is an error; the caller logs and skips it.
func ParseNotification(raw []byte, filter Filter) ([]lpdb.ObjectMeta, error) {
	var evt struct {
		Records []struct {
			EventName string `json:"eventName"`
			S3        struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key  string `json:"key"`
					Size int64  `json:"size"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}

	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse object-store event: %w", err)
	}
	if len(evt.Records) == 0 {
		return nil, fmt.Errorf("object-store event has no records")
	}

	out := make([]lpdb.ObjectMeta, 0, len(evt.Records))
	for _, rec := range evt.Records {
		// S3 event keys arrive URL-encoded.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to unescape key %q: %w", rec.S3.Object.Key, err)
		}
		if !filter.Relevant(rec.EventName, rec.S3.Bucket.Name, key) {
			continue
		}
		out = append(out, lpdb.ObjectMeta{
			Bucket:    rec.S3.Bucket.Name,
			ObjectKey: key,
			FileSize:  rec.S3.Object.Size,
		})
	}
	return out, nil
}
