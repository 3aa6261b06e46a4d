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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivehq/logpacker/lpdb"
)

func TestFilterRelevant(t *testing.T) {
	f := Filter{Bucket: "logs-bucket", KeyPrefix: "app/"}

	tests := []struct {
		name      string
		eventName string
		bucket    string
		key       string
		want      bool
	}{
		{"created put in range", "ObjectCreated:Put", "logs-bucket", "app/2025/08/30.log", true},
		{"created multipart in range", "ObjectCreated:CompleteMultipartUpload", "logs-bucket", "app/x.log", true},
		{"removal event", "ObjectRemoved:Delete", "logs-bucket", "app/x.log", false},
		{"wrong bucket", "ObjectCreated:Put", "other-bucket", "app/x.log", false},
		{"outside prefix", "ObjectCreated:Put", "logs-bucket", "metrics/x.log", false},
		{"pseudo directory", "ObjectCreated:Put", "logs-bucket", "app/2025/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Relevant(tt.eventName, tt.bucket, tt.key))
		})
	}
}

func TestParseNotification(t *testing.T) {
	filter := Filter{Bucket: "logs-bucket", KeyPrefix: "app/"}

	body := `{
		"Records": [
			{
				"eventName": "ObjectCreated:Put",
				"s3": {
					"bucket": {"name": "logs-bucket"},
					"object": {"key": "app/2025/08/30+12%3A00.log", "size": 2048}
				}
			},
			{
				"eventName": "ObjectCreated:Put",
				"s3": {
					"bucket": {"name": "logs-bucket"},
					"object": {"key": "metrics/ignored.log", "size": 10}
				}
			},
			{
				"eventName": "ObjectRemoved:Delete",
				"s3": {
					"bucket": {"name": "logs-bucket"},
					"object": {"key": "app/gone.log", "size": 0}
				}
			}
		]
	}`

	objects, err := ParseNotification([]byte(body), filter)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, lpdb.ObjectMeta{
		Bucket:    "logs-bucket",
		ObjectKey: "app/2025/08/30 12:00.log",
		FileSize:  2048,
	}, objects[0])
}

func TestParseNotificationAllFiltered(t *testing.T) {
	filter := Filter{Bucket: "logs-bucket", KeyPrefix: "app/"}
	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"other"},"object":{"key":"app/a.log","size":1}}}]}`

	objects, err := ParseNotification([]byte(body), filter)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestParseNotificationMalformed(t *testing.T) {
	filter := Filter{Bucket: "b", KeyPrefix: ""}

	_, err := ParseNotification([]byte("not json"), filter)
	require.Error(t, err)

	_, err = ParseNotification([]byte(`{"Records":[]}`), filter)
	require.Error(t, err)

	_, err = ParseNotification([]byte(`{"something":"else"}`), filter)
	require.Error(t, err)
}
