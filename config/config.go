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

package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/archivehq/logpacker/internal/ingest"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Ingest ingest.Config `mapstructure:"ingest"`
	Jobs   JobsConfig    `mapstructure:"jobs"`
}

// JobsConfig declares the ingestion jobs created at startup.
type JobsConfig struct {
	Scanners []ingest.ScannerJobConfig `mapstructure:"scanners"`
	Queues   []ingest.QueueJobConfig   `mapstructure:"queues"`
	Topics   []ingest.TopicJobConfig   `mapstructure:"topics"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "LOGPACKER" and the dot character
// in keys is replaced by an underscore. For example,
// "ingest.flush_threshold_bytes" becomes "LOGPACKER_INGEST_FLUSH_THRESHOLD_BYTES".
func Load() (*Config, error) {
	cfg := &Config{
		Ingest: ingest.DefaultConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LOGPACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
