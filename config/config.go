// Copyright (C) 2025-2026 SolsticeHQ, Inc
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
	"time"

	"github.com/spf13/viper"

	"github.com/solsticehq/sunrunner/internal/cluster"
)

// Config aggregates configuration for the application. Each section is owned
// by its respective package.
type Config struct {
	OpenSearch cluster.Config `mapstructure:"opensearch"`
	Archival   ArchivalConfig `mapstructure:"archival"`
	Notify     NotifyConfig   `mapstructure:"notify"`
	Sweep      SweepConfig    `mapstructure:"sweep"`
	Queue      QueueConfig    `mapstructure:"queue"`
}

// ArchivalConfig tunes candidate discovery and migration pacing.
type ArchivalConfig struct {
	// ThresholdGB is the index size at which archival kicks in.
	ThresholdGB float64 `mapstructure:"threshold_gb"`
	// PollInterval is the pause between reindex task probes.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MaxWait bounds one index's whole migration during a sweep.
	MaxWait time.Duration `mapstructure:"max_wait"`
	// Concurrency caps how many indexes a sweep migrates at once.
	Concurrency int `mapstructure:"concurrency"`
}

// NotifyConfig selects where alerts and completion notices go. An empty
// TopicARN routes them to the log stream instead.
type NotifyConfig struct {
	TopicARN string `mapstructure:"topic_arn"`
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`
	// DedupTTL suppresses repeat large-index alerts for the same index.
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// SweepConfig schedules the recurring scan.
type SweepConfig struct {
	// Schedule is a six-field cron expression, seconds first.
	Schedule string `mapstructure:"schedule"`
	// RunOnStart fires one sweep immediately at service startup.
	RunOnStart bool `mapstructure:"run_on_start"`
}

// QueueConfig points the step runner at its SQS queue.
type QueueConfig struct {
	URL     string `mapstructure:"url"`
	Region  string `mapstructure:"region"`
	RoleARN string `mapstructure:"role_arn"`
	// WaitTime is the receive long-poll window in seconds.
	WaitTime int32 `mapstructure:"wait_time"`
	// MaxMessages is the receive batch size.
	MaxMessages int32 `mapstructure:"max_messages"`
	// VisibilityTimeout overrides the queue's own redelivery window for
	// received messages, in seconds. Zero keeps the queue default.
	VisibilityTimeout int32 `mapstructure:"visibility_timeout"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "SUNRUNNER" and the dot character in
// keys is replaced by an underscore. For example, "opensearch.endpoint"
// becomes "SUNRUNNER_OPENSEARCH_ENDPOINT".
func Load() (*Config, error) {
	cfg := &Config{
		OpenSearch: *cluster.DefaultConfig(),
		Archival: ArchivalConfig{
			ThresholdGB:  30,
			PollInterval: 150 * time.Second,
			MaxWait:      12 * time.Hour,
			Concurrency:  4,
		},
		Notify: NotifyConfig{
			DedupTTL: 20 * time.Hour,
		},
		Sweep: SweepConfig{
			Schedule: "0 30 5 * * *",
		},
		Queue: QueueConfig{
			WaitTime:    20,
			MaxMessages: 10,
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("SUNRUNNER")
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
