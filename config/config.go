/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT                 = "5001"
	DEFAULT_MONITORING_PORT      = "5004"
	DEFAULT_POLL_INTERVAL_MS     = 1000
	DEFAULT_HTTP_TIMEOUT_SEC     = 10
	DEFAULT_RETENTION_HOURS      = 24 * 7
	DEFAULT_SWEEP_INTERVAL       = "@every 1h"
	DEFAULT_IDENTITY_CACHE_SEC   = 600
	DEFAULT_NOTIFICATION_QUEUE   = "notifications"
	DEFAULT_WEBHOOK_QUEUE        = "webhooks"
	DEFAULT_HISTORY_QUEUE        = "history"
	DEFAULT_MAINTENANCE_QUEUE    = "maintenance"
	DEFAULT_WORKER_CONCURRENCY   = 4
	DEFAULT_RELAY_DAMUS          = "wss://relay.damus.io"
	DEFAULT_RELAY_NOSTR_BAND     = "wss://relay.nostr.band"
	DEFAULT_SECRET_KEY_HEADER    = "X-SatsQueue-Key"
	DEFAULT_PROJECT_NAME         = "SatsQueue"
	DEFAULT_RATE_LIMIT_CLEANUP_S = 10800
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SATSQUEUE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SATSQUEUE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SATSQUEUE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SATSQUEUE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SATSQUEUE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SATSQUEUE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SATSQUEUE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SATSQUEUE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SATSQUEUE_REDIS_SKIP_TLS_VERIFY"`
}

type LightningConfig struct {
	HTTPTimeoutSec int `json:"http_timeout_sec" envconfig:"SATSQUEUE_LIGHTNING_HTTP_TIMEOUT_SEC"`
}

type NostrConfig struct {
	PrivateKey       string   `json:"private_key" envconfig:"SATSQUEUE_NOSTR_PRIVATE_KEY"`
	Relays           []string `json:"relays" envconfig:"SATSQUEUE_NOSTR_RELAYS"`
	IdentityCacheSec int      `json:"identity_cache_sec" envconfig:"SATSQUEUE_NOSTR_IDENTITY_CACHE_SEC"`
}

type BoostConfig struct {
	PollIntervalMs  int `json:"poll_interval_ms" envconfig:"SATSQUEUE_BOOST_POLL_INTERVAL_MS"`
	AwaitTimeoutSec int `json:"await_timeout_sec" envconfig:"SATSQUEUE_BOOST_AWAIT_TIMEOUT_SEC"`
}

type QueueConfig struct {
	NotificationQueue     string `json:"notification_queue" envconfig:"SATSQUEUE_QUEUE_NOTIFICATION"`
	WebhookQueue          string `json:"webhook_queue" envconfig:"SATSQUEUE_QUEUE_WEBHOOK"`
	HistoryQueue          string `json:"history_queue" envconfig:"SATSQUEUE_QUEUE_HISTORY"`
	MaintenanceQueue      string `json:"maintenance_queue" envconfig:"SATSQUEUE_QUEUE_MAINTENANCE"`
	MonitoringPort        string `json:"monitoring_port" envconfig:"SATSQUEUE_QUEUE_MONITORING_PORT"`
	WorkerConcurrency     int    `json:"worker_concurrency" envconfig:"SATSQUEUE_QUEUE_WORKER_CONCURRENCY"`
	ArchiveRetentionHours int    `json:"archive_retention_hours" envconfig:"SATSQUEUE_QUEUE_ARCHIVE_RETENTION_HOURS"`
	SweepInterval         string `json:"sweep_interval" envconfig:"SATSQUEUE_QUEUE_SWEEP_INTERVAL"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SATSQUEUE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SATSQUEUE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SATSQUEUE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"SATSQUEUE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"SATSQUEUE_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"SATSQUEUE_PROJECT_NAME"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Lightning       LightningConfig  `json:"lightning"`
	Nostr           NostrConfig      `json:"nostr"`
	Boost           BoostConfig      `json:"boost"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"SATSQUEUE_ENABLE_TELEMETRY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("satsqueue", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called satsqueue.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = DEFAULT_PROJECT_NAME
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.DataSource.Dns == "" {
		log.Println("Warning: Data source DNS is empty. Served history will not be persisted.")
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Server.Secure && cnf.Server.SecretKey == "" {
		return errors.New("server.secret_key is required when server.secure is enabled")
	}

	if cnf.Lightning.HTTPTimeoutSec <= 0 {
		cnf.Lightning.HTTPTimeoutSec = DEFAULT_HTTP_TIMEOUT_SEC
	}

	if len(cnf.Nostr.Relays) == 0 {
		cnf.Nostr.Relays = []string{DEFAULT_RELAY_DAMUS, DEFAULT_RELAY_NOSTR_BAND}
	}
	if cnf.Nostr.IdentityCacheSec <= 0 {
		cnf.Nostr.IdentityCacheSec = DEFAULT_IDENTITY_CACHE_SEC
	}

	if cnf.Boost.PollIntervalMs <= 0 {
		cnf.Boost.PollIntervalMs = DEFAULT_POLL_INTERVAL_MS
	}
	if cnf.Boost.AwaitTimeoutSec < 0 {
		cnf.Boost.AwaitTimeoutSec = 0
	}

	cnf.Queue.setDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := DEFAULT_RATE_LIMIT_CLEANUP_S
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) setDefaults() {
	if q.NotificationQueue == "" {
		q.NotificationQueue = DEFAULT_NOTIFICATION_QUEUE
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if q.HistoryQueue == "" {
		q.HistoryQueue = DEFAULT_HISTORY_QUEUE
	}
	if q.MaintenanceQueue == "" {
		q.MaintenanceQueue = DEFAULT_MAINTENANCE_QUEUE
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if q.WorkerConcurrency <= 0 {
		q.WorkerConcurrency = DEFAULT_WORKER_CONCURRENCY
	}
	if q.ArchiveRetentionHours <= 0 {
		q.ArchiveRetentionHours = DEFAULT_RETENTION_HOURS
	}
	if q.SweepInterval == "" {
		q.SweepInterval = DEFAULT_SWEEP_INTERVAL
	}
}

// MockConfig sets a mock configuration for testing purposes.
// Defaults are applied so tests only need to set what they care about.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Redis.Dns == "" {
		mockConfig.Redis.Dns = "localhost:6379"
	}
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
