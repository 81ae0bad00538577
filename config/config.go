/*
Copyright 2024 Blnk Finance Authors.

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
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	DEFAULT_POLL_INTERVAL_MS       = 5000
	DEFAULT_BATCH_SIZE             = 50
	DEFAULT_MAX_ATTEMPTS           = 5
	DEFAULT_BACKOFF_MS             = 30000
	DEFAULT_REQUEST_TIMEOUT_SEC    = 10
	DEFAULT_LEASE_TIMEOUT_MS       = 60000
	DEFAULT_IDEMPOTENCY_TTL_SEC    = 86400
	DEFAULT_RATE_LIMIT_CLEANUP_SEC = 10800
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"MAINTFLOW_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"MAINTFLOW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"MAINTFLOW_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"MAINTFLOW_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"MAINTFLOW_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"MAINTFLOW_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"MAINTFLOW_DATA_SOURCE_DNS"`
}

// RedisConfig is optional. When Dns is empty the dispatcher runs without a
// cross-instance lease and the receiver skips the marker cache.
type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"MAINTFLOW_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"MAINTFLOW_REDIS_SKIP_TLS_VERIFY"`
}

// ApprovalConfig drives the outbox dispatcher and the webhook receiver.
type ApprovalConfig struct {
	PollIntervalMs         int    `json:"poll_interval_ms" envconfig:"MAINTFLOW_APPROVAL_POLL_INTERVAL_MS"`
	BatchSize              int    `json:"batch_size" envconfig:"MAINTFLOW_APPROVAL_BATCH_SIZE"`
	MaxAttempts            int    `json:"max_attempts" envconfig:"MAINTFLOW_APPROVAL_MAX_ATTEMPTS"`
	BackoffMs              int    `json:"backoff_ms" envconfig:"MAINTFLOW_APPROVAL_BACKOFF_MS"`
	HmacSecret             string `json:"hmac_secret" envconfig:"MAINTFLOW_APPROVAL_HMAC_SECRET"`
	CallbackBaseUrl        string `json:"callback_base_url" envconfig:"MAINTFLOW_APPROVAL_CALLBACK_BASE_URL"`
	RequestTimeoutSec      int    `json:"request_timeout_sec" envconfig:"MAINTFLOW_APPROVAL_REQUEST_TIMEOUT_SEC"`
	LeaseTimeoutMs         int    `json:"lease_timeout_ms" envconfig:"MAINTFLOW_APPROVAL_LEASE_TIMEOUT_MS"`
	IdempotencyCacheTTLSec int    `json:"idempotency_cache_ttl_sec" envconfig:"MAINTFLOW_APPROVAL_IDEMPOTENCY_CACHE_TTL_SEC"`
}

func (a ApprovalConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

func (a ApprovalConfig) Backoff() time.Duration {
	return time.Duration(a.BackoffMs) * time.Millisecond
}

func (a ApprovalConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutSec) * time.Second
}

func (a ApprovalConfig) LeaseTimeout() time.Duration {
	return time.Duration(a.LeaseTimeoutMs) * time.Millisecond
}

func (a ApprovalConfig) IdempotencyCacheTTL() time.Duration {
	return time.Duration(a.IdempotencyCacheTTLSec) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"MAINTFLOW_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"MAINTFLOW_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"MAINTFLOW_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"MAINTFLOW_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"MAINTFLOW_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"MAINTFLOW_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Approval        ApprovalConfig   `json:"approval"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
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

	// environment wins over the json file
	err = envconfig.Process("maintflow", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called maintflow.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Maintflow"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Approval.HmacSecret == "" {
		log.Println("Error: Approval HMAC secret is empty. It's a required field.")
		return errors.New("approval hmac secret is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Approval.CallbackBaseUrl = strings.TrimSpace(cnf.Approval.CallbackBaseUrl)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Approval.addDefaults()

	// rate limiting stays off unless one of rps/burst is set
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
		defaultCleanup := DEFAULT_RATE_LIMIT_CLEANUP_SEC
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (a *ApprovalConfig) addDefaults() {
	if a.PollIntervalMs <= 0 {
		a.PollIntervalMs = DEFAULT_POLL_INTERVAL_MS
	}
	if a.BatchSize <= 0 {
		a.BatchSize = DEFAULT_BATCH_SIZE
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = DEFAULT_MAX_ATTEMPTS
	}
	if a.BackoffMs <= 0 {
		a.BackoffMs = DEFAULT_BACKOFF_MS
	}
	if a.RequestTimeoutSec <= 0 {
		a.RequestTimeoutSec = DEFAULT_REQUEST_TIMEOUT_SEC
	}
	if a.LeaseTimeoutMs <= 0 {
		a.LeaseTimeoutMs = DEFAULT_LEASE_TIMEOUT_MS
	}
	if a.IdempotencyCacheTTLSec <= 0 {
		a.IdempotencyCacheTTLSec = DEFAULT_IDEMPOTENCY_TTL_SEC
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
