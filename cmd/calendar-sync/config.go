// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/lease"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/queue"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/service"
)

// envPrefix is prepended to every environment override, e.g.
// CALSYNC_SYNC_WINDOW_DAYS for sync.window_days.
const envPrefix = "CALSYNC"

// Config is the full service configuration.
type Config struct {
	Port      string `mapstructure:"port"`
	Bind      string `mapstructure:"bind"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`

	NATS          natsConfig          `mapstructure:"nats"`
	Redis         redisConfig         `mapstructure:"redis"`
	Sync          syncConfig          `mapstructure:"sync"`
	Availability  availabilityConfig  `mapstructure:"availability"`
	ICS           icsConfig           `mapstructure:"ics"`
	Google        googleConfig        `mapstructure:"google"`
	Webhook       webhookConfig       `mapstructure:"webhook"`
	Notifications notificationsConfig `mapstructure:"notifications"`
}

type natsConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// redisConfig is shared by the account lease and the notification queue. An
// empty Addr runs both in process.
type redisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type syncConfig struct {
	WindowDays     int           `mapstructure:"window_days"`
	HorizonDays    int           `mapstructure:"horizon_days"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	AttendeePolicy string        `mapstructure:"attendee_policy"`
	PeriodicCron   string        `mapstructure:"periodic_cron"`
	CompletionCron string        `mapstructure:"completion_cron"`
	CalendarFanOut int           `mapstructure:"calendar_fanout"`
}

type availabilityConfig struct {
	SafeSpanDays int `mapstructure:"safe_span_days"`
	FanOut       int `mapstructure:"fanout"`
}

type icsConfig struct {
	UIDDomain string `mapstructure:"uid_domain"`
}

type googleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type webhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type notificationsConfig struct {
	Queue string `mapstructure:"queue"`
}

// newViper returns a viper instance with every key defaulted and bound to
// its CALSYNC_ environment variable.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("bind", "*")
	v.SetDefault("workers", service.DefaultDispatcherWorkers)
	v.SetDefault("queue_size", service.DefaultDispatcherQueueSize)

	v.SetDefault("nats.url", nats.DefaultURL)
	v.SetDefault("nats.timeout", 10*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lease_ttl", lease.DefaultTTL)

	v.SetDefault("sync.window_days", service.DefaultSyncWindowDays)
	v.SetDefault("sync.horizon_days", int(service.DefaultMaterializeHorizon/(24*time.Hour)))
	v.SetDefault("sync.call_timeout", provider.DefaultCallTimeout)
	v.SetDefault("sync.max_retries", provider.DefaultMaxRetries)
	v.SetDefault("sync.attendee_policy", string(provider.AttendeePolicyRemote))
	v.SetDefault("sync.periodic_cron", service.DefaultPeriodicSyncSpec)
	v.SetDefault("sync.completion_cron", service.DefaultCompletionSpec)
	v.SetDefault("sync.calendar_fanout", service.DefaultCalendarFanOut)

	v.SetDefault("availability.safe_span_days", 0)
	v.SetDefault("availability.fanout", service.DefaultAvailabilityFanOut)

	v.SetDefault("ics.uid_domain", service.DefaultUIDDomain)

	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")

	v.SetDefault("webhook.secret", "")

	v.SetDefault("notifications.queue", queue.DefaultQueueName)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// loadConfig reads the optional config file and decodes the merged settings.
func loadConfig(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if c.Sync.WindowDays <= 0 {
		errs = append(errs, errors.New("sync.window_days must be positive"))
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, errors.New("sync.max_retries must not be negative"))
	}
	if c.Availability.SafeSpanDays < 0 {
		errs = append(errs, errors.New("availability.safe_span_days must not be negative"))
	}
	switch provider.AttendeePolicy(strings.ToLower(c.Sync.AttendeePolicy)) {
	case provider.AttendeePolicyLocal, provider.AttendeePolicyRemote:
	default:
		errs = append(errs, fmt.Errorf("sync.attendee_policy must be %q or %q", provider.AttendeePolicyLocal, provider.AttendeePolicyRemote))
	}
	return errors.Join(errs...)
}

// listenAddr is the HTTP listen address from port and bind.
func (c *Config) listenAddr() string {
	if c.Bind == "*" || c.Bind == "" {
		return ":" + c.Port
	}
	return c.Bind + ":" + c.Port
}

// retryConfig is the provider call policy shared by every service.
func (c *Config) retryConfig() provider.RetryConfig {
	retry := provider.DefaultRetryConfig()
	retry.CallTimeout = c.Sync.CallTimeout
	retry.MaxRetries = c.Sync.MaxRetries
	return retry
}

func (c *Config) safeSpan() time.Duration {
	return time.Duration(c.Availability.SafeSpanDays) * 24 * time.Hour
}
