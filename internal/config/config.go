package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultAPIListen     = ":8080"
	defaultHealthPath    = "/healthz"
	defaultReadyPath     = "/readyz"
	defaultMetricsListen = ":9090"
	defaultNATSURL       = "nats://127.0.0.1:4222"
	defaultAckWaitSec    = 30
	defaultNackDelayMS   = 1000
	defaultMaxDeliver    = 5
	defaultMaxAckPending = 1024
	defaultStorePath     = "monalert.db"

	defaultEscalationIntervalSec = 300
	defaultEscalationAgeSec      = 1800
	defaultEscalationMaxNotified = 3
	defaultRetryIntervalSec      = 120
	defaultRetryMaxRetries       = 3
	defaultRetryLookbackHours    = 24
	defaultPendingTimeoutSec     = 600

	defaultThresholdSubject  = "threshold-alert"
	defaultIntentSubject     = "alert-notification"
	defaultStatusSubject     = "alert-status-update"
	defaultEscalationSubject = "alert-escalation"
	defaultThresholdStream   = "THRESHOLD_ALERTS"
	defaultIntentStream      = "ALERT_NOTIFICATIONS"
	defaultOutboundStream    = "ALERT_UPDATES"
	defaultThresholdConsumer = "monalert-threshold"
	defaultIntentConsumer    = "monalert-intents"
	defaultDeliverGroup      = "monalert-workers"

	// ServiceModeNATS keeps bus-backed ingest and publishing enabled.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"

	// StoreDriverSQLite selects the durable SQLite backend.
	StoreDriverSQLite = "sqlite"
	// StoreDriverMemory selects the in-process backend for single mode and tests.
	StoreDriverMemory = "memory"

	// ChannelEmail identifies SMTP transport.
	ChannelEmail = "email"
	// ChannelSMS identifies SMS gateway transport.
	ChannelSMS = "sms"
	// ChannelWebhook identifies generic HTTP webhook transport.
	ChannelWebhook = "webhook"
	// ChannelChat identifies chat-bot transport.
	ChannelChat = "chat"
)

var notifyChannelOrder = []string{
	ChannelEmail,
	ChannelSMS,
	ChannelWebhook,
	ChannelChat,
}

// Config holds service runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	Log        LogConfig        `toml:"log"`
	Store      StoreConfig      `toml:"store"`
	Bus        BusConfig        `toml:"bus"`
	Consumer   ConsumerConfig   `toml:"consumer"`
	Notify     NotifyConfig     `toml:"notify"`
	Escalation EscalationConfig `toml:"escalation"`
	Retry      RetryConfig      `toml:"retry"`
	API        APIConfig        `toml:"api"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Asset      AssetConfig      `toml:"asset"`
}

// ServiceConfig contains process-level settings.
// Params: service name and runtime mode.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name string `toml:"name"`
	Mode string `toml:"mode"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// StoreConfig selects and configures the alert store backend.
// Params: driver name and SQLite database path.
// Returns: persistence options.
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

// BusConfig configures the NATS message bus connection.
// Params: URL list; subjects and stream names are runtime-fixed.
// Returns: bus connectivity options.
type BusConfig struct {
	URL []string `toml:"url"`

	ThresholdSubject  string `toml:"-"`
	IntentSubject     string `toml:"-"`
	StatusSubject     string `toml:"-"`
	EscalationSubject string `toml:"-"`
	ThresholdStream   string `toml:"-"`
	IntentStream      string `toml:"-"`
	OutboundStream    string `toml:"-"`
	ThresholdConsumer string `toml:"-"`
	IntentConsumer    string `toml:"-"`
	DeliverGroup      string `toml:"-"`
}

// ConsumerConfig tunes JetStream queue-consumer ack/redelivery policy.
// Params: ack wait, nack delay, and delivery limits.
// Returns: consumer runtime options shared by both inbound topics.
type ConsumerConfig struct {
	AckWaitSec    int `toml:"ack_wait_sec"`
	NackDelayMS   int `toml:"nack_delay_ms"`
	MaxDeliver    int `toml:"max_deliver"`
	MaxAckPending int `toml:"max_ack_pending"`
}

// NotifyConfig defines outbound notification behavior.
// Params: default channel selection and per-channel transport settings.
// Returns: notification controls.
type NotifyConfig struct {
	DefaultChannels []string        `toml:"default_channels"`
	Email           EmailNotifier   `toml:"email"`
	SMS             SMSNotifier     `toml:"sms"`
	Webhook         WebhookNotifier `toml:"webhook"`
	Chat            ChatNotifier    `toml:"chat"`
}

// EmailNotifier defines SMTP channel settings.
// Params: server endpoint, credentials, sender/recipient addresses, and templates.
// Returns: email sender configuration.
type EmailNotifier struct {
	Enabled         bool     `toml:"enabled"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Username        string   `toml:"username"`
	Password        string   `toml:"password"`
	From            string   `toml:"from"`
	Recipients      []string `toml:"recipients"`
	MinSeverity     string   `toml:"min_severity"`
	SubjectTemplate string   `toml:"subject_template"`
	BodyTemplate    string   `toml:"body_template"`
}

// SMSNotifier defines SMS gateway channel settings.
// Params: gateway endpoint, timeout, phone numbers, and message template.
// Returns: SMS sender configuration.
type SMSNotifier struct {
	Enabled      bool     `toml:"enabled"`
	GatewayURL   string   `toml:"gateway_url"`
	TimeoutSec   int      `toml:"timeout_sec"`
	Recipients   []string `toml:"recipients"`
	MinSeverity  string   `toml:"min_severity"`
	BodyTemplate string   `toml:"body_template"`
}

// WebhookNotifier defines generic outbound HTTP webhook settings.
// Params: endpoint list, method, static headers, and timeout.
// Returns: webhook sender configuration.
type WebhookNotifier struct {
	Enabled     bool              `toml:"enabled"`
	Endpoints   []string          `toml:"endpoints"`
	Method      string            `toml:"method"`
	Headers     map[string]string `toml:"headers"`
	TimeoutSec  int               `toml:"timeout_sec"`
	MinSeverity string            `toml:"min_severity"`
}

// ChatNotifier defines chat-bot channel settings.
// Params: bot token, chat ID, API base URL, and message template.
// Returns: chat sender configuration.
type ChatNotifier struct {
	Enabled      bool   `toml:"enabled"`
	BotToken     string `toml:"bot_token"`
	ChatID       string `toml:"chat_id"`
	APIBase      string `toml:"api_base"`
	MinSeverity  string `toml:"min_severity"`
	BodyTemplate string `toml:"body_template"`
}

// EscalationConfig tunes the periodic escalation sweep.
// Params: enable flag, scan interval, age threshold, and notification cap.
// Returns: escalation scheduler options.
type EscalationConfig struct {
	Enabled          bool `toml:"enabled"`
	IntervalSec      int  `toml:"interval_sec"`
	AgeSec           int  `toml:"age_sec"`
	MaxNotifications int  `toml:"max_notifications"`
}

// RetryConfig tunes failed-notification retry and startup reconciliation.
// Params: enable flag, scan interval, retry cap, lookback, and pending timeout.
// Returns: retry scheduler options.
type RetryConfig struct {
	Enabled           bool `toml:"enabled"`
	IntervalSec       int  `toml:"interval_sec"`
	MaxRetries        int  `toml:"max_retries"`
	LookbackHours     int  `toml:"lookback_hours"`
	PendingTimeoutSec int  `toml:"pending_timeout_sec"`
}

// APIConfig configures the HTTP admin surface.
// Params: listen address and health/readiness paths.
// Returns: API server options.
type APIConfig struct {
	Listen     string `toml:"listen"`
	HealthPath string `toml:"health_path"`
	ReadyPath  string `toml:"ready_path"`
}

// MetricsConfig configures the Prometheus endpoint.
// Params: enable flag and listen address.
// Returns: metrics server options.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// AssetConfig configures the asset metadata lookup service.
// Params: enable flag, base URL, and request timeout.
// Returns: enrichment provider options.
type AssetConfig struct {
	Enabled    bool   `toml:"enabled"`
	BaseURL    string `toml:"base_url"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NotifyChannelNames returns supported channel keys in deterministic order.
// Params: none.
// Returns: ordered channel name list.
func NotifyChannelNames() []string {
	return append([]string(nil), notifyChannelOrder...)
}

// ChannelEnabled reports whether one notification channel is enabled.
// Params: notify config snapshot and channel key.
// Returns: enabled flag, false for unknown channels.
func ChannelEnabled(cfg NotifyConfig, channel string) bool {
	switch channel {
	case ChannelEmail:
		return cfg.Email.Enabled
	case ChannelSMS:
		return cfg.SMS.Enabled
	case ChannelWebhook:
		return cfg.Webhook.Enabled
	case ChannelChat:
		return cfg.Chat.Enabled
	default:
		return false
	}
}

// ChannelRecipients returns configured recipients for one channel.
// Params: notify config snapshot and channel key.
// Returns: recipient list; webhook endpoints act as recipients.
func ChannelRecipients(cfg NotifyConfig, channel string) []string {
	switch channel {
	case ChannelEmail:
		return cfg.Email.Recipients
	case ChannelSMS:
		return cfg.SMS.Recipients
	case ChannelWebhook:
		return cfg.Webhook.Endpoints
	case ChannelChat:
		if strings.TrimSpace(cfg.Chat.ChatID) == "" {
			return nil
		}
		return []string{cfg.Chat.ChatID}
	default:
		return nil
	}
}

// ChannelMinSeverity returns configured minimum severity for one channel.
// Params: notify config snapshot and channel key.
// Returns: severity name or empty string when the channel accepts all.
func ChannelMinSeverity(cfg NotifyConfig, channel string) string {
	switch channel {
	case ChannelEmail:
		return cfg.Email.MinSeverity
	case ChannelSMS:
		return cfg.SMS.MinSeverity
	case ChannelWebhook:
		return cfg.Webhook.MinSeverity
	case ChannelChat:
		return cfg.Chat.MinSeverity
	default:
		return ""
	}
}

// NormalizeServiceMode lowers and defaults the service mode value.
// Params: raw mode string from config.
// Returns: normalized mode, defaulting to nats.
func NormalizeServiceMode(mode string) string {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if normalized == "" {
		return ServiceModeNATS
	}
	return normalized
}

// IsSupportedServiceMode reports whether mode value is known.
// Params: normalized mode string.
// Returns: true for nats/single.
func IsSupportedServiceMode(mode string) bool {
	return mode == ServiceModeNATS || mode == ServiceModeSingle
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", file, err)
		}
		// Fragments overlay in lexical order; later files win per key.
		if err := toml.Unmarshal(body, &merged); err != nil {
			return Config{}, fmt.Errorf("decode config file %q: %w", file, err)
		}
	}
	return merged, nil
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "monalert"
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.Store.Driver) == "" {
		if cfg.Service.Mode == ServiceModeSingle {
			cfg.Store.Driver = StoreDriverMemory
		} else {
			cfg.Store.Driver = StoreDriverSQLite
		}
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == StoreDriverSQLite && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = defaultStorePath
	}

	if cfg.Service.Mode == ServiceModeSingle {
		cfg.Bus.URL = nil
	} else {
		cfg.Bus.URL = normalizeBusURLs(cfg.Bus.URL)
		if len(cfg.Bus.URL) == 0 {
			cfg.Bus.URL = []string{defaultNATSURL}
		}
	}
	cfg.Bus.ThresholdSubject = defaultThresholdSubject
	cfg.Bus.IntentSubject = defaultIntentSubject
	cfg.Bus.StatusSubject = defaultStatusSubject
	cfg.Bus.EscalationSubject = defaultEscalationSubject
	cfg.Bus.ThresholdStream = defaultThresholdStream
	cfg.Bus.IntentStream = defaultIntentStream
	cfg.Bus.OutboundStream = defaultOutboundStream
	cfg.Bus.ThresholdConsumer = defaultThresholdConsumer
	cfg.Bus.IntentConsumer = defaultIntentConsumer
	cfg.Bus.DeliverGroup = defaultDeliverGroup

	if cfg.Consumer.AckWaitSec <= 0 {
		cfg.Consumer.AckWaitSec = defaultAckWaitSec
	}
	if cfg.Consumer.NackDelayMS <= 0 {
		cfg.Consumer.NackDelayMS = defaultNackDelayMS
	}
	if cfg.Consumer.MaxDeliver == 0 {
		cfg.Consumer.MaxDeliver = defaultMaxDeliver
	}
	if cfg.Consumer.MaxAckPending <= 0 {
		cfg.Consumer.MaxAckPending = defaultMaxAckPending
	}

	if len(cfg.Notify.DefaultChannels) == 0 {
		enabled := make([]string, 0, len(notifyChannelOrder))
		for _, channel := range notifyChannelOrder {
			if ChannelEnabled(cfg.Notify, channel) {
				enabled = append(enabled, channel)
			}
		}
		cfg.Notify.DefaultChannels = enabled
	}
	if cfg.Notify.SMS.TimeoutSec <= 0 {
		cfg.Notify.SMS.TimeoutSec = 10
	}
	if cfg.Notify.Webhook.TimeoutSec <= 0 {
		cfg.Notify.Webhook.TimeoutSec = 10
	}
	if strings.TrimSpace(cfg.Notify.Webhook.Method) == "" {
		cfg.Notify.Webhook.Method = "POST"
	}
	if strings.TrimSpace(cfg.Notify.Chat.APIBase) == "" {
		cfg.Notify.Chat.APIBase = "https://api.telegram.org"
	}

	if cfg.Escalation.IntervalSec <= 0 {
		cfg.Escalation.IntervalSec = defaultEscalationIntervalSec
	}
	if cfg.Escalation.AgeSec <= 0 {
		cfg.Escalation.AgeSec = defaultEscalationAgeSec
	}
	if cfg.Escalation.MaxNotifications <= 0 {
		cfg.Escalation.MaxNotifications = defaultEscalationMaxNotified
	}

	if cfg.Retry.IntervalSec <= 0 {
		cfg.Retry.IntervalSec = defaultRetryIntervalSec
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = defaultRetryMaxRetries
	}
	if cfg.Retry.LookbackHours <= 0 {
		cfg.Retry.LookbackHours = defaultRetryLookbackHours
	}
	if cfg.Retry.PendingTimeoutSec <= 0 {
		cfg.Retry.PendingTimeoutSec = defaultPendingTimeoutSec
	}

	if strings.TrimSpace(cfg.API.Listen) == "" {
		cfg.API.Listen = defaultAPIListen
	}
	if strings.TrimSpace(cfg.API.HealthPath) == "" {
		cfg.API.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.API.ReadyPath) == "" {
		cfg.API.ReadyPath = defaultReadyPath
	}

	if strings.TrimSpace(cfg.Metrics.Listen) == "" {
		cfg.Metrics.Listen = defaultMetricsListen
	}

	if cfg.Asset.TimeoutSec <= 0 {
		cfg.Asset.TimeoutSec = 5
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	mode := NormalizeServiceMode(cfg.Service.Mode)
	if !IsSupportedServiceMode(mode) {
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}

	switch cfg.Store.Driver {
	case StoreDriverSQLite:
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return errors.New("store.path is required for sqlite driver")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("store.driver has unsupported value %q", cfg.Store.Driver)
	}

	for _, channel := range cfg.Notify.DefaultChannels {
		if !isKnownChannel(channel) {
			return fmt.Errorf("notify.default_channels contains unknown channel %q", channel)
		}
		if !ChannelEnabled(cfg.Notify, channel) {
			return fmt.Errorf("notify.default_channels lists disabled channel %q", channel)
		}
	}

	if cfg.Notify.Email.Enabled {
		if strings.TrimSpace(cfg.Notify.Email.Host) == "" {
			return errors.New("notify.email.host is required")
		}
		if cfg.Notify.Email.Port <= 0 {
			return errors.New("notify.email.port is required")
		}
		if strings.TrimSpace(cfg.Notify.Email.From) == "" {
			return errors.New("notify.email.from is required")
		}
		if len(cfg.Notify.Email.Recipients) == 0 {
			return errors.New("notify.email.recipients must not be empty")
		}
	}
	if cfg.Notify.SMS.Enabled {
		if strings.TrimSpace(cfg.Notify.SMS.GatewayURL) == "" {
			return errors.New("notify.sms.gateway_url is required")
		}
		if len(cfg.Notify.SMS.Recipients) == 0 {
			return errors.New("notify.sms.recipients must not be empty")
		}
	}
	if cfg.Notify.Webhook.Enabled && len(cfg.Notify.Webhook.Endpoints) == 0 {
		return errors.New("notify.webhook.endpoints must not be empty")
	}
	if cfg.Notify.Chat.Enabled {
		if strings.TrimSpace(cfg.Notify.Chat.BotToken) == "" {
			return errors.New("notify.chat.bot_token is required")
		}
		if strings.TrimSpace(cfg.Notify.Chat.ChatID) == "" {
			return errors.New("notify.chat.chat_id is required")
		}
	}

	for _, channel := range NotifyChannelNames() {
		severity := strings.TrimSpace(ChannelMinSeverity(cfg.Notify, channel))
		if severity == "" {
			continue
		}
		switch strings.ToUpper(severity) {
		case "INFO", "WARNING", "CRITICAL":
		default:
			return fmt.Errorf("notify.%s.min_severity has unsupported value %q", channel, severity)
		}
	}

	if cfg.Asset.Enabled && strings.TrimSpace(cfg.Asset.BaseURL) == "" {
		return errors.New("asset.base_url is required when asset lookup is enabled")
	}

	return nil
}

// isKnownChannel reports whether channel key is supported.
// Params: channel key.
// Returns: true for email/sms/webhook/chat.
func isKnownChannel(channel string) bool {
	switch channel {
	case ChannelEmail, ChannelSMS, ChannelWebhook, ChannelChat:
		return true
	default:
		return false
	}
}

// normalizeBusURLs trims and deduplicates NATS URL entries.
// Params: raw URL list from config.
// Returns: normalized non-empty URL list.
func normalizeBusURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
