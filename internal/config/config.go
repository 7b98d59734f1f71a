package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "BRIDGE"
	defaultHTTPAddress       = "0.0.0.0:3000"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultTimezone          = "Australia/Brisbane"
	defaultHTTPTimeout       = 30 * time.Second
	defaultGHLAuthURL        = "https://marketplace.gohighlevel.com/oauth/chooselocation"
	defaultGHLTokenURL       = "https://services.leadconnectorhq.com/oauth/token"
	defaultGHLBaseURLV1      = "https://rest.gohighlevel.com/v1"
	defaultGHLBaseURLV2      = "https://services.leadconnectorhq.com"
	defaultGHLAPIVersion     = "2021-07-28"
	defaultGHLAPIGeneration  = "v2"
	defaultServiceM8BaseURL  = "https://api.servicem8.com/api_1.0"
	defaultTokenFile         = "tokens.json"
	defaultStateFile         = "state.json"
	defaultAppointmentsFile  = "processed_appointments.json"
	defaultDatabasePath      = "bridge.db"
	defaultLedgerBackend     = LedgerBackendFile
	defaultRedisKey          = "servicem8-ghl:credential"
	defaultCompletionTrigger = "payment"
	defaultCompletionCutoff  = "2025-08-20"
	defaultIntakeQueueUUID   = "6bced9d5-c84a-4d47-84bf-22dff884744b"

	// LedgerBackendFile persists the ledger as JSON snapshots.
	LedgerBackendFile = "file"
	// LedgerBackendSQLite persists the ledger in a SQLite database.
	LedgerBackendSQLite = "sqlite"

	// windowMargin is added on top of a poll interval so consecutive windows overlap.
	windowMargin = 5 * time.Minute
)

var defaultScopes = []string{
	"calendars.readonly",
	"calendars.write",
	"calendars/events.write",
	"calendars/events.readonly",
	"users.readonly",
	"contacts.readonly",
	"contacts.write",
	"medias.readonly",
}

// legacyEnvAliases maps configuration keys to the environment names used by earlier deployments.
var legacyEnvAliases = map[string][]string{
	"http.port":             {"PORT"},
	"ghl.client_id":         {"GHL_CLIENT_ID"},
	"ghl.client_secret":     {"GHL_CLIENT_SECRET"},
	"ghl.redirect_uri":      {"GHL_REDIRECT_URI"},
	"ghl.api_key":           {"GHL_API_KEY"},
	"ghl.location_id":       {"GHL_LOCATION_ID"},
	"ghl.webhook_url":       {"GHL_WEBHOOK_URL"},
	"servicem8.api_key":     {"SERVICE_M8_API_KEY"},
	"tokens.access_token":   {"GHL_ACCESS_TOKEN"},
	"tokens.refresh_token":  {"GHL_REFRESH_TOKEN"},
	"tokens.created_at":     {"GHL_TOKEN_CREATED_AT"},
	"tokens.expires_in":     {"GHL_TOKEN_EXPIRES_IN"},
	"appointments.staff":    {"SERVICE_M8_STAFF_UUIDS", "SERVICE_M8_STAFF_UUID"},
	"ghl.state_signing_key": {"GHL_STATE_SIGNING_KEY"},
}

// GHLConfig holds GoHighLevel API and OAuth settings.
type GHLConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	AuthURL         string
	TokenURL        string
	Scopes          []string
	APIGeneration   string
	BaseURLV1       string
	BaseURLV2       string
	APIVersion      string
	APIKey          string
	LocationID      string
	WebhookURL      string
	StateSigningKey string
}

// ServiceM8Config holds ServiceM8 API settings.
type ServiceM8Config struct {
	BaseURL string
	APIKey  string
}

// TokenConfig describes credential persistence and the optional environment override.
type TokenConfig struct {
	FilePath        string
	RefreshInterval time.Duration
	RefreshLeeway   time.Duration
	AccessToken     string
	RefreshToken    string
	CreatedAt       int64
	ExpiresIn       int64
}

// LedgerConfig selects the dedup ledger backend.
type LedgerConfig struct {
	Backend          string
	StateFile        string
	AppointmentsFile string
	DatabasePath     string
}

// RedisConfig enables the external credential mirror when Address is set.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// PollingConfig carries the scheduled job cadence.
type PollingConfig struct {
	Enabled            bool
	ContactInterval    time.Duration
	ContactWindow      time.Duration
	CompletionInterval time.Duration
	CompletionWindow   time.Duration
}

// CompletionConfig parameterizes the completion webhook job.
type CompletionConfig struct {
	Trigger            string
	Cutoff             time.Time
	ExcludedCategories []string
	StatusLabel        string
}

// IntakeConfig parameterizes inbound job creation.
type IntakeConfig struct {
	QueueUUID       string
	JobStatus       string
	MobilePrefixes  []string
	DuplicateWindow time.Duration
	MessageFieldIDs []string
	UrgencyFieldIDs []string
	SourceFieldIDs  []string
	MaxPhotoBytes   int64
}

// AppointmentConfig parameterizes appointment booking.
type AppointmentConfig struct {
	StaffUUIDs   []string
	JobStatus    string
	ActivityType string
}

// AppConfig captures runtime configuration for the bridge.
type AppConfig struct {
	HTTPAddress  string
	HTTPTimeout  time.Duration
	LogLevel     string
	LogFormat    string
	Location     *time.Location
	GHL          GHLConfig
	ServiceM8    ServiceM8Config
	Tokens       TokenConfig
	Ledger       LedgerConfig
	Redis        RedisConfig
	Polling      PollingConfig
	Completion   CompletionConfig
	Intake       IntakeConfig
	Appointments AppointmentConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "/", "_"))
	configViper.AutomaticEnv()

	for key, aliases := range legacyEnvAliases {
		names := append([]string{envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		_ = configViper.BindEnv(append([]string{key}, names...)...)
	}

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.timeout", defaultHTTPTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("timezone", defaultTimezone)

	configViper.SetDefault("ghl.auth_url", defaultGHLAuthURL)
	configViper.SetDefault("ghl.token_url", defaultGHLTokenURL)
	configViper.SetDefault("ghl.scopes", defaultScopes)
	configViper.SetDefault("ghl.api_generation", defaultGHLAPIGeneration)
	configViper.SetDefault("ghl.base_url_v1", defaultGHLBaseURLV1)
	configViper.SetDefault("ghl.base_url_v2", defaultGHLBaseURLV2)
	configViper.SetDefault("ghl.api_version", defaultGHLAPIVersion)

	configViper.SetDefault("servicem8.base_url", defaultServiceM8BaseURL)

	configViper.SetDefault("tokens.file", defaultTokenFile)
	configViper.SetDefault("tokens.refresh_interval", 10*time.Minute)
	configViper.SetDefault("tokens.refresh_leeway", 5*time.Minute)

	configViper.SetDefault("ledger.backend", defaultLedgerBackend)
	configViper.SetDefault("ledger.state_file", defaultStateFile)
	configViper.SetDefault("ledger.appointments_file", defaultAppointmentsFile)
	configViper.SetDefault("ledger.database_path", defaultDatabasePath)

	configViper.SetDefault("redis.key", defaultRedisKey)

	configViper.SetDefault("polling.enabled", true)
	configViper.SetDefault("polling.contact_interval", 15*time.Minute)
	configViper.SetDefault("polling.contact_window", 20*time.Minute)
	configViper.SetDefault("polling.completion_interval", 15*time.Minute)
	configViper.SetDefault("polling.completion_window", 20*time.Minute)

	configViper.SetDefault("completion.trigger", defaultCompletionTrigger)
	configViper.SetDefault("completion.cutoff", defaultCompletionCutoff)
	configViper.SetDefault("completion.excluded_categories", []string{"real estate agents", "property manager", "property managers"})

	configViper.SetDefault("intake.queue_uuid", defaultIntakeQueueUUID)
	configViper.SetDefault("intake.job_status", "Quote")
	configViper.SetDefault("intake.mobile_prefixes", []string{"04", "+614", "614"})
	configViper.SetDefault("intake.duplicate_window", 5*time.Second)
	configViper.SetDefault("intake.message_field_ids", []string{"zNzhT7M36keauEw2TCtf", "VvhUQGlzD80PnB9aYdL4"})
	configViper.SetDefault("intake.max_photo_bytes", int64(25<<20))

	configViper.SetDefault("appointments.job_status", "Work Order")
	configViper.SetDefault("appointments.activity_type", "Appointment")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	location, err := time.LoadLocation(strings.TrimSpace(configViper.GetString("timezone")))
	if err != nil {
		return AppConfig{}, fmt.Errorf("timezone: %w", err)
	}

	cutoffRaw := strings.TrimSpace(configViper.GetString("completion.cutoff"))
	var cutoff time.Time
	if cutoffRaw != "" {
		cutoff, err = time.ParseInLocation("2006-01-02", cutoffRaw, location)
		if err != nil {
			return AppConfig{}, fmt.Errorf("completion.cutoff: %w", err)
		}
	}

	httpAddress := configViper.GetString("http.address")
	if port := strings.TrimSpace(configViper.GetString("http.port")); port != "" {
		httpAddress = "0.0.0.0:" + port
	}

	cfg := AppConfig{
		HTTPAddress: httpAddress,
		HTTPTimeout: configViper.GetDuration("http.timeout"),
		LogLevel:    configViper.GetString("log.level"),
		LogFormat:   configViper.GetString("log.format"),
		Location:    location,
		GHL: GHLConfig{
			ClientID:        configViper.GetString("ghl.client_id"),
			ClientSecret:    configViper.GetString("ghl.client_secret"),
			RedirectURI:     configViper.GetString("ghl.redirect_uri"),
			AuthURL:         configViper.GetString("ghl.auth_url"),
			TokenURL:        configViper.GetString("ghl.token_url"),
			Scopes:          splitList(configViper.GetStringSlice("ghl.scopes")),
			APIGeneration:   strings.ToLower(strings.TrimSpace(configViper.GetString("ghl.api_generation"))),
			BaseURLV1:       configViper.GetString("ghl.base_url_v1"),
			BaseURLV2:       configViper.GetString("ghl.base_url_v2"),
			APIVersion:      configViper.GetString("ghl.api_version"),
			APIKey:          configViper.GetString("ghl.api_key"),
			LocationID:      configViper.GetString("ghl.location_id"),
			WebhookURL:      configViper.GetString("ghl.webhook_url"),
			StateSigningKey: configViper.GetString("ghl.state_signing_key"),
		},
		ServiceM8: ServiceM8Config{
			BaseURL: configViper.GetString("servicem8.base_url"),
			APIKey:  configViper.GetString("servicem8.api_key"),
		},
		Tokens: TokenConfig{
			FilePath:        configViper.GetString("tokens.file"),
			RefreshInterval: configViper.GetDuration("tokens.refresh_interval"),
			RefreshLeeway:   configViper.GetDuration("tokens.refresh_leeway"),
			AccessToken:     configViper.GetString("tokens.access_token"),
			RefreshToken:    configViper.GetString("tokens.refresh_token"),
			CreatedAt:       configViper.GetInt64("tokens.created_at"),
			ExpiresIn:       configViper.GetInt64("tokens.expires_in"),
		},
		Ledger: LedgerConfig{
			Backend:          strings.ToLower(strings.TrimSpace(configViper.GetString("ledger.backend"))),
			StateFile:        configViper.GetString("ledger.state_file"),
			AppointmentsFile: configViper.GetString("ledger.appointments_file"),
			DatabasePath:     configViper.GetString("ledger.database_path"),
		},
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
			Key:      configViper.GetString("redis.key"),
		},
		Polling: PollingConfig{
			Enabled:            configViper.GetBool("polling.enabled"),
			ContactInterval:    configViper.GetDuration("polling.contact_interval"),
			ContactWindow:      configViper.GetDuration("polling.contact_window"),
			CompletionInterval: configViper.GetDuration("polling.completion_interval"),
			CompletionWindow:   configViper.GetDuration("polling.completion_window"),
		},
		Completion: CompletionConfig{
			Trigger:            strings.ToLower(strings.TrimSpace(configViper.GetString("completion.trigger"))),
			Cutoff:             cutoff,
			ExcludedCategories: splitList(configViper.GetStringSlice("completion.excluded_categories")),
			StatusLabel:        configViper.GetString("completion.status_label"),
		},
		Intake: IntakeConfig{
			QueueUUID:       configViper.GetString("intake.queue_uuid"),
			JobStatus:       configViper.GetString("intake.job_status"),
			MobilePrefixes:  splitList(configViper.GetStringSlice("intake.mobile_prefixes")),
			DuplicateWindow: configViper.GetDuration("intake.duplicate_window"),
			MessageFieldIDs: splitList(configViper.GetStringSlice("intake.message_field_ids")),
			UrgencyFieldIDs: splitList(configViper.GetStringSlice("intake.urgency_field_ids")),
			SourceFieldIDs:  splitList(configViper.GetStringSlice("intake.source_field_ids")),
			MaxPhotoBytes:   configViper.GetInt64("intake.max_photo_bytes"),
		},
		Appointments: AppointmentConfig{
			StaffUUIDs:   splitList(configViper.GetStringSlice("appointments.staff")),
			JobStatus:    configViper.GetString("appointments.job_status"),
			ActivityType: configViper.GetString("appointments.activity_type"),
		},
	}

	if strings.TrimSpace(cfg.GHL.StateSigningKey) == "" {
		cfg.GHL.StateSigningKey = cfg.GHL.ClientSecret
	}
	cfg.Polling.ContactWindow = coveringWindow(cfg.Polling.ContactWindow, cfg.Polling.ContactInterval)
	cfg.Polling.CompletionWindow = coveringWindow(cfg.Polling.CompletionWindow, cfg.Polling.CompletionInterval)

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ServiceM8.APIKey) == "" {
		return fmt.Errorf("servicem8.api_key is required")
	}
	switch c.GHL.APIGeneration {
	case "v1":
		if strings.TrimSpace(c.GHL.APIKey) == "" {
			return fmt.Errorf("ghl.api_key is required for api generation v1")
		}
	case "v2":
		if strings.TrimSpace(c.GHL.ClientID) == "" || strings.TrimSpace(c.GHL.ClientSecret) == "" {
			return fmt.Errorf("ghl.client_id and ghl.client_secret are required for api generation v2")
		}
	default:
		return fmt.Errorf("ghl.api_generation must be v1 or v2, got %q", c.GHL.APIGeneration)
	}
	if strings.TrimSpace(c.Tokens.FilePath) == "" {
		return fmt.Errorf("tokens.file is required")
	}
	switch c.Ledger.Backend {
	case LedgerBackendFile:
		if strings.TrimSpace(c.Ledger.StateFile) == "" || strings.TrimSpace(c.Ledger.AppointmentsFile) == "" {
			return fmt.Errorf("ledger.state_file and ledger.appointments_file are required")
		}
	case LedgerBackendSQLite:
		if strings.TrimSpace(c.Ledger.DatabasePath) == "" {
			return fmt.Errorf("ledger.database_path is required")
		}
	default:
		return fmt.Errorf("ledger.backend must be %q or %q", LedgerBackendFile, LedgerBackendSQLite)
	}
	switch c.Completion.Trigger {
	case "payment", "job":
	default:
		return fmt.Errorf("completion.trigger must be payment or job, got %q", c.Completion.Trigger)
	}
	if c.Polling.ContactInterval <= 0 || c.Polling.CompletionInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if c.Intake.DuplicateWindow < 0 {
		return fmt.Errorf("intake.duplicate_window must not be negative")
	}
	return nil
}

// coveringWindow widens a rolling fetch window so that it always spans the previous run.
func coveringWindow(window, interval time.Duration) time.Duration {
	minimum := interval + windowMargin
	if window < minimum {
		return minimum
	}
	return window
}

func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
