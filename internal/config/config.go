package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Static sync defaults. Settings stored in the database may override them
// at sync time; the resolver clamps overrides back into bounds.
const (
	DefaultTimeZone      = "America/Bogota"
	DefaultSyncStartDate = "2020-01-01"
	DefaultLookaheadDays = 365
	DefaultDailyMaxDays  = 30
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// Snapshot artifacts
	StorageRoot string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Calendar
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Calendars: either a YAML file or a comma-separated id list.
	CalendarsFile string
	CalendarIDs   []string

	// Sync defaults (settings table can override at runtime)
	CalendarTimeZone  string
	SyncStartDate     string
	SyncLookaheadDays int
	ExcludeSummaries  []string
	DailyMaxDays      int

	// Worker
	SyncCron string
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8082"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/citasync.db"),
		StorageRoot:  getEnv("STORAGE_ROOT", "./data"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "citasync"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_triggers"),

		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		CalendarsFile: getEnv("CALENDARS_FILE", ""),
		CalendarIDs:   splitList(getEnv("CALENDAR_IDS", "")),

		CalendarTimeZone:  getEnv("CALENDAR_TIMEZONE", DefaultTimeZone),
		SyncStartDate:     getEnv("CALENDAR_SYNC_START", DefaultSyncStartDate),
		SyncLookaheadDays: getEnvInt("CALENDAR_SYNC_LOOKAHEAD_DAYS", DefaultLookaheadDays),
		ExcludeSummaries:  splitList(getEnv("CALENDAR_EXCLUDE_SUMMARIES", "")),
		DailyMaxDays:      getEnvInt("CALENDAR_DAILY_MAX_DAYS", DefaultDailyMaxDays),

		SyncCron: getEnv("SYNC_CRON", "0 */6 * * *"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.StorageRoot == "" {
		errs = append(errs, "storage root cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.CalendarsFile == "" && len(c.CalendarIDs) == 0 {
		errs = append(errs, "either CALENDARS_FILE or CALENDAR_IDS must be provided")
	}
	if c.CalendarsFile != "" {
		if _, err := os.Stat(c.CalendarsFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("calendars file does not exist: %s", c.CalendarsFile))
		}
	}

	if _, err := time.LoadLocation(c.CalendarTimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid calendar timezone '%s': %v", c.CalendarTimeZone, err))
	}
	if _, err := time.Parse("2006-01-02", c.SyncStartDate); err != nil {
		errs = append(errs, fmt.Sprintf("invalid sync start date '%s': must be YYYY-MM-DD", c.SyncStartDate))
	}
	if c.SyncLookaheadDays < 1 {
		errs = append(errs, fmt.Sprintf("invalid sync lookahead days %d: must be at least 1", c.SyncLookaheadDays))
	}
	if c.DailyMaxDays < 1 {
		errs = append(errs, fmt.Sprintf("invalid daily max days %d: must be at least 1", c.DailyMaxDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

// CalendarConfig describes one synced calendar source.
type CalendarConfig struct {
	// ID is the provider calendar id.
	ID string `yaml:"id"`
	// Name is a human-friendly label used in logs.
	Name string `yaml:"name"`
}

// CalendarsFileConfig is the YAML calendars file: the list of synced
// calendars plus static exclusion patterns.
type CalendarsFileConfig struct {
	Calendars        []CalendarConfig `yaml:"calendars"`
	ExcludeSummaries []string         `yaml:"exclude_summaries"`
}

// LoadCalendarsFile reads and parses the YAML calendars file.
func LoadCalendarsFile(path string) (*CalendarsFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendars file: %w", err)
	}
	var out CalendarsFileConfig
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse calendars file: %w", err)
	}
	return &out, nil
}

// ResolveCalendars merges the YAML calendars file (when configured) with
// the env-provided id list, preserving order and dropping duplicates.
// The second return value is the merged static exclusion pattern list.
func (c *Config) ResolveCalendars() ([]string, []string, error) {
	var ids []string
	patterns := append([]string(nil), c.ExcludeSummaries...)

	if c.CalendarsFile != "" {
		file, err := LoadCalendarsFile(c.CalendarsFile)
		if err != nil {
			return nil, nil, err
		}
		for _, cal := range file.Calendars {
			if strings.TrimSpace(cal.ID) != "" {
				ids = append(ids, strings.TrimSpace(cal.ID))
			}
		}
		patterns = append(patterns, file.ExcludeSummaries...)
	}
	ids = append(ids, c.CalendarIDs...)

	return dedup(ids), dedup(patterns), nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
