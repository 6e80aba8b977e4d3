package sync

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"citasync/internal/core"
)

// Lookahead clamp bounds. Settings overrides outside this range are pulled
// back in; three years of lookahead is the provider-friendly ceiling.
const (
	MinLookaheadDays = 1
	MaxLookaheadDays = 1095
)

// Settings keys honored by the resolver.
const (
	SettingTimeZone         = "calendarTimeZone"
	SettingSyncStart        = "calendarSyncStart"
	SettingLookaheadDays    = "calendarSyncLookaheadDays"
	SettingExcludeSummaries = "calendarExcludeSummaries"
	SettingDailyMaxDays     = "calendarDailyMaxDays"
)

// SettingsLoader is the persisted-settings source. Load failures are
// recovered locally by the resolver, never surfaced.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

// StaticConfig is the resolver's fallback: the static defaults that apply
// when no settings override exists or the settings store is unreachable.
type StaticConfig struct {
	CalendarIDs      []string
	TimeZone         string
	SyncStartDate    string // "2006-01-02"
	LookaheadDays    int
	ExcludeSummaries []string
	DailyMaxDays     int
}

// Resolver merges static configuration with persisted settings overrides
// into the runtime configuration of one sync.
type Resolver struct {
	settings SettingsLoader
	static   StaticConfig
}

func NewResolver(settings SettingsLoader, static StaticConfig) *Resolver {
	return &Resolver{settings: settings, static: static}
}

// Resolve never fails: any settings problem falls back to the static
// defaults with a warning.
func (r *Resolver) Resolve(ctx context.Context) core.RuntimeConfig {
	overrides := map[string]string{}
	if r.settings != nil {
		loaded, err := r.settings.LoadSettings(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Settings load failed, using static defaults", "error", err)
		} else {
			overrides = loaded
		}
	}

	cfg := core.RuntimeConfig{
		CalendarIDs:   append([]string(nil), r.static.CalendarIDs...),
		TimeZone:      r.static.TimeZone,
		LookaheadDays: r.static.LookaheadDays,
		DailyMaxDays:  r.static.DailyMaxDays,
	}

	if tz := strings.TrimSpace(overrides[SettingTimeZone]); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			slog.WarnContext(ctx, "Invalid timezone override, keeping default", "timezone", tz)
		} else {
			cfg.TimeZone = tz
		}
	}

	startDate := r.static.SyncStartDate
	if s := strings.TrimSpace(overrides[SettingSyncStart]); s != "" {
		if _, err := time.Parse("2006-01-02", s); err != nil {
			slog.WarnContext(ctx, "Invalid sync start override, keeping default", "value", s)
		} else {
			startDate = s
		}
	}
	cfg.SyncStart = parseStartDate(startDate, cfg.TimeZone)

	if s := strings.TrimSpace(overrides[SettingLookaheadDays]); s != "" {
		if days, err := strconv.Atoi(s); err != nil {
			slog.WarnContext(ctx, "Invalid lookahead override, keeping default", "value", s)
		} else {
			cfg.LookaheadDays = days
		}
	}
	cfg.LookaheadDays = clamp(cfg.LookaheadDays, MinLookaheadDays, MaxLookaheadDays)

	if s := strings.TrimSpace(overrides[SettingDailyMaxDays]); s != "" {
		if days, err := strconv.Atoi(s); err != nil {
			slog.WarnContext(ctx, "Invalid daily max days override, keeping default", "value", s)
		} else {
			cfg.DailyMaxDays = days
		}
	}

	patterns := append([]string(nil), r.static.ExcludeSummaries...)
	if s := strings.TrimSpace(overrides[SettingExcludeSummaries]); s != "" {
		for _, p := range strings.Split(s, ",") {
			if v := strings.TrimSpace(p); v != "" {
				patterns = append(patterns, v)
			}
		}
	}
	cfg.ExcludePatterns = compilePatterns(ctx, dedup(patterns))

	return cfg
}

// Window computes the provider fetch range: from the configured sync
// start to now plus the lookahead, in the configured zone.
func Window(cfg core.RuntimeConfig, now time.Time) core.SyncWindow {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	return core.SyncWindow{
		TimeMin:  cfg.SyncStart,
		TimeMax:  now.In(loc).AddDate(0, 0, cfg.LookaheadDays),
		TimeZone: cfg.TimeZone,
	}
}

// compilePatterns builds case-insensitive matchers. A pattern that is not
// valid regex syntax is matched literally instead of dropped.
func compilePatterns(ctx context.Context, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.WarnContext(ctx, "Exclusion pattern is not valid regex, matching literally", "pattern", p)
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(p))
		}
		out = append(out, re)
	}
	return out
}

func parseStartDate(s, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Now().In(loc).AddDate(-1, 0, 0)
	}
	return t
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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
