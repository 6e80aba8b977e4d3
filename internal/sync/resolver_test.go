package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

type settingsStub struct {
	values map[string]string
	err    error
}

func (s *settingsStub) LoadSettings(context.Context) (map[string]string, error) {
	return s.values, s.err
}

func staticCfg() StaticConfig {
	return StaticConfig{
		CalendarIDs:   []string{"primary"},
		TimeZone:      "America/Bogota",
		SyncStartDate: "2020-01-01",
		LookaheadDays: 365,
		DailyMaxDays:  30,
	}
}

func TestResolveStaticDefaults(t *testing.T) {
	r := NewResolver(&settingsStub{}, staticCfg())
	cfg := r.Resolve(context.Background())

	if cfg.TimeZone != "America/Bogota" {
		t.Fatalf("unexpected timezone %q", cfg.TimeZone)
	}
	if cfg.LookaheadDays != 365 {
		t.Fatalf("unexpected lookahead %d", cfg.LookaheadDays)
	}
	loc, _ := time.LoadLocation("America/Bogota")
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, loc)
	if !cfg.SyncStart.Equal(want) {
		t.Fatalf("unexpected sync start %v", cfg.SyncStart)
	}
}

func TestResolveSettingsOverride(t *testing.T) {
	r := NewResolver(&settingsStub{values: map[string]string{
		SettingTimeZone:      "Europe/Madrid",
		SettingSyncStart:     "2023-06-15",
		SettingLookaheadDays: "30",
		SettingDailyMaxDays:  "7",
	}}, staticCfg())
	cfg := r.Resolve(context.Background())

	if cfg.TimeZone != "Europe/Madrid" {
		t.Fatalf("unexpected timezone %q", cfg.TimeZone)
	}
	if cfg.LookaheadDays != 30 {
		t.Fatalf("unexpected lookahead %d", cfg.LookaheadDays)
	}
	if cfg.DailyMaxDays != 7 {
		t.Fatalf("unexpected daily max %d", cfg.DailyMaxDays)
	}
	if cfg.SyncStart.Format("2006-01-02") != "2023-06-15" {
		t.Fatalf("unexpected sync start %v", cfg.SyncStart)
	}
}

func TestResolveSettingsFailureFallsBack(t *testing.T) {
	r := NewResolver(&settingsStub{err: errors.New("db gone")}, staticCfg())
	cfg := r.Resolve(context.Background())

	if cfg.TimeZone != "America/Bogota" || cfg.LookaheadDays != 365 {
		t.Fatalf("expected static fallback, got %+v", cfg)
	}
}

func TestResolveInvalidOverridesKeepDefaults(t *testing.T) {
	r := NewResolver(&settingsStub{values: map[string]string{
		SettingTimeZone:      "Not/AZone",
		SettingSyncStart:     "15/06/2023",
		SettingLookaheadDays: "abc",
	}}, staticCfg())
	cfg := r.Resolve(context.Background())

	if cfg.TimeZone != "America/Bogota" {
		t.Fatalf("invalid timezone should keep default, got %q", cfg.TimeZone)
	}
	if cfg.SyncStart.Format("2006-01-02") != "2020-01-01" {
		t.Fatalf("invalid start should keep default, got %v", cfg.SyncStart)
	}
	if cfg.LookaheadDays != 365 {
		t.Fatalf("invalid lookahead should keep default, got %d", cfg.LookaheadDays)
	}
}

func TestResolveLookaheadClamp(t *testing.T) {
	cases := []struct {
		override string
		want     int
	}{
		{"0", MinLookaheadDays},
		{"-5", MinLookaheadDays},
		{"5000", MaxLookaheadDays},
		{"100", 100},
	}
	for i, tc := range cases {
		r := NewResolver(&settingsStub{values: map[string]string{SettingLookaheadDays: tc.override}}, staticCfg())
		cfg := r.Resolve(context.Background())
		if cfg.LookaheadDays != tc.want {
			t.Fatalf("case %d: got %d, want %d", i, cfg.LookaheadDays, tc.want)
		}
	}
}

func TestResolveExcludePatterns(t *testing.T) {
	static := staticCfg()
	static.ExcludeSummaries = []string{"privado"}
	r := NewResolver(&settingsStub{values: map[string]string{
		SettingExcludeSummaries: "ignorar, privado, [bad(regex",
	}}, static)
	cfg := r.Resolve(context.Background())

	// privado deduplicated, invalid regex kept as literal matcher
	if len(cfg.ExcludePatterns) != 3 {
		t.Fatalf("expected 3 patterns, got %d", len(cfg.ExcludePatterns))
	}
	if !cfg.ExcludePatterns[0].MatchString("algo PRIVADO aqui") {
		t.Fatal("patterns should match case-insensitively")
	}
	if !cfg.ExcludePatterns[2].MatchString("texto [bad(regex texto") {
		t.Fatal("invalid regex should fall back to literal matching")
	}
}

func TestWindow(t *testing.T) {
	cfg := NewResolver(nil, staticCfg()).Resolve(context.Background())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w := Window(cfg, now)
	if !w.TimeMin.Equal(cfg.SyncStart) {
		t.Fatalf("window min should be sync start, got %v", w.TimeMin)
	}
	if got := w.TimeMax.Sub(now.In(w.TimeMax.Location())); got < 364*24*time.Hour {
		t.Fatalf("window max too close: %v", got)
	}
	if w.TimeZone != "America/Bogota" {
		t.Fatalf("unexpected zone %q", w.TimeZone)
	}
}
