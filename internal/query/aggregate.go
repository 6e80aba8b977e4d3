// Package query computes the derived aggregate views over mirrored
// events. It reads only from the store, never from the live provider,
// and never mutates state.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"citasync/internal/cache"
	"citasync/internal/core"
)

// Daily drill-down bounds: requested day counts are clamped into this
// range.
const (
	MinDailyDetailDays = 1
	MaxDailyDetailDays = 120
)

// Cached results expire after cacheTTL; InvalidateCaches drops them
// immediately after a write to the store.
const (
	cacheSize = 128
	cacheTTL  = time.Minute
)

// EventReader is the read-only store contract.
type EventReader interface {
	QueryEvents(ctx context.Context, f core.EventFilter) ([]core.EventRecord, error)
}

type Engine struct {
	store     EventReader
	summaries *cache.LRUCache[core.Summary]
	daily     *cache.LRUCache[core.DailyDetail]
}

func NewEngine(store EventReader) *Engine {
	return &Engine{
		store:     store,
		summaries: cache.NewLRUCache[core.Summary](cacheSize, cacheTTL),
		daily:     cache.NewLRUCache[core.DailyDetail](cacheSize, cacheTTL),
	}
}

// Cleaners exposes the engine's caches for periodic expiry cleanup.
func (e *Engine) Cleaners() []cache.Cleaner {
	return []cache.Cleaner{e.summaries, e.daily}
}

// InvalidateCaches drops all cached results. Called after writes to the
// event store.
func (e *Engine) InvalidateCaches() {
	e.summaries.Clear()
	e.daily.Clear()
}

// cacheKey builds a canonical string for a filter plus extras.
func cacheKey(f core.EventFilter, extra ...string) string {
	parts := make([]string, 0, 8+len(extra))
	if f.From != nil {
		parts = append(parts, "from="+f.From.Format("2006-01-02"))
	}
	if f.To != nil {
		parts = append(parts, "to="+f.To.Format("2006-01-02"))
	}
	parts = append(parts,
		"cal="+strings.Join(f.CalendarIDs, ","),
		"type="+strings.Join(f.EventTypes, ","),
		"cat="+strings.Join(f.Categories, ","),
		"q="+f.Search)
	parts = append(parts, extra...)
	return strings.Join(parts, "|")
}

type bucketAcc struct {
	events   int
	days     map[string]struct{}
	expected int64
	paid     int64
}

func newBucketAcc() *bucketAcc {
	return &bucketAcc{days: map[string]struct{}{}}
}

func (b *bucketAcc) add(e core.EventRecord, date string) {
	b.events++
	b.days[date] = struct{}{}
	if e.AmountExpected != nil {
		b.expected += *e.AmountExpected
	}
	if e.AmountPaid != nil {
		b.paid += *e.AmountPaid
	}
}

func (b *bucketAcc) totals() core.Totals {
	return core.Totals{
		Events:         b.events,
		Days:           len(b.days),
		AmountExpected: b.expected,
		AmountPaid:     b.paid,
	}
}

// Summary computes overall totals, the five grouped breakdowns and the
// available-filters facets for the matching events.
func (e *Engine) Summary(ctx context.Context, f core.EventFilter) (core.Summary, error) {
	key := cacheKey(f)
	if cached, ok := e.summaries.Get(key); ok {
		return cached, nil
	}

	rows, err := e.store.QueryEvents(ctx, f)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summary query: %w", err)
	}

	overall := newBucketAcc()
	byYear := map[int]*bucketAcc{}
	byMonth := map[[2]int]*bucketAcc{}
	byISOWeek := map[[2]int]*bucketAcc{}
	byWeekday := map[int]*bucketAcc{}
	byDate := map[string]*bucketAcc{}
	calendars := map[string]int{}
	eventTypes := map[string]int{}
	categories := map[string]int{}

	for _, row := range rows {
		eff := row.Start.Effective()
		if eff.IsZero() {
			continue
		}
		date := eff.Format("2006-01-02")

		overall.add(row, date)

		year := eff.Year()
		getAcc(byYear, year).add(row, date)
		getAcc(byMonth, [2]int{year, int(eff.Month())}).add(row, date)

		isoYear, isoWeek := eff.ISOWeek()
		getAcc(byISOWeek, [2]int{isoYear, isoWeek}).add(row, date)

		// Monday=0 .. Sunday=6
		weekday := (int(eff.Weekday()) + 6) % 7
		getAcc(byWeekday, weekday).add(row, date)

		getAcc(byDate, date).add(row, date)

		calendars[row.CalendarID]++
		eventTypes[row.EventType]++
		category := ""
		if row.Category != nil {
			category = *row.Category
		}
		categories[category]++
	}

	out := core.Summary{Totals: overall.totals()}

	for year, acc := range byYear {
		out.ByYear = append(out.ByYear, core.YearBucket{Year: year, Totals: acc.totals()})
	}
	sort.Slice(out.ByYear, func(i, j int) bool { return out.ByYear[i].Year < out.ByYear[j].Year })

	for key, acc := range byMonth {
		out.ByMonth = append(out.ByMonth, core.MonthBucket{Year: key[0], Month: key[1], Totals: acc.totals()})
	}
	sort.Slice(out.ByMonth, func(i, j int) bool {
		a, b := out.ByMonth[i], out.ByMonth[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})

	for key, acc := range byISOWeek {
		out.ByISOWeek = append(out.ByISOWeek, core.ISOWeekBucket{ISOYear: key[0], ISOWeek: key[1], Totals: acc.totals()})
	}
	sort.Slice(out.ByISOWeek, func(i, j int) bool {
		a, b := out.ByISOWeek[i], out.ByISOWeek[j]
		if a.ISOYear != b.ISOYear {
			return a.ISOYear < b.ISOYear
		}
		return a.ISOWeek < b.ISOWeek
	})

	for weekday, acc := range byWeekday {
		out.ByWeekday = append(out.ByWeekday, core.WeekdayBucket{Weekday: weekday, Totals: acc.totals()})
	}
	sort.Slice(out.ByWeekday, func(i, j int) bool { return out.ByWeekday[i].Weekday < out.ByWeekday[j].Weekday })

	for date, acc := range byDate {
		out.ByDate = append(out.ByDate, core.DateBucket{Date: date, Totals: acc.totals()})
	}
	sort.Slice(out.ByDate, func(i, j int) bool { return out.ByDate[i].Date < out.ByDate[j].Date })

	out.Calendars = toFacets(calendars)
	out.EventTypes = toFacets(eventTypes)
	out.Categories = toFacets(categories)

	e.summaries.Set(key, out)
	return out, nil
}

// DailyDetail returns the most recent maxDays matching dates with their
// events and totals. maxDays is clamped to [MinDailyDetailDays,
// MaxDailyDetailDays].
func (e *Engine) DailyDetail(ctx context.Context, f core.EventFilter, maxDays int) (core.DailyDetail, error) {
	if maxDays < MinDailyDetailDays {
		maxDays = MinDailyDetailDays
	}
	if maxDays > MaxDailyDetailDays {
		maxDays = MaxDailyDetailDays
	}

	key := cacheKey(f, fmt.Sprintf("days=%d", maxDays))
	if cached, ok := e.daily.Get(key); ok {
		return cached, nil
	}

	rows, err := e.store.QueryEvents(ctx, f)
	if err != nil {
		return core.DailyDetail{}, fmt.Errorf("daily detail query: %w", err)
	}

	// top-maxDays dates, descending
	distinct := map[string]struct{}{}
	for _, row := range rows {
		if date := row.Start.EffectiveDate(); date != "" {
			distinct[date] = struct{}{}
		}
	}
	dates := make([]string, 0, len(distinct))
	for date := range distinct {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > maxDays {
		dates = dates[:maxDays]
	}
	selected := map[string]struct{}{}
	for _, date := range dates {
		selected[date] = struct{}{}
	}

	byDate := map[string][]core.EventRecord{}
	for _, row := range rows {
		date := row.Start.EffectiveDate()
		if _, ok := selected[date]; !ok {
			continue
		}
		byDate[date] = append(byDate[date], row)
	}

	out := core.DailyDetail{}
	grand := newBucketAcc()
	for _, date := range dates {
		events := byDate[date]
		sortWithinDay(events)

		day := newBucketAcc()
		for _, ev := range events {
			day.add(ev, date)
			grand.add(ev, date)
		}
		out.Days = append(out.Days, core.DayDetail{Date: date, Totals: day.totals(), Events: events})
	}
	out.Totals = grand.totals()

	e.daily.Set(key, out)
	return out, nil
}

// sortWithinDay orders a day's events: date-only events first, then by
// effective timestamp ascending, ties broken by event id ascending.
func sortWithinDay(events []core.EventRecord) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Start.IsDateOnly() != b.Start.IsDateOnly() {
			return a.Start.IsDateOnly()
		}
		ae, be := a.Start.Effective(), b.Start.Effective()
		if !ae.Equal(be) {
			return ae.Before(be)
		}
		return a.EventID < b.EventID
	})
}

func getAcc[K comparable](m map[K]*bucketAcc, key K) *bucketAcc {
	acc, ok := m[key]
	if !ok {
		acc = newBucketAcc()
		m[key] = acc
	}
	return acc
}

func toFacets(counts map[string]int) []core.FacetValue {
	out := make([]core.FacetValue, 0, len(counts))
	for value, count := range counts {
		out = append(out, core.FacetValue{Value: value, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
