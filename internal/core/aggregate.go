package core

// Totals are the common aggregate counters: event count, distinct day
// count and summed amounts.
type Totals struct {
	Events         int   `json:"events"`
	Days           int   `json:"days"`
	AmountExpected int64 `json:"amountExpected"`
	AmountPaid     int64 `json:"amountPaid"`
}

type YearBucket struct {
	Year int `json:"year"`
	Totals
}

type MonthBucket struct {
	Year  int `json:"year"`
	Month int `json:"month"` // 1-12
	Totals
}

type ISOWeekBucket struct {
	ISOYear int `json:"isoYear"`
	ISOWeek int `json:"isoWeek"`
	Totals
}

type WeekdayBucket struct {
	Weekday int `json:"weekday"` // Monday=0 .. Sunday=6
	Totals
}

type DateBucket struct {
	Date string `json:"date"` // "2006-01-02"
	Totals
}

// FacetValue is one distinct value of a filterable field with its count,
// used to populate filter pickers.
type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Summary is the multi-granularity aggregate view. Derived, never persisted.
type Summary struct {
	Totals    Totals          `json:"totals"`
	ByYear    []YearBucket    `json:"byYear"`
	ByMonth   []MonthBucket   `json:"byMonth"`
	ByISOWeek []ISOWeekBucket `json:"byIsoWeek"`
	ByWeekday []WeekdayBucket `json:"byWeekday"`
	ByDate    []DateBucket    `json:"byDate"`

	Calendars  []FacetValue `json:"calendars"`
	EventTypes []FacetValue `json:"eventTypes"`
	Categories []FacetValue `json:"categories"`
}

// DayDetail is one day of the drill-down view.
type DayDetail struct {
	Date   string        `json:"date"`
	Totals Totals        `json:"totals"`
	Events []EventRecord `json:"events"`
}

// DailyDetail is the bounded drill-down view: the most recent matching
// days plus a grand total across them.
type DailyDetail struct {
	Days   []DayDetail `json:"days"`
	Totals Totals      `json:"totals"`
}
