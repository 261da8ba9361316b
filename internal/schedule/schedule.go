// Package schedule expands recurring contribution plans into concrete
// calendar dates and merges per-instrument plans into a single ordered
// event stream.
//
// DAILY plans contribute every weekday; Saturdays and Sundays are always
// excluded. WEEKLY plans contribute on their configured weekday. MONTHLY
// plans contribute on their configured day-of-month, clamping to the last
// day of months that are shorter (day 31 falls on Feb 28, Apr 30, and so
// on).
package schedule

import (
	"sort"
	"time"

	"accrue/internal/domain"
)

// Expand returns the ordered, duplicate-free contribution dates for one
// instrument within [from, to], intersected with the instrument's own
// start/end window. An empty intersection yields an empty slice and no
// error. Identical inputs always produce identical output.
func Expand(ic domain.InstrumentConfig, from, to domain.Date) ([]domain.Date, error) {
	if err := domain.ValidateWindow(from, to); err != nil {
		return nil, err
	}
	if err := ic.Validate(); err != nil {
		return nil, err
	}

	lo, hi := from, to
	if !ic.Start.IsZero() {
		lo = domain.MaxDate(lo, ic.Start)
	}
	if !ic.End.IsZero() {
		hi = domain.MinDate(hi, ic.End)
	}
	if lo.After(hi) {
		return nil, nil
	}

	switch ic.Frequency {
	case domain.FreqDaily:
		return expandDaily(lo, hi), nil
	case domain.FreqWeekly:
		wd, err := domain.ParseWeekday(ic.Weekday)
		if err != nil {
			return nil, domain.NewConfigError("weekday", "%v", err)
		}
		return expandWeekly(lo, hi, wd), nil
	case domain.FreqMonthly:
		return expandMonthly(lo, hi, ic.MonthDay), nil
	}
	return nil, domain.NewConfigError("frequency", "unknown frequency %q", ic.Frequency)
}

func expandDaily(lo, hi domain.Date) []domain.Date {
	var dates []domain.Date
	for d := lo; !d.After(hi); d = d.AddDays(1) {
		if d.IsWeekday() {
			dates = append(dates, d)
		}
	}
	return dates
}

func expandWeekly(lo, hi domain.Date, wd time.Weekday) []domain.Date {
	// Advance to the first occurrence of the target weekday.
	d := lo
	for d.Weekday() != wd {
		d = d.AddDays(1)
	}

	var dates []domain.Date
	for ; !d.After(hi); d = d.AddDays(7) {
		dates = append(dates, d)
	}
	return dates
}

func expandMonthly(lo, hi domain.Date, day int) []domain.Date {
	var dates []domain.Date
	year, month := lo.Year(), lo.Month()
	for {
		dom := day
		if last := domain.DaysInMonth(year, month); dom > last {
			dom = last
		}
		d := domain.NewDate(year, month, dom)
		if d.After(hi) {
			break
		}
		if !d.Before(lo) {
			dates = append(dates, d)
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return dates
}

// Event is one scheduled contribution for one instrument.
type Event struct {
	Date       domain.Date
	Instrument domain.InstrumentConfig
}

// Merge expands every instrument of the portfolio and merges the resulting
// streams into one sequence ordered by date, breaking same-date ties by
// symbol ascending.
func Merge(p domain.Portfolio, from, to domain.Date) ([]Event, error) {
	var events []Event
	for i := range p.Instruments {
		ic := p.Instruments[i]
		dates, err := Expand(ic, from, to)
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			events = append(events, Event{Date: d, Instrument: ic})
		}
	}

	sort.Slice(events, func(a, b int) bool {
		if !events[a].Date.Equal(events[b].Date) {
			return events[a].Date.Before(events[b].Date)
		}
		return events[a].Instrument.Symbol < events[b].Instrument.Symbol
	})
	return events, nil
}
