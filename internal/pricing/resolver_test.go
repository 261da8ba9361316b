package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"accrue/internal/domain"
	"accrue/internal/store"
)

type stubRemote struct {
	records map[string][]store.PriceRecord
	err     error
	calls   int
}

func (s *stubRemote) Name() string { return "stub" }

func (s *stubRemote) Bars(_ context.Context, symbol string, _, _ domain.Date) ([]store.PriceRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.records[symbol], nil
}

type stubCache struct {
	records map[string][]store.PriceRecord
	readErr error
	written []store.PriceRecord
}

func (s *stubCache) ReadPrices(_ context.Context, symbol string, _, _ domain.Date) ([]store.PriceRecord, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.records[symbol], nil
}

func (s *stubCache) WritePrices(_ context.Context, records []store.PriceRecord) error {
	s.written = append(s.written, records...)
	return nil
}

// weekdayRecords builds one bar per weekday in [from, to] with closes
// stepping up from start by one per bar.
func weekdayRecords(symbol string, from, to domain.Date, start float64) []store.PriceRecord {
	var out []store.PriceRecord
	c := start
	for d := from; !d.After(to); d = d.AddDays(1) {
		if !d.IsWeekday() {
			continue
		}
		out = append(out, store.PriceRecord{Symbol: symbol, Date: d.UnixMilli(), Close: c})
		c++
	}
	return out
}

func TestResolveForcedSynthetic(t *testing.T) {
	r := NewResolver(nil, &stubRemote{err: errors.New("unreachable")}, 2)
	from := domain.NewDate(2023, time.January, 1)
	to := domain.NewDate(2023, time.March, 31)

	set, err := r.Resolve(context.Background(), []string{"SPY"}, from, to, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	prov, filled := set.Provenance("SPY")
	if prov != ProvenanceSynthetic || filled != 0 {
		t.Errorf("provenance = %s/%d, want synthetic/0", prov, filled)
	}

	// 2023-01-01 is a Sunday; forced synthetic series still quote it.
	pt, err := set.At("SPY", from)
	if err != nil {
		t.Fatalf("At(Sunday): %v", err)
	}
	if pt.Origin != domain.OriginSynthetic || pt.Close.String() != "400" {
		t.Errorf("Sunday point = %s %s, want synthetic 400", pt.Origin, pt.Close)
	}
}

func TestResolveFallsBackOnRemoteFailure(t *testing.T) {
	remote := &stubRemote{err: errors.New("503 from vendor")}
	r := NewResolver(nil, remote, 2)
	from := domain.NewDate(2023, time.January, 2)
	to := domain.NewDate(2023, time.January, 6)

	set, err := r.Resolve(context.Background(), []string{"QQQ"}, from, to, false)
	if err != nil {
		t.Fatalf("Resolve should absorb remote failures, got %v", err)
	}
	if remote.calls != 1 {
		t.Errorf("remote calls = %d, want 1", remote.calls)
	}
	if prov, _ := set.Provenance("QQQ"); prov != ProvenanceSynthetic {
		t.Errorf("provenance = %s, want synthetic", prov)
	}
}

func TestResolveUsesCache(t *testing.T) {
	from := domain.NewDate(2023, time.January, 2) // Monday
	to := domain.NewDate(2023, time.January, 6)   // Friday

	cache := &stubCache{records: map[string][]store.PriceRecord{
		"SPY": weekdayRecords("SPY", from, to, 380),
	}}
	remote := &stubRemote{err: errors.New("should not be called")}
	r := NewResolver(cache, remote, 2)

	set, err := r.Resolve(context.Background(), []string{"SPY"}, from, to, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if remote.calls != 0 {
		t.Errorf("remote calls = %d, want 0 on cache hit", remote.calls)
	}
	prov, filled := set.Provenance("SPY")
	if prov != ProvenanceReal || filled != 0 {
		t.Errorf("provenance = %s/%d, want real/0", prov, filled)
	}
	pt, err := set.At("SPY", from)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if pt.Origin != domain.OriginReal || pt.Close.String() != "380" {
		t.Errorf("point = %s %s, want real 380", pt.Origin, pt.Close)
	}
}

func TestResolveWritesRemoteBarsBack(t *testing.T) {
	from := domain.NewDate(2023, time.January, 2)
	to := domain.NewDate(2023, time.January, 6)

	cache := &stubCache{}
	remote := &stubRemote{records: map[string][]store.PriceRecord{
		"SPY": weekdayRecords("SPY", from, to, 380),
	}}
	r := NewResolver(cache, remote, 2)

	set, err := r.Resolve(context.Background(), []string{"SPY"}, from, to, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if prov, _ := set.Provenance("SPY"); prov != ProvenanceReal {
		t.Errorf("provenance = %s, want real", prov)
	}
	if len(cache.written) != 5 {
		t.Errorf("cache received %d records, want 5", len(cache.written))
	}
}

func TestResolveFillsWeekdayGapsAsHybrid(t *testing.T) {
	from := domain.NewDate(2023, time.January, 2)
	to := domain.NewDate(2023, time.January, 6)
	hole := domain.NewDate(2023, time.January, 4) // Wednesday

	records := weekdayRecords("SPY", from, to, 380)
	kept := records[:0]
	for _, rec := range records {
		if rec.Day().Equal(hole) {
			continue
		}
		kept = append(kept, rec)
	}

	cache := &stubCache{records: map[string][]store.PriceRecord{"SPY": kept}}
	r := NewResolver(cache, nil, 2)

	set, err := r.Resolve(context.Background(), []string{"SPY"}, from, to, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	prov, filled := set.Provenance("SPY")
	if prov != ProvenanceHybrid || filled != 1 {
		t.Errorf("provenance = %s/%d, want hybrid/1", prov, filled)
	}

	pt, err := set.At("SPY", hole)
	if err != nil {
		t.Fatalf("At(filled date): %v", err)
	}
	if pt.Origin != domain.OriginSynthetic {
		t.Errorf("filled point origin = %s, want synthetic", pt.Origin)
	}

	// Neighbours keep their fetched closes.
	prev, err := set.At("SPY", hole.AddDays(-1))
	if err != nil || prev.Origin != domain.OriginReal {
		t.Errorf("prior day = %+v (err %v), want real", prev, err)
	}
}

func TestResolveRealSeriesSkipsWeekends(t *testing.T) {
	from := domain.NewDate(2023, time.January, 2)
	to := domain.NewDate(2023, time.January, 8) // Sunday

	cache := &stubCache{records: map[string][]store.PriceRecord{
		"SPY": weekdayRecords("SPY", from, to, 380),
	}}
	r := NewResolver(cache, nil, 2)

	set, err := r.Resolve(context.Background(), []string{"SPY"}, from, to, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if _, err := set.At("SPY", domain.NewDate(2023, time.January, 7)); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("At(Saturday) = %v, want ErrPriceUnavailable", err)
	}
	if prov, _ := set.Provenance("SPY"); prov != ProvenanceReal {
		t.Errorf("provenance = %s, want real (weekends are not gaps)", prov)
	}
}

func TestSeriesSetValueAtCarriesLastClose(t *testing.T) {
	from := domain.NewDate(2023, time.January, 2)
	to := domain.NewDate(2023, time.January, 8)

	cache := &stubCache{records: map[string][]store.PriceRecord{
		"SPY": weekdayRecords("SPY", from, to, 380), // Mon 380 .. Fri 384
	}}
	r := NewResolver(cache, nil, 2)
	set, err := r.Resolve(context.Background(), []string{"SPY"}, from, to, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Sunday the 8th has no quote; the Friday close carries.
	v, ok := set.ValueAt("SPY", to)
	if !ok || v.String() != "384" {
		t.Errorf("ValueAt(Sunday) = %s, %v; want 384, true", v, ok)
	}

	v, ok = set.ValueAt("SPY", from)
	if !ok || v.String() != "380" {
		t.Errorf("ValueAt(Monday) = %s, %v; want 380, true", v, ok)
	}

	if _, ok := set.ValueAt("SPY", from.AddDays(-1)); ok {
		t.Error("ValueAt before the first quote should report no value")
	}
	if _, ok := set.ValueAt("MISSING", from); ok {
		t.Error("ValueAt on unknown symbol should report no value")
	}
}

func TestSeriesSetAtOutOfRange(t *testing.T) {
	r := NewResolver(nil, nil, 2)
	from := domain.NewDate(2023, time.January, 2)
	to := domain.NewDate(2023, time.January, 6)

	set, err := r.Resolve(context.Background(), []string{"SPY"}, from, to, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := set.At("SPY", to.AddDays(1)); !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("At past window = %v, want ErrOutOfRange", err)
	}
	if _, err := set.At("SPY", from.AddDays(-1)); !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("At before window = %v, want ErrOutOfRange", err)
	}
}

func TestSeriesSetTimeline(t *testing.T) {
	from := domain.NewDate(2023, time.January, 2)
	to := domain.NewDate(2023, time.January, 6)

	cache := &stubCache{records: map[string][]store.PriceRecord{
		"SPY":  weekdayRecords("SPY", from, domain.NewDate(2023, time.January, 4), 380),
		"AAPL": weekdayRecords("AAPL", domain.NewDate(2023, time.January, 4), to, 125),
	}}
	r := NewResolver(cache, nil, 2)

	set, err := r.Resolve(context.Background(), []string{"SPY", "AAPL"}, from, to, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := set.Symbols(); len(got) != 2 || got[0] != "AAPL" || got[1] != "SPY" {
		t.Errorf("Symbols = %v, want [AAPL SPY]", got)
	}

	timeline := set.Timeline()
	if len(timeline) != 5 {
		t.Fatalf("Timeline has %d dates, want 5 weekdays", len(timeline))
	}
	for i := 1; i < len(timeline); i++ {
		if !timeline[i-1].Before(timeline[i]) {
			t.Fatalf("Timeline not strictly ascending at %d: %s, %s", i, timeline[i-1], timeline[i])
		}
	}
}
