package domain

import (
	"fmt"
	"strings"
)

// ApplyDefaults fills optional portfolio fields: currency defaults to USD
// and symbols are normalized to upper case.
func (p *Portfolio) ApplyDefaults() {
	if p.Currency == "" {
		p.Currency = "USD"
	}
	p.Currency = strings.ToUpper(p.Currency)
	for i := range p.Instruments {
		p.Instruments[i].Symbol = strings.ToUpper(strings.TrimSpace(p.Instruments[i].Symbol))
	}
}

// Validate checks the portfolio for configuration errors. It returns a
// *ConfigError describing the first problem found.
func (p *Portfolio) Validate() error {
	if len(p.Instruments) == 0 {
		return NewConfigError("instruments", "at least one instrument is required")
	}
	if p.InitialCapital.IsNegative() {
		return NewConfigError("initial_capital", "must not be negative")
	}
	if len(p.Currency) != 3 {
		return NewConfigError("currency", "must be a 3-letter code, got %q", p.Currency)
	}
	seen := make(map[string]bool, len(p.Instruments))
	for i := range p.Instruments {
		ic := &p.Instruments[i]
		field := fmt.Sprintf("instruments[%d]", i)
		if ic.Symbol == "" {
			return NewConfigError(field+".symbol", "must not be empty")
		}
		if seen[ic.Symbol] {
			return NewConfigError(field+".symbol", "duplicate symbol %s", ic.Symbol)
		}
		seen[ic.Symbol] = true
		if err := ic.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single instrument plan.
func (ic *InstrumentConfig) Validate() error {
	field := "instrument " + ic.Symbol

	switch ic.Frequency {
	case FreqDaily:
	case FreqWeekly:
		if ic.Weekday == "" {
			return NewConfigError(field+".weekday", "required for WEEKLY frequency")
		}
		if _, err := ParseWeekday(ic.Weekday); err != nil {
			return NewConfigError(field+".weekday", "%v", err)
		}
	case FreqMonthly:
		if ic.MonthDay < 1 || ic.MonthDay > 31 {
			return NewConfigError(field+".month_day", "must be 1..31, got %d", ic.MonthDay)
		}
	default:
		return NewConfigError(field+".frequency", "unknown frequency %q", ic.Frequency)
	}

	switch ic.BuyType {
	case BuyAmount:
		if !ic.Amount.IsPositive() {
			return NewConfigError(field+".amount", "must be positive for AMOUNT plans")
		}
	case BuyShares:
		if !ic.Shares.IsPositive() {
			return NewConfigError(field+".shares", "must be positive for SHARES plans")
		}
	default:
		return NewConfigError(field+".buy_type", "unknown buy type %q", ic.BuyType)
	}

	if ic.FeeRate.IsNegative() {
		return NewConfigError(field+".fee_rate", "must not be negative")
	}
	if !ic.Start.IsZero() && !ic.End.IsZero() && ic.Start.After(ic.End) {
		return NewConfigError(field+".start_date", "is after end_date")
	}
	return nil
}

// ValidateWindow checks the simulation date window.
func ValidateWindow(from, to Date) error {
	if from.IsZero() || to.IsZero() {
		return NewConfigError("window", "start and end dates are required")
	}
	if from.After(to) {
		return NewConfigError("window", "start date %s is after end date %s", from, to)
	}
	return nil
}
