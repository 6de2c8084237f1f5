// Package markethours answers whether a trade may be placed now: exchange
// calendars, trading hours with lunch breaks, holiday rules, and the
// strict/flexible policy for BUY orders outside open hours.
package markethours

import (
	"strings"
	"time"
)

// CalendarType selects the Easter computus used for holiday rules.
type CalendarType int

const (
	Gregorian CalendarType = iota
	Julian
)

// TradingHours is the regular session for an exchange, local time.
type TradingHours struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// LunchBreak is a midday trading halt, local time. [start, end).
type LunchBreak struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// FixedDateHoliday is a holiday on a fixed month/day, optionally observed
// on the nearest weekday when it falls on a weekend.
type FixedDateHoliday struct {
	Month            int
	Day              int
	ObserveOnWeekday bool
}

// RuleBasedHoliday is the Nth (or last, N=-1) weekday of a month.
type RuleBasedHoliday struct {
	Month   int
	Weekday time.Weekday
	N       int
}

// EasterBasedHoliday is offset in days from Easter Sunday.
type EasterBasedHoliday struct {
	DaysOffset int
}

// HolidayRuleSet defines the full holiday calendar for one exchange.
type HolidayRuleSet struct {
	FixedDateHolidays   []FixedDateHoliday
	RuleBasedHolidays   []RuleBasedHoliday
	EasterBasedHolidays []EasterBasedHoliday
}

// ExchangeConfig is the calendar configuration for one exchange.
type ExchangeConfig struct {
	Code         string
	Name         string
	TradingHours TradingHours
	Timezone     *time.Location
	EasterType   CalendarType
	LunchBreak   *LunchBreak
	HolidayRules HolidayRuleSet
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("markethours: unknown timezone " + name)
	}
	return loc
}

// exchangeNameToCode folds broker-reported exchange names onto codes.
var exchangeNameToCode = map[string]string{
	"NYSE":       "XNYS",
	"New York":   "XNYS",
	"NASDAQ":     "XNAS",
	"NasdaqCM":   "XNAS",
	"NasdaqGS":   "XNAS",
	"XETRA":      "XETR",
	"Frankfurt":  "XETR",
	"LSE":        "XLON",
	"London":     "XLON",
	"Paris":      "XPAR",
	"Amsterdam":  "XAMS",
	"HKSE":       "XHKG",
	"Hong Kong":  "XHKG",
	"Shanghai":   "XSHG",
	"Shenzhen":   "XSHG",
	"Tokyo":      "XTSE",
	"TSE":        "XTSE",
	"Sydney":     "XASX",
	"ASX":        "XASX",
}

// strictMarketHoursExchanges require open hours for BUY orders too.
var strictMarketHoursExchanges = map[string]bool{
	"XHKG": true,
	"XSHG": true,
	"XTSE": true,
	"XASX": true,
}

// ResolveExchangeCode maps a broker exchange name to a code. Returns
// false when the exchange is unknown; callers fail open on that.
func ResolveExchangeCode(name string) (string, bool) {
	normalized := strings.TrimSpace(name)
	if _, ok := exchangeConfigs[normalized]; ok {
		return normalized, true
	}
	if code, ok := exchangeNameToCode[normalized]; ok {
		return code, true
	}
	for alias, code := range exchangeNameToCode {
		if strings.EqualFold(normalized, alias) {
			return code, true
		}
	}
	return "", false
}

var usHolidays = HolidayRuleSet{
	FixedDateHolidays: []FixedDateHoliday{
		{Month: 1, Day: 1, ObserveOnWeekday: true},   // New Year's Day
		{Month: 6, Day: 19, ObserveOnWeekday: true},  // Juneteenth
		{Month: 7, Day: 4, ObserveOnWeekday: true},   // Independence Day
		{Month: 12, Day: 25, ObserveOnWeekday: true}, // Christmas
	},
	RuleBasedHolidays: []RuleBasedHoliday{
		{Month: 1, Weekday: time.Monday, N: 3},    // MLK Day
		{Month: 2, Weekday: time.Monday, N: 3},    // Presidents Day
		{Month: 5, Weekday: time.Monday, N: -1},   // Memorial Day
		{Month: 9, Weekday: time.Monday, N: 1},    // Labor Day
		{Month: 11, Weekday: time.Thursday, N: 4}, // Thanksgiving
	},
	EasterBasedHolidays: []EasterBasedHoliday{
		{DaysOffset: -2}, // Good Friday
	},
}

var exchangeConfigs = map[string]ExchangeConfig{
	"XNYS": {
		Code:         "XNYS",
		Name:         "New York Stock Exchange",
		TradingHours: TradingHours{OpenHour: 9, OpenMinute: 30, CloseHour: 16},
		Timezone:     mustLoadLocation("America/New_York"),
		EasterType:   Gregorian,
		HolidayRules: usHolidays,
	},
	"XNAS": {
		Code:         "XNAS",
		Name:         "NASDAQ",
		TradingHours: TradingHours{OpenHour: 9, OpenMinute: 30, CloseHour: 16},
		Timezone:     mustLoadLocation("America/New_York"),
		EasterType:   Gregorian,
		HolidayRules: usHolidays,
	},
	"XETR": {
		Code:         "XETR",
		Name:         "XETRA",
		TradingHours: TradingHours{OpenHour: 9, CloseHour: 17, CloseMinute: 30},
		Timezone:     mustLoadLocation("Europe/Berlin"),
		EasterType:   Gregorian,
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1},   // New Year's Day
				{Month: 5, Day: 1},   // Labour Day
				{Month: 12, Day: 24}, // Christmas Eve
				{Month: 12, Day: 25}, // Christmas
				{Month: 12, Day: 26}, // Boxing Day
				{Month: 12, Day: 31}, // New Year's Eve
			},
			EasterBasedHolidays: []EasterBasedHoliday{
				{DaysOffset: -2}, // Good Friday
				{DaysOffset: 1},  // Easter Monday
			},
		},
	},
	"XLON": {
		Code:         "XLON",
		Name:         "London Stock Exchange",
		TradingHours: TradingHours{OpenHour: 8, CloseHour: 16, CloseMinute: 30},
		Timezone:     mustLoadLocation("Europe/London"),
		EasterType:   Gregorian,
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1, ObserveOnWeekday: true},
				{Month: 12, Day: 25, ObserveOnWeekday: true},
				{Month: 12, Day: 26, ObserveOnWeekday: true},
			},
			RuleBasedHolidays: []RuleBasedHoliday{
				{Month: 5, Weekday: time.Monday, N: 1},  // Early May bank holiday
				{Month: 5, Weekday: time.Monday, N: -1}, // Spring bank holiday
				{Month: 8, Weekday: time.Monday, N: -1}, // Summer bank holiday
			},
			EasterBasedHolidays: []EasterBasedHoliday{
				{DaysOffset: -2},
				{DaysOffset: 1},
			},
		},
	},
	"XPAR": {
		Code:         "XPAR",
		Name:         "Euronext Paris",
		TradingHours: TradingHours{OpenHour: 9, CloseHour: 17, CloseMinute: 30},
		Timezone:     mustLoadLocation("Europe/Paris"),
		EasterType:   Gregorian,
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1},
				{Month: 5, Day: 1},
				{Month: 12, Day: 25},
				{Month: 12, Day: 26},
			},
			EasterBasedHolidays: []EasterBasedHoliday{
				{DaysOffset: -2},
				{DaysOffset: 1},
			},
		},
	},
	"XAMS": {
		Code:         "XAMS",
		Name:         "Euronext Amsterdam",
		TradingHours: TradingHours{OpenHour: 9, CloseHour: 17, CloseMinute: 30},
		Timezone:     mustLoadLocation("Europe/Amsterdam"),
		EasterType:   Gregorian,
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1},
				{Month: 12, Day: 25},
				{Month: 12, Day: 26},
			},
			EasterBasedHolidays: []EasterBasedHoliday{
				{DaysOffset: -2},
				{DaysOffset: 1},
			},
		},
	},
	"XHKG": {
		Code:         "XHKG",
		Name:         "Hong Kong Stock Exchange",
		TradingHours: TradingHours{OpenHour: 9, OpenMinute: 30, CloseHour: 16},
		Timezone:     mustLoadLocation("Asia/Hong_Kong"),
		EasterType:   Gregorian,
		LunchBreak:   &LunchBreak{StartHour: 12, EndHour: 13},
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1},
				{Month: 7, Day: 1},  // HKSAR Establishment Day
				{Month: 10, Day: 1}, // National Day
				{Month: 12, Day: 25},
				{Month: 12, Day: 26},
			},
			EasterBasedHolidays: []EasterBasedHoliday{
				{DaysOffset: -2},
				{DaysOffset: 1},
			},
		},
	},
	"XSHG": {
		Code:         "XSHG",
		Name:         "Shanghai Stock Exchange",
		TradingHours: TradingHours{OpenHour: 9, OpenMinute: 30, CloseHour: 15},
		Timezone:     mustLoadLocation("Asia/Shanghai"),
		EasterType:   Gregorian,
		LunchBreak:   &LunchBreak{StartHour: 11, StartMinute: 30, EndHour: 13},
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1},
				{Month: 5, Day: 1},
				{Month: 10, Day: 1},
				{Month: 10, Day: 2},
				{Month: 10, Day: 3},
			},
		},
	},
	"XTSE": {
		Code:         "XTSE",
		Name:         "Tokyo Stock Exchange",
		TradingHours: TradingHours{OpenHour: 9, CloseHour: 15},
		Timezone:     mustLoadLocation("Asia/Tokyo"),
		EasterType:   Gregorian,
		LunchBreak:   &LunchBreak{StartHour: 11, StartMinute: 30, EndHour: 12, EndMinute: 30},
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1},
				{Month: 1, Day: 2},
				{Month: 1, Day: 3},
				{Month: 12, Day: 31},
			},
			RuleBasedHolidays: []RuleBasedHoliday{
				{Month: 1, Weekday: time.Monday, N: 2}, // Coming of Age Day
			},
		},
	},
	"XASX": {
		Code:         "XASX",
		Name:         "Australian Securities Exchange",
		TradingHours: TradingHours{OpenHour: 10, CloseHour: 16},
		Timezone:     mustLoadLocation("Australia/Sydney"),
		EasterType:   Gregorian,
		HolidayRules: HolidayRuleSet{
			FixedDateHolidays: []FixedDateHoliday{
				{Month: 1, Day: 1, ObserveOnWeekday: true},
				{Month: 1, Day: 26, ObserveOnWeekday: true}, // Australia Day
				{Month: 4, Day: 25},                         // Anzac Day
				{Month: 12, Day: 25, ObserveOnWeekday: true},
				{Month: 12, Day: 26, ObserveOnWeekday: true},
			},
			EasterBasedHolidays: []EasterBasedHoliday{
				{DaysOffset: -2},
				{DaysOffset: 1},
			},
		},
	},
}
