package markethours

import "time"

// CalculateEaster returns Easter Sunday for the year in the given calendar.
func CalculateEaster(year int, calendarType CalendarType) time.Time {
	if calendarType == Julian {
		return calculateJulianEaster(year)
	}
	return calculateGregorianEaster(year)
}

// calculateGregorianEaster implements the Gregorian computus.
func calculateGregorianEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451

	month := (h + l - 7*m + 114) / 31
	day := ((h+l-7*m+114)%31 + 1)

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// calculateJulianEaster implements the Julian computus and converts the
// result to the Gregorian calendar (13-day offset, valid 1900-2099).
func calculateJulianEaster(year int) time.Time {
	a := year % 19
	b := year % 4
	c := year % 7
	d := (19*a + 15) % 30
	e := (2*b + 4*c + 6*d + 6) % 7

	day := 22 + d + e
	month := time.March
	if day > 31 {
		day -= 31
		month = time.April
	}

	julianDate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return julianDate.AddDate(0, 0, 13)
}

// findNthWeekday returns the nth occurrence of a weekday in a month.
func findNthWeekday(year, month int, weekday time.Weekday, n int) time.Time {
	date := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	return date.AddDate(0, 0, daysToAdd+(n-1)*7)
}

// findLastWeekday returns the last occurrence of a weekday in a month.
func findLastWeekday(year, month int, weekday time.Weekday) time.Time {
	date := time.Date(year, time.Month(month+1), 0, 0, 0, 0, 0, time.UTC)
	daysToSubtract := int(date.Weekday() - weekday)
	if daysToSubtract < 0 {
		daysToSubtract += 7
	}
	return date.AddDate(0, 0, -daysToSubtract)
}

// observeOnWeekday shifts weekend holidays to the nearest weekday:
// Saturday observes Friday, Sunday observes Monday.
func observeOnWeekday(date time.Time) time.Time {
	switch date.Weekday() {
	case time.Saturday:
		return date.AddDate(0, 0, -1)
	case time.Sunday:
		return date.AddDate(0, 0, 1)
	default:
		return date
	}
}

// holidaysForYear materializes the exchange's holiday calendar for a year.
func holidaysForYear(config *ExchangeConfig, year int) []time.Time {
	holidays := make([]time.Time, 0,
		len(config.HolidayRules.FixedDateHolidays)+
			len(config.HolidayRules.RuleBasedHolidays)+
			len(config.HolidayRules.EasterBasedHolidays))

	for _, h := range config.HolidayRules.FixedDateHolidays {
		date := time.Date(year, time.Month(h.Month), h.Day, 0, 0, 0, 0, time.UTC)
		if h.ObserveOnWeekday {
			date = observeOnWeekday(date)
		}
		holidays = append(holidays, date)
	}

	for _, h := range config.HolidayRules.RuleBasedHolidays {
		if h.N == -1 {
			holidays = append(holidays, findLastWeekday(year, h.Month, h.Weekday))
		} else {
			holidays = append(holidays, findNthWeekday(year, h.Month, h.Weekday, h.N))
		}
	}

	for _, h := range config.HolidayRules.EasterBasedHolidays {
		easter := CalculateEaster(year, config.EasterType)
		holidays = append(holidays, easter.AddDate(0, 0, h.DaysOffset))
	}

	return holidays
}
