package scheduler

import (
	"time"

	"github.com/rs/zerolog"
)

// NSE cash session bounds, minutes from midnight IST.
const (
	sessionOpen  = 9*60 + 15  // 09:15
	sessionClose = 15*60 + 30 // 15:30

	// Position monitoring waits out the opening volatility and starts
	// fifteen minutes into the session.
	monitorOpen = 9*60 + 30
)

const dateLayout = "2006-01-02"

// Calendar answers whether the NSE cash market is in session. BSE keeps
// the same session times and holiday list, so one calendar covers both
// venues the agent trades.
type Calendar struct {
	loc      *time.Location
	holidays map[string]string
	log      zerolog.Logger
}

// NewCalendar creates the exchange calendar
func NewCalendar(log zerolog.Logger) *Calendar {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// IST carries no DST, so a fixed offset is an exact substitute
		// on hosts without tzdata.
		loc = time.FixedZone("IST", 5*3600+30*60)
	}

	return &Calendar{
		loc:      loc,
		holidays: nseHolidays(),
		log:      log.With().Str("component", "calendar").Logger(),
	}
}

// Location returns the exchange timezone for zone-aware scheduling
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether the date is a weekday that is not an
// exchange holiday.
func (c *Calendar) IsTradingDay(at time.Time) bool {
	day := at.In(c.loc)
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return false
	}
	_, holiday := c.holidays[day.Format(dateLayout)]
	return !holiday
}

// IsOpen reports whether the cash session is live: a trading day,
// between 09:15 and 15:30 IST.
func (c *Calendar) IsOpen(at time.Time) bool {
	if !c.IsTradingDay(at) {
		return false
	}
	m := minutesIntoDay(at.In(c.loc))
	return m >= sessionOpen && m < sessionClose
}

// InMonitorWindow reports whether position-monitor ticks should run.
// The window spans 09:30 through 15:30 inclusive; the 15:30 tick is the
// last look at open positions before the end-of-day summary.
func (c *Calendar) InMonitorWindow(at time.Time) bool {
	if !c.IsTradingDay(at) {
		return false
	}
	m := minutesIntoDay(at.In(c.loc))
	return m >= monitorOpen && m <= sessionClose
}

// Holiday returns the holiday name when the exchange is closed for one
func (c *Calendar) Holiday(at time.Time) (string, bool) {
	name, ok := c.holidays[at.In(c.loc).Format(dateLayout)]
	return name, ok
}

func minutesIntoDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// nseHolidays lists exchange trading holidays from the NSE circular.
// Extend each December when the next year's circular is published; the
// 2026 lunar-calendar dates land only with that circular.
func nseHolidays() map[string]string {
	return map[string]string{
		"2025-02-26": "Mahashivratri",
		"2025-03-14": "Holi",
		"2025-03-31": "Id-Ul-Fitr",
		"2025-04-10": "Shri Mahavir Jayanti",
		"2025-04-14": "Dr. Baba Saheb Ambedkar Jayanti",
		"2025-04-18": "Good Friday",
		"2025-05-01": "Maharashtra Day",
		"2025-08-15": "Independence Day",
		"2025-08-27": "Ganesh Chaturthi",
		"2025-10-02": "Mahatma Gandhi Jayanti / Dussehra",
		"2025-10-21": "Diwali Laxmi Pujan",
		"2025-10-22": "Balipratipada",
		"2025-11-05": "Prakash Gurpurb Sri Guru Nanak Dev",
		"2025-12-25": "Christmas",
		"2026-01-26": "Republic Day",
		"2026-04-03": "Good Friday",
		"2026-04-14": "Dr. Baba Saheb Ambedkar Jayanti",
		"2026-05-01": "Maharashtra Day",
		"2026-10-02": "Mahatma Gandhi Jayanti",
		"2026-12-25": "Christmas",
	}
}
