package booking

import (
	"fmt"
	"time"
)

// MonthYear selects one calendar month.
type MonthYear struct {
	Year  int
	Month time.Month
}

func MonthYearOf(t time.Time) MonthYear {
	return MonthYear{Year: t.Year(), Month: t.Month()}
}

// Next returns the month n months away; n may be negative.
func (m MonthYear) Next(n int) MonthYear {
	idx := m.Year*12 + int(m.Month) - 1 + n
	y, mo := idx/12, idx%12
	if mo < 0 {
		y--
		mo += 12
	}
	return MonthYear{Year: y, Month: time.Month(mo + 1)}
}

// FirstDay is midnight of the month's first day in loc.
func (m MonthYear) FirstDay(loc *time.Location) time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

func (m MonthYear) Days() int {
	return m.Next(1).FirstDay(time.UTC).AddDate(0, 0, -1).Day()
}

// String is "2024-03".
func (m MonthYear) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}
