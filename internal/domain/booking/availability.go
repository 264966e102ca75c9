package booking

import (
	"fmt"
	"time"
)

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%02d:%02d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return hh*60 + mm, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// overlaps reports half-open interval intersection. Any booking touching
// part of a slot makes the whole slot unavailable, including bookings
// longer or shorter than the slot grid.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// Resolve derives the day's slot list from a schedule and the bookings
// already committed for that date. A nil schedule, or one that does not
// cover the date, yields an empty result.
func Resolve(schedule *Schedule, bookings []*Booking, date time.Time) (*Availability, error) {
	avail := &Availability{Date: date.Format("2006-01-02")}
	if schedule == nil || !schedule.CoversDate(date) {
		return avail, nil
	}
	avail.ResourceID = schedule.ResourceID

	open, err := parseClock(schedule.StartTime)
	if err != nil {
		return nil, err
	}
	closing, err := parseClock(schedule.EndTime)
	if err != nil {
		return nil, err
	}
	if schedule.SlotMinutes <= 0 || closing <= open {
		return avail, nil
	}

	type interval struct{ start, end int }
	booked := make([]interval, 0, len(bookings))
	for _, b := range bookings {
		start, err := parseClock(b.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(b.EndTime)
		if err != nil {
			return nil, err
		}
		booked = append(booked, interval{start, end})
	}

	// Trailing slots that would overrun the closing time are dropped.
	for t := open; t+schedule.SlotMinutes <= closing; t += schedule.SlotMinutes {
		slot := TimeSlot{
			Start:     formatClock(t),
			End:       formatClock(t + schedule.SlotMinutes),
			Available: true,
		}
		for _, b := range booked {
			if overlaps(t, t+schedule.SlotMinutes, b.start, b.end) {
				slot.Available = false
				break
			}
		}
		avail.Slots = append(avail.Slots, slot)
		avail.TotalSlots++
		if slot.Available {
			avail.AvailableSlots++
		} else {
			avail.BookedSlots++
		}
	}
	return avail, nil
}
