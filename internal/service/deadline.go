package service

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/repository"
)

// BusinessCalendar defines the working-time window used for
// business_hours_only deadline computation.
type BusinessCalendar struct {
	// Workdays are weekday names ("Monday".."Sunday"). Default Mon-Fri.
	Workdays []string `yaml:"workdays"`
	// DayStart/DayEnd are whole hours of the working day, e.g. 9 and 18.
	DayStart int `yaml:"day_start"`
	DayEnd   int `yaml:"day_end"`
	// Holidays are non-working dates in YYYY-MM-DD form.
	Holidays []string `yaml:"holidays"`

	workdaySet map[time.Weekday]bool
	holidaySet map[string]bool
}

// DefaultCalendar is Monday-Friday, 09:00-18:00, no holidays.
func DefaultCalendar() *BusinessCalendar {
	c := &BusinessCalendar{
		Workdays: []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"},
		DayStart: 9,
		DayEnd:   18,
	}
	c.index()
	return c
}

// LoadCalendar reads a YAML business calendar from disk.
func LoadCalendar(path string) (*BusinessCalendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to read business calendar")
	}

	c := DefaultCalendar()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to parse business calendar")
	}
	if c.DayStart < 0 || c.DayEnd > 24 || c.DayStart >= c.DayEnd {
		return nil, apperrors.InvalidInput("business_calendar", "day_start must be before day_end")
	}
	c.index()
	return c, nil
}

func (c *BusinessCalendar) index() {
	names := map[string]time.Weekday{
		"Sunday": time.Sunday, "Monday": time.Monday, "Tuesday": time.Tuesday,
		"Wednesday": time.Wednesday, "Thursday": time.Thursday,
		"Friday": time.Friday, "Saturday": time.Saturday,
	}
	c.workdaySet = make(map[time.Weekday]bool)
	for _, name := range c.Workdays {
		if wd, ok := names[name]; ok {
			c.workdaySet[wd] = true
		}
	}
	c.holidaySet = make(map[string]bool, len(c.Holidays))
	for _, h := range c.Holidays {
		c.holidaySet[h] = true
	}
}

func (c *BusinessCalendar) workingDay(t time.Time) bool {
	if !c.workdaySet[t.Weekday()] {
		return false
	}
	return !c.holidaySet[t.Format("2006-01-02")]
}

// DeadlineTracker computes step deadlines and evaluates overdue state.
type DeadlineTracker struct {
	calendar *BusinessCalendar
	now      Clock
}

// NewDeadlineTracker creates a tracker. A nil calendar falls back to the
// default Monday-Friday calendar for business-hours deadlines.
func NewDeadlineTracker(calendar *BusinessCalendar, now Clock) *DeadlineTracker {
	if calendar == nil {
		calendar = DefaultCalendar()
	}
	return &DeadlineTracker{calendar: calendar, now: now}
}

// DeadlineFor computes the deadline for a step assigned at assignedAt under
// the given approver slot's configuration. Returns nil when the slot has no
// deadline configured.
func (t *DeadlineTracker) DeadlineFor(assignedAt time.Time, approver *repository.ApprovalMatrixApprover) *time.Time {
	if approver.ApprovalDeadlineHours == nil {
		return nil
	}
	hours := *approver.ApprovalDeadlineHours

	var deadline time.Time
	if approver.BusinessHoursOnly {
		deadline = t.addBusinessHours(assignedAt, time.Duration(hours)*time.Hour)
	} else {
		deadline = assignedAt.Add(time.Duration(hours) * time.Hour)
	}
	return &deadline
}

// IsOverdue reports whether a still-pending step has passed its deadline.
func (t *DeadlineTracker) IsOverdue(step *repository.ApprovalWorkflowStep) bool {
	if step.Action != repository.StepActionPending && step.Action != repository.StepActionDelegated {
		return false
	}
	if step.DeadlineAt == nil {
		return false
	}
	return step.DeadlineAt.Before(t.now())
}

// addBusinessHours consumes the duration only inside the calendar's working
// windows, rolling over nights, weekends and holidays.
func (t *DeadlineTracker) addBusinessHours(start time.Time, remaining time.Duration) time.Time {
	current := start
	for remaining > 0 {
		windowStart := time.Date(current.Year(), current.Month(), current.Day(), t.calendar.DayStart, 0, 0, 0, current.Location())
		windowEnd := time.Date(current.Year(), current.Month(), current.Day(), t.calendar.DayEnd, 0, 0, 0, current.Location())

		if !t.calendar.workingDay(current) || !current.Before(windowEnd) {
			current = nextMorning(current, t.calendar.DayStart)
			continue
		}
		if current.Before(windowStart) {
			current = windowStart
		}

		available := windowEnd.Sub(current)
		if available >= remaining {
			return current.Add(remaining)
		}
		remaining -= available
		current = nextMorning(current, t.calendar.DayStart)
	}
	return current
}

func nextMorning(t time.Time, dayStart int) time.Time {
	next := t.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), dayStart, 0, 0, 0, t.Location())
}
