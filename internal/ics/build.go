// Package ics turns a schedule snapshot into calendar events, serializes
// them as iCalendar and expands them back into concrete occurrences.
package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "timetable/internal/log"
	"timetable/internal/model"
)

const (
	examPrefix       = "EXAM: "
	examDescription  = "Exam"
	examDateLayout   = "Mon,_2,Jan,06"
	clockLayout      = "15:04"
	uidDomain        = "@timetable"
	categoryClass    = "CLASS"
	categoryExam     = "EXAM"
	defaultWeeks     = 16
	teacherDescLabel = "Teacher: "
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Semester is the teaching window weekly classes recur across.
type Semester struct {
	// Start is the first day of teaching; only its date is used.
	Start time.Time
	Weeks int
}

// Event is one VEVENT: a single exam or a weekly recurring class.
type Event struct {
	Kind model.OccurrenceKind
	UID  string

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time

	// RawRRule is the RRULE value without the property name, empty for
	// single events.
	RawRRule string
}

// Skipped records a snapshot entry that could not be placed on the calendar.
type Skipped struct {
	Kind    model.OccurrenceKind
	Subject string
	Err     error
}

// Events builds the calendar events for snap. Exams become single events on
// their parsed date; classes recur weekly from the first matching weekday on
// or after the semester start. Entries with unparseable days, dates or times
// are skipped and reported.
func Events(snap *model.ScheduleSnapshot, sem Semester, loc *time.Location) ([]Event, []Skipped) {
	if snap == nil {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	if sem.Weeks <= 0 {
		sem.Weeks = defaultWeeks
	}

	events := make([]Event, 0, len(snap.Exams)+len(snap.Classes))
	var skipped []Skipped

	for _, exam := range snap.Exams {
		ev, err := examEvent(snap.RollNumber, exam, loc)
		if err != nil {
			appLog.Warn("skipping exam on calendar", "subject", exam.Subject, "date", exam.Date, "err", err)
			skipped = append(skipped, Skipped{Kind: model.KindExam, Subject: exam.Subject, Err: err})
			continue
		}
		events = append(events, ev)
	}

	for _, cls := range snap.Classes {
		ev, err := classEvent(snap.RollNumber, cls, sem, loc)
		if err != nil {
			appLog.Warn("skipping class on calendar", "subject", cls.Subject, "day", cls.Day, "err", err)
			skipped = append(skipped, Skipped{Kind: model.KindClass, Subject: cls.Subject, Err: err})
			continue
		}
		events = append(events, ev)
	}

	return events, skipped
}

// ParseExamDate parses dates such as "Mon,23,Feb,26"; spaces are ignored and
// the weekday name is not checked against the date.
func ParseExamDate(s string, loc *time.Location) (time.Time, error) {
	clean := strings.ReplaceAll(s, " ", "")
	d, err := time.ParseInLocation(examDateLayout, clean, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("exam date %q: %w", s, err)
	}
	return d, nil
}

// atClock returns day's date at the HH:MM wall time hm in loc.
func atClock(day time.Time, hm string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(hm))
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", hm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

func span(day time.Time, from, to string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := atClock(day, from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := atClock(day, to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is not after start %s", to, from)
	}
	return start, end, nil
}

func examEvent(roll string, exam model.ExamEntry, loc *time.Location) (Event, error) {
	day, err := ParseExamDate(exam.Date, loc)
	if err != nil {
		return Event{}, err
	}
	start, end, err := span(day, exam.StartTime, exam.EndTime, loc)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:        model.KindExam,
		UID:         eventUID(roll, model.KindExam, exam.Subject, exam.Date, exam.StartTime),
		Summary:     examPrefix + exam.Subject,
		Description: examDescription,
		Location:    exam.Room,
		Start:       start,
		End:         end,
	}, nil
}

// FirstWeekday returns the first date on or after start falling on day.
func FirstWeekday(start time.Time, day time.Weekday) time.Time {
	ahead := (int(day) - int(start.Weekday()) + 7) % 7
	return start.AddDate(0, 0, ahead)
}

func lookupWeekday(day string) (time.Weekday, error) {
	d := strings.ToLower(strings.TrimSpace(day))
	if len(d) >= 3 {
		if wd, ok := weekdays[d[:3]]; ok {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown day %q", day)
}

func classEvent(roll string, cls model.ClassEntry, sem Semester, loc *time.Location) (Event, error) {
	wd, err := lookupWeekday(cls.Day)
	if err != nil {
		return Event{}, err
	}
	semStart := time.Date(sem.Start.Year(), sem.Start.Month(), sem.Start.Day(), 0, 0, 0, 0, loc)
	first := FirstWeekday(semStart, wd)
	start, end, err := span(first, cls.StartTime, cls.EndTime, loc)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:        model.KindClass,
		UID:         eventUID(roll, model.KindClass, cls.Subject, cls.Day, cls.StartTime),
		Summary:     cls.Subject,
		Description: teacherDescLabel + cls.TeacherRaw,
		Location:    cls.Room,
		Start:       start,
		End:         end,
		RawRRule:    fmt.Sprintf("FREQ=WEEKLY;COUNT=%d", sem.Weeks),
	}, nil
}

// eventUID is stable across exports of the same entry.
func eventUID(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v\x00", p)
	}
	return hex.EncodeToString(h.Sum(nil))[:24] + uidDomain
}

// Build serializes events as a VCALENDAR named after roll.
func Build(roll string, events []Event, loc *time.Location, stamp time.Time) ([]byte, error) {
	if len(events) == 0 {
		return nil, errors.New("ics: no events to export")
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//timetable//schedule//EN")
	cal.SetXWRCalName("Timetable " + roll)
	if loc != nil {
		cal.SetXWRTimezone(loc.String())
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Summary)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.RawRRule != "" {
			ve.AddRrule(ev.RawRRule)
		}
		category := categoryClass
		if ev.Kind == model.KindExam {
			category = categoryExam
		}
		ve.SetProperty(ical.ComponentPropertyCategories, category)
	}

	appLog.Info("ics build completed", "roll_number", roll, "event_count", len(events))
	return []byte(cal.Serialize()), nil
}
