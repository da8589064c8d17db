package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"timetable/internal/model"
	"timetable/internal/testutil"
)

var pkt = time.FixedZone("PKT", 5*60*60)

func semester() Semester {
	return Semester{Start: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), Weeks: 16}
}

func TestParseExamDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "Mon,23,Feb,26", want: time.Date(2026, 2, 23, 0, 0, 0, 0, pkt)},
		{in: "Mon, 23, Feb, 26", want: time.Date(2026, 2, 23, 0, 0, 0, 0, pkt)},
		{in: "Tue,3,Mar,26", want: time.Date(2026, 3, 3, 0, 0, 0, 0, pkt)},
		{in: "23/02/2026", wantErr: true},
		{in: "TBA", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExamDate(tt.in, pkt)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseExamDate(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExamDate(%q) error = %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseExamDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFirstWeekday(t *testing.T) {
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, pkt)
	wednesday := time.Date(2026, 2, 4, 0, 0, 0, 0, pkt)
	tests := []struct {
		name  string
		start time.Time
		day   time.Weekday
		want  int
	}{
		{name: "same day", start: monday, day: time.Monday, want: 2},
		{name: "later in week", start: monday, day: time.Wednesday, want: 4},
		{name: "sunday", start: monday, day: time.Sunday, want: 8},
		{name: "wraps to next week", start: wednesday, day: time.Monday, want: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FirstWeekday(tt.start, tt.day)
			if got.Day() != tt.want || got.Weekday() != tt.day {
				t.Errorf("FirstWeekday() = %v, want Feb %d", got, tt.want)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	snap := testutil.SampleSnapshot()

	events, skipped := Events(&snap, semester(), pkt)
	if len(skipped) != 0 {
		t.Fatalf("skipped = %+v", skipped)
	}
	if len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4", len(events))
	}

	exam := events[0]
	if exam.Kind != model.KindExam || exam.Summary != "EXAM: Compiler Construction" || exam.RawRRule != "" {
		t.Errorf("exam event = %+v", exam)
	}
	if want := time.Date(2026, 2, 23, 9, 0, 0, 0, pkt); !exam.Start.Equal(want) {
		t.Errorf("exam start = %v, want %v", exam.Start, want)
	}

	type view struct {
		Summary, Description, Location, RRule string
		Start, End                            time.Time
	}
	var got []view
	for _, ev := range events[1:] {
		got = append(got, view{ev.Summary, ev.Description, ev.Location, ev.RawRRule, ev.Start, ev.End})
	}
	want := []view{
		{"Compiler Construction", "Teacher: Dr. Ayesha Khan5", "R12", "FREQ=WEEKLY;COUNT=16",
			time.Date(2026, 2, 2, 8, 30, 0, 0, pkt), time.Date(2026, 2, 2, 9, 50, 0, 0, pkt)},
		{"Software Engineering", "Teacher: A. Raza", "Hassan Abidi", "FREQ=WEEKLY;COUNT=16",
			time.Date(2026, 2, 4, 11, 30, 0, 0, pkt), time.Date(2026, 2, 4, 12, 50, 0, 0, pkt)},
		{"Operating Systems Lab", "Teacher: ", "Lab 3", "FREQ=WEEKLY;COUNT=16",
			time.Date(2026, 2, 6, 14, 30, 0, 0, pkt), time.Date(2026, 2, 6, 17, 20, 0, 0, pkt)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("class events (-want +got):\n%s", diff)
	}
}

func TestEventsSkipsUnplaceableEntries(t *testing.T) {
	snap := &model.ScheduleSnapshot{
		RollNumber: "23K-0001",
		Classes: []model.ClassEntry{
			{Day: "Someday", StartTime: "08:30", EndTime: "09:50", Subject: "Ghost"},
			{Day: "Tue", StartTime: "10:00", EndTime: "09:00", Subject: "Backwards"},
			{Day: "Thursday", StartTime: "8.30", EndTime: "09:50", Subject: "Dotted"},
		},
		Exams: []model.ExamEntry{{Subject: "Networks", Date: "TBA", StartTime: "09:00", EndTime: "10:00"}},
	}

	events, skipped := Events(snap, semester(), pkt)
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
	if len(skipped) != 4 {
		t.Fatalf("len(skipped) = %d, want 4", len(skipped))
	}
	for _, s := range skipped {
		if s.Err == nil {
			t.Errorf("skipped %q without a reason", s.Subject)
		}
	}
}

func TestEventUIDsAreStable(t *testing.T) {
	snap := testutil.SampleSnapshot()
	first, _ := Events(&snap, semester(), pkt)
	second, _ := Events(&snap, semester(), pkt)
	for i := range first {
		if first[i].UID != second[i].UID {
			t.Errorf("UID of %q changed between builds", first[i].Summary)
		}
		if !strings.HasSuffix(first[i].UID, "@timetable") {
			t.Errorf("UID = %q", first[i].UID)
		}
	}

	other := snap
	other.RollNumber = "23K-0002"
	third, _ := Events(&other, semester(), pkt)
	if third[0].UID == first[0].UID {
		t.Error("UIDs collide across roll numbers")
	}
}

func TestBuildParseExpandRoundTrip(t *testing.T) {
	snap := testutil.SampleSnapshot()
	events, _ := Events(&snap, semester(), pkt)
	stamp := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	blob, err := Build(snap.RollNumber, events, pkt, stamp)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(string(blob), "RRULE:FREQ=WEEKLY;COUNT=16") {
		t.Errorf("calendar lacks the weekly rule:\n%s", blob)
	}

	parsed, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(parsed) != len(events) {
		t.Fatalf("parsed %d events, want %d", len(parsed), len(events))
	}
	for i := range events {
		if parsed[i].UID != events[i].UID || parsed[i].Kind != events[i].Kind || parsed[i].Summary != events[i].Summary {
			t.Errorf("event %d = %+v, want %+v", i, parsed[i], events[i])
		}
		if !parsed[i].Start.Equal(events[i].Start) || !parsed[i].End.Equal(events[i].End) {
			t.Errorf("event %d times = %v..%v, want %v..%v", i, parsed[i].Start, parsed[i].End, events[i].Start, events[i].End)
		}
	}

	res, err := Expand(parsed, SemesterRange(semester(), pkt))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got, want := len(res.Occurrences), 3*16+1; got != want {
		t.Fatalf("occurrences = %d, want %d", got, want)
	}
	first := res.Occurrences[0]
	if first.Summary != "Compiler Construction" || !first.Start.Equal(time.Date(2026, 2, 2, 8, 30, 0, 0, pkt)) {
		t.Errorf("first occurrence = %+v", first)
	}
	if first.Start.Location() != pkt {
		t.Errorf("occurrence not in display location: %v", first.Start.Location())
	}
	last := res.Occurrences[len(res.Occurrences)-1]
	if want := time.Date(2026, 5, 22, 14, 30, 0, 0, pkt); !last.Start.Equal(want) {
		t.Errorf("last occurrence = %v, want %v", last.Start, want)
	}
}

func TestExpandWindow(t *testing.T) {
	snap := testutil.SampleSnapshot()
	events, _ := Events(&snap, semester(), pkt)

	firstWeek := ExpandConfig{
		DisplayLocation: pkt,
		RangeStart:      time.Date(2026, 2, 2, 0, 0, 0, 0, pkt),
		RangeEnd:        time.Date(2026, 2, 9, 0, 0, 0, 0, pkt),
	}
	res, err := Expand(events, firstWeek)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	var kinds []model.OccurrenceKind
	for _, occ := range res.Occurrences {
		kinds = append(kinds, occ.Kind)
	}
	want := []model.OccurrenceKind{model.KindClass, model.KindClass, model.KindClass}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("first week kinds (-want +got):\n%s", diff)
	}

	capped := SemesterRange(semester(), pkt)
	capped.MaxOccurrencesPerEvent = 4
	res, err = Expand(events, capped)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(res.TruncatedEvents) != 3 || len(res.Occurrences) != 3*4+1 {
		t.Errorf("truncated = %d occurrences = %d", len(res.TruncatedEvents), len(res.Occurrences))
	}

	if _, err := Expand(events, ExpandConfig{RangeStart: firstWeek.RangeEnd, RangeEnd: firstWeek.RangeStart}); err == nil {
		t.Error("Expand() accepted an inverted range")
	}
}

func TestBuildWithoutEvents(t *testing.T) {
	if _, err := Build("23K-0001", nil, pkt, time.Now()); err == nil {
		t.Error("Build() accepted an empty event list")
	}
}

func TestParseBackendBlob(t *testing.T) {
	blob := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:backend\r\n" +
		"BEGIN:VEVENT\r\nUID:1@backend\r\nDTSTAMP:20260202T000000Z\r\nDTSTART:20260202T033000Z\r\n" +
		"DTEND:20260202T045000Z\r\nSUMMARY:EXAM: Networks\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nSUMMARY:no uid\r\nDTSTART:20260202T033000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

	events, err := Parse([]byte(blob))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.KindExam {
		t.Errorf("events = %+v", events)
	}

	if _, err := Parse([]byte("  \r\n")); !errors.Is(err, ErrEmptyCalendar) {
		t.Errorf("Parse(blank) error = %v, want ErrEmptyCalendar", err)
	}
}
