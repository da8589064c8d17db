package model

import "time"

// FacultyRecord is one entry of the faculty directory as published by the
// backend. Records are immutable once loaded.
type FacultyRecord struct {
	Name        string `json:"name"`
	Designation string `json:"designation,omitempty"`
	Department  string `json:"department,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
}

// DirectoryMetadata carries the known-name and venue sets extracted from the
// official timetables.
type DirectoryMetadata struct {
	Teachers    []string          `json:"teachers"`
	Venues      []string          `json:"venues"`
	RoomAliases map[string]string `json:"room_aliases"`
}

// AcademicPlanItem is a row of the semester academic plan. The backend
// extracts it from a PDF and its columns are loosely defined, so only the
// commonly present fields are typed.
type AcademicPlanItem struct {
	Week     string `json:"week,omitempty"`
	Date     string `json:"date,omitempty"`
	Activity string `json:"activity,omitempty"`
	Event    string `json:"event,omitempty"`
}

type DocumentStatus struct {
	Exists bool `json:"exists"`
}

// OfficialDocs describes the official PDFs the backend currently holds.
type OfficialDocs struct {
	Timetable     DocumentStatus `json:"timetable"`
	Datesheet     DocumentStatus `json:"datesheet"`
	ExamType      string         `json:"exam_type,omitempty"`
	TotalStudents int            `json:"total_students,omitempty"`
}

// Bootstrap is the single response of GET /bootstrap.
type Bootstrap struct {
	Faculty      []FacultyRecord    `json:"faculty"`
	Metadata     DirectoryMetadata  `json:"metadata"`
	AcademicPlan []AcademicPlanItem `json:"academic_plan"`
	Official     *OfficialDocs      `json:"official,omitempty"`
	Views        *int               `json:"views,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// ClassEntry is one weekly class slot. TeacherRaw is the instructor name as
// extracted from the PDF, possibly noisy.
type ClassEntry struct {
	Day        string `json:"day"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Subject    string `json:"subject"`
	Room       string `json:"room"`
	TeacherRaw string `json:"teacher"`
}

// ExamEntry is one exam sitting. Date is in the "Mon,23,Feb,26" form.
type ExamEntry struct {
	Subject   string `json:"subject"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Room      string `json:"room,omitempty"`
}

// ScheduleSnapshot is the unit persisted by the result cache and pushed to
// the calendar sync endpoint.
type ScheduleSnapshot struct {
	RollNumber string       `json:"roll_number"`
	Classes    []ClassEntry `json:"weekly_schedule"`
	Exams      []ExamEntry  `json:"exam_schedule"`
	ExamType   string       `json:"exam_type,omitempty"`
}

// Empty reports whether the snapshot carries nothing worth syncing.
func (s *ScheduleSnapshot) Empty() bool {
	return s == nil || (s.RollNumber == "" && len(s.Classes) == 0 && len(s.Exams) == 0)
}

// OccurrenceKind distinguishes weekly classes from exams on the calendar.
type OccurrenceKind string

const (
	KindClass OccurrenceKind = "class"
	KindExam  OccurrenceKind = "exam"
)

// Occurrence is a single concrete calendar instance of a class or exam
// (after weekly recurrence expansion and timezone resolution).
type Occurrence struct {
	Kind OccurrenceKind

	// UID is stable across exports of the same snapshot so calendar
	// clients update events instead of duplicating them.
	UID string

	// InstanceKey identifies one instance of a recurring class, derived
	// from its local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time
}

// AuthStatus is the reply of GET /auth/url. URL is present only when the
// user still has to authorize calendar access.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	URL           string `json:"url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SyncResult is the reply of a successful POST /sync.
type SyncResult struct {
	Status     string `json:"status"`
	CalendarID string `json:"calendar_id,omitempty"`
	Message    string `json:"message,omitempty"`
}
