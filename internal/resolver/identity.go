package resolver

import (
	"encoding/json"

	"timetable/internal/model"
)

// Identity is the outcome of resolving a raw instructor name: either a
// Matched directory record or a synthesized Placeholder.
type Identity interface {
	DisplayName() string
	isIdentity()
}

// Pass names the resolver stage that produced a match.
type Pass string

const (
	PassExact     Pass = "exact"
	PassToken     Pass = "token"
	PassSubstring Pass = "substring"
)

// Matched wraps a true directory match.
type Matched struct {
	Record model.FacultyRecord
	Pass   Pass
}

func (m Matched) DisplayName() string { return m.Record.Name }
func (Matched) isIdentity()           {}

func (m Matched) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		model.FacultyRecord
		Match         Pass `json:"match"`
		IsPlaceholder bool `json:"is_placeholder"`
	}{m.Record, m.Pass, false})
}

const (
	DesignationFaculty    = "Faculty"
	DesignationInstructor = "Instructor"
	placeholderDepartment = "University Faculty"
)

// Placeholder stands in for a name with no directory match. Name keeps the
// raw, un-normalized input for display.
type Placeholder struct {
	Name        string
	Designation string
	Department  string
}

func (p Placeholder) DisplayName() string { return p.Name }
func (Placeholder) isIdentity()           {}

func (p Placeholder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name          string `json:"name"`
		Designation   string `json:"designation"`
		Department    string `json:"department"`
		IsPlaceholder bool   `json:"is_placeholder"`
	}{p.Name, p.Designation, p.Department, true})
}
