// Package testutil provides an in-process fake of the timetable API for
// tests across packages.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"timetable/internal/model"
)

// FakeBackend serves the timetable API from in-memory state. Fields may be
// changed between requests while holding Lock/Unlock.
type FakeBackend struct {
	*httptest.Server

	mu sync.Mutex

	Bootstrap model.Bootstrap
	// BootstrapFailures makes the first n /bootstrap calls answer 503.
	BootstrapFailures int
	Schedules         map[string]model.ScheduleSnapshot

	Authenticated bool
	AuthURL       string
	AuthError     string
	// AuthStatusCode, when non-zero, replaces the /auth/url reply with an
	// error status.
	AuthStatusCode int

	// SyncStatus is the status code /sync answers with (0 means 200).
	SyncStatus int
	SyncDetail string
	Synced     []model.ScheduleSnapshot

	hits map[string]int
}

// NewFakeBackend starts a FakeBackend that is closed with the test.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		Schedules: map[string]model.ScheduleSnapshot{},
		AuthURL:   "https://accounts.example.com/o/oauth2/auth?state=test",
		hits:      map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", f.handleBootstrap)
	mux.HandleFunc("/parse", f.handleParse)
	mux.HandleFunc("/download-ics", f.handleDownloadICS)
	mux.HandleFunc("/auth/url", f.handleAuthURL)
	mux.HandleFunc("/sync", f.handleSync)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeBackend) Lock()   { f.mu.Lock() }
func (f *FakeBackend) Unlock() { f.mu.Unlock() }

// Hits returns how many requests path has received.
func (f *FakeBackend) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// TotalHits counts every request the backend has received.
func (f *FakeBackend) TotalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.hits {
		n += v
	}
	return n
}

func (f *FakeBackend) count(r *http.Request) {
	f.hits[r.URL.Path]++
}

func (f *FakeBackend) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count(r)
	if f.hits[r.URL.Path] <= f.BootstrapFailures {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "bootstrap unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, f.Bootstrap)
}

func (f *FakeBackend) handleParse(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count(r)
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
		return
	}
	roll := strings.ToUpper(strings.TrimSpace(r.FormValue("roll_number")))
	snap, ok := f.Schedules[roll]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"detail": "Roll number " + roll + " not found in the official records.",
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (f *FakeBackend) handleDownloadICS(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count(r)
	var snap model.ScheduleSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/calendar")
	w.Header().Set("Content-Disposition", "attachment; filename=schedule_"+snap.RollNumber+".ics")
	_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:fake\r\n" +
		"BEGIN:VEVENT\r\nUID:1@fake\r\nDTSTAMP:20260202T000000Z\r\nDTSTART:20260202T083000Z\r\n" +
		"DTEND:20260202T095000Z\r\nSUMMARY:" + snap.RollNumber + "\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"))
}

func (f *FakeBackend) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count(r)
	if f.AuthStatusCode != 0 {
		writeJSON(w, f.AuthStatusCode, map[string]string{"detail": "auth status unavailable"})
		return
	}
	if f.Authenticated {
		writeJSON(w, http.StatusOK, model.AuthStatus{Authenticated: true})
		return
	}
	writeJSON(w, http.StatusOK, model.AuthStatus{URL: f.AuthURL, Error: f.AuthError})
}

func (f *FakeBackend) handleSync(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count(r)
	var snap model.ScheduleSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	if f.SyncStatus != 0 && f.SyncStatus != http.StatusOK {
		writeJSON(w, f.SyncStatus, map[string]string{"detail": f.SyncDetail})
		return
	}
	f.Synced = append(f.Synced, snap)
	writeJSON(w, http.StatusOK, model.SyncResult{
		Status:     "success",
		CalendarID: "cal-" + snap.RollNumber,
		Message:    "Synced successfully",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SampleSnapshot is a small schedule used across tests.
func SampleSnapshot() model.ScheduleSnapshot {
	return model.ScheduleSnapshot{
		RollNumber: "23K-0001",
		Classes: []model.ClassEntry{
			{Day: "Mon", StartTime: "08:30", EndTime: "09:50", Subject: "Compiler Construction", Room: "R12", TeacherRaw: "Dr. Ayesha Khan5"},
			{Day: "Wed", StartTime: "11:30", EndTime: "12:50", Subject: "Software Engineering", Room: "Hassan Abidi", TeacherRaw: "A. Raza"},
			{Day: "Fri", StartTime: "14:30", EndTime: "17:20", Subject: "Operating Systems Lab", Room: "Lab 3", TeacherRaw: ""},
		},
		Exams: []model.ExamEntry{
			{Subject: "Compiler Construction", Date: "Mon,23,Feb,26", StartTime: "09:00", EndTime: "10:00", Room: "R12"},
		},
		ExamType: "Mid Term Examination",
	}
}

// SampleBootstrap is the reference data matching SampleSnapshot.
func SampleBootstrap() model.Bootstrap {
	views := 42
	return model.Bootstrap{
		Faculty: []model.FacultyRecord{
			{Name: "Ayesha Khan", Designation: "Assistant Professor", Department: "Computer Science", Email: "ayesha.khan@example.edu"},
			{Name: "Ali Raza", Designation: "Lecturer", Department: "Software Engineering"},
		},
		Metadata: model.DirectoryMetadata{
			Teachers:    []string{"Ayesha Khan", "Ali Raza", "Imran Qureshi"},
			Venues:      []string{"Room 12", "Hassan Abidi Lab"},
			RoomAliases: map[string]string{"r12": "Room 12", "hassan abidi": "Hassan Abidi Lab"},
		},
		AcademicPlan: []model.AcademicPlanItem{
			{Week: "1", Date: "02-Feb-2026", Activity: "Commencement of classes"},
			{Week: "8", Date: "23-Mar-2026", Activity: "Mid term examinations"},
		},
		Official: &model.OfficialDocs{
			Timetable:     model.DocumentStatus{Exists: true},
			Datesheet:     model.DocumentStatus{Exists: true},
			ExamType:      "Mid Term Examination",
			TotalStudents: 1200,
		},
		Views: &views,
	}
}
