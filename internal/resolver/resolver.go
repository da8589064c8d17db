// Package resolver matches noisy, OCR-extracted instructor names against the
// faculty directory.
package resolver

import (
	"errors"
	"strings"
	"sync/atomic"

	appLog "timetable/internal/log"
	"timetable/internal/model"
)

// ErrAlreadyLoaded is returned when a second directory is installed into a
// Resolver. The reference set is loaded once per session.
var ErrAlreadyLoaded = errors.New("faculty directory already loaded")

const (
	// A partial token match needs at least this many tokens...
	minPartialTokens = 2
	// ...covering at least this fraction of the query.
	minPartialRatio = 0.7
	// The substring pass only runs for inputs longer than this.
	minSubstringLen = 4
)

type entry struct {
	record model.FacultyRecord
	norm   string
	tokens []string
}

// Directory is the immutable reference set. Record order is preserved from
// the backend because the token pass is first-match.
type Directory struct {
	entries []entry
	known   map[string]struct{}
	rooms   map[string]string
	venues  map[string]string
}

// NewDirectory precomputes normalized names for faculty. Neither argument
// is retained.
func NewDirectory(faculty []model.FacultyRecord, meta model.DirectoryMetadata) *Directory {
	d := &Directory{
		entries: make([]entry, 0, len(faculty)),
		known:   make(map[string]struct{}, len(meta.Teachers)),
		rooms:   make(map[string]string, len(meta.RoomAliases)),
		venues:  make(map[string]string, len(meta.Venues)),
	}
	for _, rec := range faculty {
		toks := tokens(rec.Name)
		d.entries = append(d.entries, entry{
			record: rec,
			norm:   strings.Join(toks, " "),
			tokens: toks,
		})
	}
	for _, t := range meta.Teachers {
		if n := Normalize(t); n != "" {
			d.known[n] = struct{}{}
		}
	}
	for alias, canonical := range meta.RoomAliases {
		d.rooms[roomKey(alias)] = canonical
	}
	for _, v := range meta.Venues {
		d.venues[roomKey(v)] = v
	}
	return d
}

func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Resolve maps raw to an Identity. ok is false only when raw normalizes to
// the empty string; callers treat that as "no teacher", not a placeholder.
//
// Passes run in order and the first hit wins:
//  1. exact normalized-name equality
//  2. token overlap (first accepted record in directory order)
//  3. substring containment, for inputs longer than 4 characters
//  4. placeholder
func (d *Directory) Resolve(raw string) (id Identity, ok bool) {
	q := tokens(raw)
	if len(q) == 0 {
		return nil, false
	}
	norm := strings.Join(q, " ")

	if d != nil {
		for i := range d.entries {
			if d.entries[i].norm == norm {
				return Matched{Record: d.entries[i].record, Pass: PassExact}, true
			}
		}

		for i := range d.entries {
			if tokenAccept(q, &d.entries[i]) {
				return Matched{Record: d.entries[i].record, Pass: PassToken}, true
			}
		}

		if len(norm) > minSubstringLen {
			for i := range d.entries {
				if strings.Contains(d.entries[i].norm, norm) {
					return Matched{Record: d.entries[i].record, Pass: PassSubstring}, true
				}
			}
		}
	}

	designation := DesignationInstructor
	if d != nil {
		if _, known := d.known[norm]; known {
			designation = DesignationFaculty
		}
	}
	return Placeholder{
		Name:        raw,
		Designation: designation,
		Department:  placeholderDepartment,
	}, true
}

// tokenAccept reports whether e satisfies the token pass for query q.
// Single-letter query tokens match as initials; longer tokens need an equal
// record token or containment in the record's full normalized name.
func tokenAccept(q []string, e *entry) bool {
	matched := 0
	for _, qt := range q {
		if tokenMatches(qt, e) {
			matched++
		}
	}
	if matched == len(q) {
		return true
	}
	return matched >= minPartialTokens && float64(matched)/float64(len(q)) >= minPartialRatio
}

func tokenMatches(qt string, e *entry) bool {
	if len(qt) == 1 {
		for _, rt := range e.tokens {
			if strings.HasPrefix(rt, qt) {
				return true
			}
		}
		return false
	}
	for _, rt := range e.tokens {
		if rt == qt {
			return true
		}
	}
	return strings.Contains(e.norm, qt)
}

func roomKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ResolveRoom maps an extracted room string to its canonical venue name
// using the metadata aliases, returning raw unchanged when unknown.
func (d *Directory) ResolveRoom(raw string) string {
	if d == nil {
		return raw
	}
	key := roomKey(raw)
	if key == "" {
		return raw
	}
	if v, ok := d.venues[key]; ok {
		return v
	}
	if v, ok := d.rooms[key]; ok {
		return v
	}
	return raw
}

// Resolver owns the session's reference set. Until a directory is
// installed every lookup yields a placeholder.
type Resolver struct {
	dir atomic.Pointer[Directory]
}

func New() *Resolver {
	return &Resolver{}
}

// Install publishes dir as the reference set. It succeeds once; later calls
// return ErrAlreadyLoaded and leave the first directory in place.
func (r *Resolver) Install(dir *Directory) error {
	if dir == nil {
		return errors.New("nil directory")
	}
	if !r.dir.CompareAndSwap(nil, dir) {
		return ErrAlreadyLoaded
	}
	appLog.Info("faculty directory installed", "records", dir.Len())
	return nil
}

// InstallBootstrap builds and installs the directory from a bootstrap
// payload. It matches the loader subscriber signature.
func (r *Resolver) InstallBootstrap(b model.Bootstrap) {
	if err := r.Install(NewDirectory(b.Faculty, b.Metadata)); err != nil {
		appLog.Warn("faculty directory not replaced", "err", err)
	}
}

func (r *Resolver) Loaded() bool {
	return r.dir.Load() != nil
}

// Directory returns the installed reference set, or nil.
func (r *Resolver) Directory() *Directory {
	return r.dir.Load()
}

func (r *Resolver) Resolve(raw string) (Identity, bool) {
	return r.dir.Load().Resolve(raw)
}

func (r *Resolver) ResolveRoom(raw string) string {
	return r.dir.Load().ResolveRoom(raw)
}

// Row is one class entry annotated for display.
type Row struct {
	Class model.ClassEntry `json:"class"`
	// Teacher is nil when the extracted name was empty.
	Teacher Identity `json:"teacher"`
	Room    string   `json:"room"`
}

// Annotate resolves the teacher and room of every class in snap. Identities
// are recomputed on every call.
func (r *Resolver) Annotate(snap *model.ScheduleSnapshot) []Row {
	if snap == nil {
		return nil
	}
	dir := r.dir.Load()
	rows := make([]Row, 0, len(snap.Classes))
	for _, c := range snap.Classes {
		row := Row{Class: c, Room: dir.ResolveRoom(c.Room)}
		if id, ok := dir.Resolve(c.TeacherRaw); ok {
			row.Teacher = id
		}
		rows = append(rows, row)
	}
	return rows
}
