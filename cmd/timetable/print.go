package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"timetable/internal/model"
	"timetable/internal/resolver"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// teacherLabel renders a resolved identity for a table cell.
func teacherLabel(id resolver.Identity) string {
	switch v := id.(type) {
	case resolver.Matched:
		if v.Record.Designation != "" {
			return fmt.Sprintf("%s (%s)", v.Record.Name, v.Record.Designation)
		}
		return v.Record.Name
	case resolver.Placeholder:
		return fmt.Sprintf("%s (%s, unverified)", v.Name, v.Designation)
	}
	return "-"
}

func printSchedule(w io.Writer, snap *model.ScheduleSnapshot, rows []resolver.Row) error {
	header := "Roll " + snap.RollNumber
	if snap.ExamType != "" {
		header += " - " + snap.ExamType
	}
	fmt.Fprintln(w, titleStyle.Render(header))

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "DAY\tTIME\tSUBJECT\tROOM\tTEACHER")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s-%s\t%s\t%s\t%s\n",
			r.Class.Day, r.Class.StartTime, r.Class.EndTime, r.Class.Subject, r.Room, teacherLabel(r.Teacher))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(snap.Exams) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Exams"))
	tw = newTabWriter(w)
	fmt.Fprintln(tw, "DATE\tTIME\tSUBJECT\tROOM")
	for _, e := range snap.Exams {
		fmt.Fprintf(tw, "%s\t%s-%s\t%s\t%s\n", e.Date, e.StartTime, e.EndTime, e.Subject, e.Room)
	}
	return tw.Flush()
}
