// Package backend is the typed client for the timetable API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"timetable/internal/loader"
	appLog "timetable/internal/log"
	"timetable/internal/model"
)

const (
	pathBootstrap   = "/bootstrap"
	pathParse       = "/parse"
	pathDownloadICS = "/download-ics"
	pathAuthURL     = "/auth/url"
	pathSync        = "/sync"
)

// ExtractionError is a backend rejection of a roll number or source input.
// Detail is the server message and is shown to the user verbatim.
type ExtractionError struct {
	RollNumber string
	Code       int
	Detail     string
}

func (e *ExtractionError) Error() string {
	return e.Detail
}

// Client talks to one backend. Only Bootstrap goes through the retry
// budget; every other call is a single attempt.
type Client struct {
	loader *loader.Loader
}

func New(l *loader.Loader) *Client {
	return &Client{loader: l}
}

// Bootstrap fetches the reference data with retries and hands the single
// decoded response to every subscriber.
func (c *Client) Bootstrap(ctx context.Context, subscribers ...func(model.Bootstrap)) (model.Bootstrap, error) {
	b, err := loader.FetchJSON(ctx, c.loader, loader.Request{
		Method: http.MethodGet,
		Path:   pathBootstrap,
	}, subscribers...)
	if err != nil {
		return model.Bootstrap{}, err
	}
	if b.Error != "" {
		// The backend answers 200 with empty data when its own files fail.
		appLog.Warn("bootstrap served degraded data", "detail", b.Error)
	}
	appLog.Info("bootstrap loaded",
		"faculty", len(b.Faculty),
		"teachers", len(b.Metadata.Teachers),
		"venues", len(b.Metadata.Venues),
		"plan_items", len(b.AcademicPlan),
	)
	return b, nil
}

// NormalizeRollNumber trims and upper-cases a roll number the way the
// backend indexes them.
func NormalizeRollNumber(roll string) string {
	return strings.ToUpper(strings.TrimSpace(roll))
}

// Parse asks the backend for the schedule of roll.
func (c *Client) Parse(ctx context.Context, roll string) (*model.ScheduleSnapshot, error) {
	roll = NormalizeRollNumber(roll)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("roll_number", roll); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.loader.Send(ctx, loader.Request{
		Method:      http.MethodPost,
		Path:        pathParse,
		ContentType: mw.FormDataContentType(),
		Body:        body.Bytes(),
	})
	if err != nil {
		var se *loader.StatusError
		if errors.As(err, &se) {
			return nil, &ExtractionError{RollNumber: roll, Code: se.Code, Detail: se.Detail}
		}
		return nil, fmt.Errorf("parse %s: %w", roll, err)
	}

	var snap model.ScheduleSnapshot
	if err := json.Unmarshal(resp.Body, &snap); err != nil {
		return nil, fmt.Errorf("decode schedule for %s: %w", roll, err)
	}
	appLog.Info("schedule extracted", "roll_number", snap.RollNumber, "classes", len(snap.Classes), "exams", len(snap.Exams))
	return &snap, nil
}

// ICSFile is the opaque calendar blob produced by the backend.
type ICSFile struct {
	Name string
	Data []byte
}

// DownloadICS asks the backend to render snap as an .ics file.
func (c *Client) DownloadICS(ctx context.Context, snap *model.ScheduleSnapshot) (*ICSFile, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	resp, err := c.loader.Send(ctx, loader.Request{
		Method:      http.MethodPost,
		Path:        pathDownloadICS,
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("download ics: %w", err)
	}
	return &ICSFile{
		Name: fmt.Sprintf("schedule_%s.ics", snap.RollNumber),
		Data: resp.Body,
	}, nil
}

// AuthStatus reports whether the backend holds valid calendar credentials.
func (c *Client) AuthStatus(ctx context.Context) (model.AuthStatus, error) {
	resp, err := c.loader.Send(ctx, loader.Request{Method: http.MethodGet, Path: pathAuthURL})
	if err != nil {
		return model.AuthStatus{}, err
	}
	var st model.AuthStatus
	if err := json.Unmarshal(resp.Body, &st); err != nil {
		return model.AuthStatus{}, fmt.Errorf("decode auth status: %w", err)
	}
	return st, nil
}

// Sync pushes snap into the external calendar. A 401 reply surfaces as a
// *loader.StatusError with Code 401.
func (c *Client) Sync(ctx context.Context, snap *model.ScheduleSnapshot) (*model.SyncResult, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	resp, err := c.loader.Send(ctx, loader.Request{
		Method:      http.MethodPost,
		Path:        pathSync,
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return nil, err
	}
	var res model.SyncResult
	if len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, &res); err != nil {
			appLog.Warn("sync reply was not JSON", "err", err)
		}
	}
	return &res, nil
}
