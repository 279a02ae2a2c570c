package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// timeLayout matches the feed's naive local timestamps.
const timeLayout = "2006-01-02T15:04:05"

// FetchError reports a transport-level failure (request build, network,
// non-2xx status). The payload was never decoded.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed payload: invalid JSON, or a record missing a
// required field.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse timetable: field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("parse timetable: %v", e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }

// Source fetches one named timetable feed.
type Source struct {
	name string
	url  string
	http *http.Client
	now  func() time.Time
}

type SourceOption func(*Source)

// WithClock overrides the time source used for the past-event filter.
func WithClock(fn func() time.Time) SourceOption {
	return func(s *Source) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewSource(name, url string, timeout time.Duration, opts ...SourceOption) *Source {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &Source{
		name: name,
		url:  url,
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Source) Name() string { return s.name }

// rawEvent is the feed's wire record.
type rawEvent struct {
	ModuleCode string `json:"cod_modulo"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Title      string `json:"title"`
	Teams      string `json:"teams"`
	Note       string `json:"note"`
	Professor  string `json:"docente"`
	TimeLabel  string `json:"time"`
	Room       string `json:"room"`
}

// Fetch retrieves the timetable with a single HTTP request and returns the
// lectures that have not started yet. Past entries never surface.
func (s *Source) Fetch(ctx context.Context) ([]Lecture, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var raw []rawEvent
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &ParseError{Err: err}
	}

	now := s.now()
	out := make([]Lecture, 0, len(raw))
	for i := range raw {
		lec, err := raw[i].toLecture()
		if err != nil {
			return nil, err
		}
		if !lec.Start.After(now) {
			continue
		}
		out = append(out, lec)
	}
	return out, nil
}

func (r rawEvent) toLecture() (Lecture, error) {
	if r.Title == "" {
		return Lecture{}, &ParseError{Field: "title", Err: fmt.Errorf("missing")}
	}
	if r.Professor == "" {
		return Lecture{}, &ParseError{Field: "docente", Err: fmt.Errorf("missing")}
	}
	if r.TimeLabel == "" {
		return Lecture{}, &ParseError{Field: "time", Err: fmt.Errorf("missing")}
	}
	start, err := time.ParseInLocation(timeLayout, r.Start, time.Local)
	if err != nil {
		return Lecture{}, &ParseError{Field: "start", Err: err}
	}
	end, err := time.ParseInLocation(timeLayout, r.End, time.Local)
	if err != nil {
		return Lecture{}, &ParseError{Field: "end", Err: err}
	}
	if !start.Before(end) {
		return Lecture{}, &ParseError{Field: "end", Err: fmt.Errorf("start %s not before end %s", r.Start, r.End)}
	}
	return Lecture{
		ModuleCode: r.ModuleCode,
		Title:      r.Title,
		Professor:  r.Professor,
		TimeLabel:  r.TimeLabel,
		Room:       r.Room,
		TeamsLink:  r.Teams,
		Note:       r.Note,
		Start:      start,
		End:        end,
	}, nil
}
