package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFetchFiltersPastLectures(t *testing.T) {
	t.Parallel()
	body := `[
		{"cod_modulo":"A1","start":"2024-03-04T09:00:00","end":"2024-03-04T11:00:00","title":"Old Lecture","docente":"Rossi","time":"09:00 - 11:00","teams":""},
		{"cod_modulo":"A2","start":"2024-03-04T14:00:00","end":"2024-03-04T16:00:00","title":"Quantum Mechanics/Lab","docente":"Bianchi","time":"14:00 - 16:00","teams":"https://teams.example/abc"}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.Local)
	src := NewSource("first", srv.URL, 0, WithClock(fixedClock(now)))

	got, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d lectures, want 1", len(got))
	}
	if got[0].DisplayTitle() != "Quantum Mechanics" {
		t.Fatalf("DisplayTitle = %q, want %q", got[0].DisplayTitle(), "Quantum Mechanics")
	}
	if got[0].Start.Hour() != 14 {
		t.Fatalf("Start hour = %d, want 14", got[0].Start.Hour())
	}
}

func TestFetchBadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewSource("first", srv.URL, 0)
	_, err := src.Fetch(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
}

func TestFetchMalformedPayload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "invalid json", body: `{"not":"an array"`},
		{name: "bad timestamp", body: `[{"start":"today","end":"2024-03-04T16:00:00","title":"T","docente":"P","time":"x"}]`, field: "start"},
		{name: "missing title", body: `[{"start":"2024-03-04T14:00:00","end":"2024-03-04T16:00:00","docente":"P","time":"x"}]`, field: "title"},
		{name: "start after end", body: `[{"start":"2024-03-04T16:00:00","end":"2024-03-04T14:00:00","title":"T","docente":"P","time":"x"}]`, field: "end"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			src := NewSource("first", srv.URL, 0)
			_, err := src.Fetch(context.Background())
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if pe.Field != tt.field {
				t.Fatalf("ParseError.Field = %q, want %q", pe.Field, tt.field)
			}
		})
	}
}

func TestDisplayTitle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "Quantum Mechanics/Lab", want: "Quantum Mechanics"},
		{in: "Analysis II", want: "Analysis II"},
		{in: "Physics / Module 2 / Group A", want: "Physics"},
	}
	for _, tt := range tests {
		got := Lecture{Title: tt.in}.DisplayTitle()
		if got != tt.want {
			t.Fatalf("DisplayTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
