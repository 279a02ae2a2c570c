package calendar

import (
	"strings"
	"time"
)

// Lecture is one upcoming timetable entry as published by the course calendar.
//
// Start/End are naive wall-clock times in the feed's own zone; the reminder
// layer compensates with a configured hour offset.
type Lecture struct {
	ModuleCode string
	Title      string
	Professor  string
	TimeLabel  string
	Room       string
	TeamsLink  string
	Note       string
	Start      time.Time
	End        time.Time
}

// DisplayTitle returns the course name part of the title: the feed appends
// slash-separated qualifiers (e.g. "Quantum Mechanics/Lab") that are noise in
// announcements.
func (l Lecture) DisplayTitle() string {
	if i := strings.IndexByte(l.Title, '/'); i >= 0 {
		return strings.TrimSpace(l.Title[:i])
	}
	return strings.TrimSpace(l.Title)
}
