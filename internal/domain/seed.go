package domain

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the wire format for every timestamp in the document.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

//go:embed seed.json
var seedJSON []byte

// Seed returns the first-run document. The initial log entry and chat message
// are stamped with now.
func Seed(now time.Time) *State {
	var s State
	if err := json.Unmarshal(seedJSON, &s); err != nil {
		panic(fmt.Sprintf("domain: embedded seed is invalid: %v", err))
	}
	ts := FormatTime(now)
	for i := range s.Logs {
		s.Logs[i].Timestamp = ts
	}
	for i := range s.ChatHistory {
		s.ChatHistory[i].Timestamp = ts
	}
	s.Normalize()
	return &s
}

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
