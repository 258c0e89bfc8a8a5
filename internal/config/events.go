package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yyyoichi/studygraph/internal/centroid"
)

type eventLine struct {
	Student string    `json:"student"`
	Module  string    `json:"module"`
	Time    time.Time `json:"time"`
}

// DecodeEvents reads one JSON object per line:
//
//	{"student":"s1","module":"m1","time":"2024-04-01T09:00:00Z"}
//
// Blank lines are skipped.
func DecodeEvents(r io.Reader) ([]centroid.Event, error) {
	var (
		events []centroid.Event
		sc     = bufio.NewScanner(r)
		line   int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var l eventLine
		if err := json.Unmarshal([]byte(text), &l); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode event: %w", line, err)
		}
		if l.Student == "" || l.Module == "" {
			return nil, fmt.Errorf("line %d: event needs student and module", line)
		}
		events = append(events, centroid.Event{Student: l.Student, Module: l.Module, Time: l.Time.UTC()})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}
