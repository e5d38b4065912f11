/*
Copyright The Sentinel Updater Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron"
)

// Window tells whether updates may start at a given instant
type Window interface {
	Open(t time.Time) bool
}

// alwaysOpen is the window used when none is configured
type alwaysOpen struct{}

func (alwaysOpen) Open(_ time.Time) bool { return true }

// AlwaysOpen returns a window with no restrictions
func AlwaysOpen() Window { return alwaysOpen{} }

// dailyWindow opens every day between two wall-clock instants
type dailyWindow struct {
	startMinute int
	endMinute   int
}

func (w dailyWindow) Open(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	if w.startMinute <= w.endMinute {
		return minute >= w.startMinute && minute < w.endMinute
	}
	// window crossing midnight, e.g. 22:00-04:00
	return minute >= w.startMinute || minute < w.endMinute
}

// cronWindow opens for a fixed duration every time the schedule fires
type cronWindow struct {
	schedule cron.Schedule
	duration time.Duration
}

func (w cronWindow) Open(t time.Time) bool {
	// the window is open iff the schedule fired within the last duration
	next := w.schedule.Next(t.Add(-w.duration))
	return !next.After(t)
}

// ParseWindow builds a window from its textual form. Two forms are
// accepted:
//
//	"HH:MM-HH:MM"          a daily wall-clock interval
//	"cron(<spec>)/<dur>"   open for <dur> after every firing of <spec>
//
// An empty string yields an always-open window.
func ParseWindow(text string) (Window, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return AlwaysOpen(), nil
	}

	if strings.HasPrefix(text, "cron(") {
		return parseCronWindow(text)
	}

	parts := strings.Split(text, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid update window %q, expected HH:MM-HH:MM", text)
	}

	start, err := parseWallClock(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid update window %q: %w", text, err)
	}
	end, err := parseWallClock(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid update window %q: %w", text, err)
	}
	if start == end {
		return nil, fmt.Errorf("invalid update window %q: start and end coincide", text)
	}

	return dailyWindow{startMinute: start, endMinute: end}, nil
}

func parseCronWindow(text string) (Window, error) {
	closing := strings.LastIndex(text, ")")
	if closing < 0 {
		return nil, fmt.Errorf("invalid cron window %q, missing closing parenthesis", text)
	}
	spec := text[len("cron("):closing]

	rest := strings.TrimPrefix(text[closing+1:], "/")
	if rest == "" {
		return nil, fmt.Errorf("invalid cron window %q, missing duration", text)
	}
	duration, err := time.ParseDuration(rest)
	if err != nil || duration <= 0 {
		return nil, fmt.Errorf("invalid cron window duration %q", rest)
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	return cronWindow{schedule: schedule, duration: duration}, nil
}

func parseWallClock(text string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(text))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
