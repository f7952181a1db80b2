// Package notifylog reads and writes the notification summary log: a plain
// text file listing upcoming notifications, shown on the debug screen.
//
// File format:
//
//	Generated at: 2024-05-01 14:30:00
//	[2:45 PM] 3 Sunflower (ready in 15m)
//	[4:00 PM] 1 Kitchen (ready in 1h 30m)
//	[2:30 PM] Egg (ready in now)
package notifylog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultFileName is the log file the scheduler writes.
const DefaultFileName = "notification_summary.log"

const (
	generatedAtPrefix = "Generated at:"
	readyInMarker     = "(ready in "
	readyNow          = "now"

	banner       = "📋 UPCOMING NOTIFICATIONS"
	bannerRule   = "════════════════════════════════════════"
	emptySummary = "No upcoming notifications scheduled."
)

var ErrMalformedLine = errors.New("malformed summary line")

// Entry is one upcoming notification.
type Entry struct {
	ReadyAt   string        `json:"ready_at"`
	Quantity  int           `json:"quantity"`
	Item      string        `json:"item"`
	Remaining time.Duration `json:"remaining"`
}

// Display renders "2:45 PM - 3 Sunflower - (15 minutes)".
func (e Entry) Display() string {
	return fmt.Sprintf("%s - %d %s - (%s)", e.ReadyAt, e.Quantity, e.Item, humanRemaining(e.Remaining))
}

func humanRemaining(d time.Duration) string {
	if d <= 0 {
		return "0 minutes"
	}
	hours := int64(d / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%d hour%s %d minute%s", hours, plural(hours), minutes, plural(minutes))
	}
	return fmt.Sprintf("%d minute%s", minutes, plural(minutes))
}

func plural(n int64) string {
	if n != 1 {
		return "s"
	}
	return ""
}

// ParseLine parses "[h:mm a] qty name (ready in Xh Ym)". The remaining time
// may also be "Xm", "Xh" or "now". A missing or non-numeric quantity means 1.
func ParseLine(line string) (Entry, error) {
	open := strings.Index(line, "[")
	closing := strings.Index(line, "]")
	if open == -1 || closing == -1 || closing < open {
		return Entry{}, fmt.Errorf("%w: missing [time]", ErrMalformedLine)
	}
	readyAt := line[open+1 : closing]

	start := strings.Index(line, readyInMarker)
	if start == -1 || start < closing {
		return Entry{}, fmt.Errorf("%w: missing (ready in ...)", ErrMalformedLine)
	}
	end := strings.Index(line[start:], ")")
	if end == -1 {
		return Entry{}, fmt.Errorf("%w: unterminated (ready in ...)", ErrMalformedLine)
	}
	remaining, err := parseRemaining(strings.TrimSpace(line[start+len(readyInMarker) : start+end]))
	if err != nil {
		return Entry{}, err
	}

	info := strings.TrimSpace(line[closing+1 : start])
	e := Entry{ReadyAt: readyAt, Quantity: 1, Item: info, Remaining: remaining}
	if qty, name, ok := strings.Cut(info, " "); ok {
		if n, err := strconv.Atoi(qty); err == nil {
			e.Quantity = n
			e.Item = strings.TrimSpace(name)
		}
	}
	return e, nil
}

func parseRemaining(s string) (time.Duration, error) {
	if s == readyNow {
		return 0, nil
	}
	var d time.Duration
	for _, part := range strings.Fields(s) {
		unit := time.Duration(0)
		switch {
		case strings.HasSuffix(part, "h"):
			unit = time.Hour
		case strings.HasSuffix(part, "m"):
			unit = time.Minute
		default:
			continue
		}
		n, err := strconv.ParseInt(part[:len(part)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad duration %q", ErrMalformedLine, part)
		}
		d += time.Duration(n) * unit
	}
	return d, nil
}

// Summary is the parsed log: the header line plus future entries, soonest first.
type Summary struct {
	GeneratedAt string  `json:"generated_at"`
	Entries     []Entry `json:"entries"`
}

// Parse reads a summary log. Lines that are neither the header nor a
// well-formed entry are skipped, as are entries already due.
func Parse(r io.Reader) (Summary, error) {
	var s Summary
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, generatedAtPrefix):
			s.GeneratedAt = line
		case strings.HasPrefix(line, "["):
			e, err := ParseLine(line)
			if err != nil || e.Remaining <= 0 {
				continue
			}
			s.Entries = append(s.Entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return Summary{}, err
	}
	sort.SliceStable(s.Entries, func(i, j int) bool {
		return s.Entries[i].Remaining < s.Entries[j].Remaining
	})
	return s, nil
}

// Render formats the summary for display.
func (s Summary) Render() string {
	var b strings.Builder
	b.WriteString(banner + "\n")
	b.WriteString(bannerRule + "\n\n")
	b.WriteString(s.GeneratedAt + "\n\n")
	if len(s.Entries) == 0 {
		b.WriteString(emptySummary + "\n")
		return b.String()
	}
	for _, e := range s.Entries {
		b.WriteString(e.Display())
		b.WriteString("\n\n")
	}
	return b.String()
}

// Load opens and parses the log at path. A missing file yields an error
// matching os.ErrNotExist.
func Load(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return Parse(f)
}

// ReadFile returns the display text for the log at path. Failures are
// reported as text, never as an error.
func ReadFile(path string) string {
	s, err := Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "No log file found: " + filepath.Base(path)
	case err != nil:
		return "Error reading log: " + err.Error()
	}
	return s.Render()
}
