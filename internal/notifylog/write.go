package notifylog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	GeneratedAtLayout = "2006-01-02 15:04:05"
	ReadyAtLayout     = "3:04 PM"
)

// Upcoming is a scheduled notification as reported by the game client.
type Upcoming struct {
	ReadyAt  time.Time `json:"ready_at"`
	Quantity int       `json:"quantity"`
	Item     string    `json:"item"`
}

// Write emits the summary log for items, ordered by ready time. Remaining
// times are measured from generatedAt and truncated to whole minutes.
func Write(w io.Writer, generatedAt time.Time, items []Upcoming) error {
	sorted := make([]Upcoming, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ReadyAt.Before(sorted[j].ReadyAt) })

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s\n", generatedAtPrefix, generatedAt.Format(GeneratedAtLayout))
	for _, u := range sorted {
		item := strings.TrimSpace(u.Item)
		if item == "" {
			continue
		}
		qty := u.Quantity
		if qty < 1 {
			qty = 1
		}
		fmt.Fprintf(bw, "[%s] %d %s %s%s)\n",
			u.ReadyAt.In(generatedAt.Location()).Format(ReadyAtLayout),
			qty, item, readyInMarker, compactRemaining(u.ReadyAt.Sub(generatedAt)))
	}
	return bw.Flush()
}

// WriteFile atomically replaces the log at path.
func WriteFile(path string, generatedAt time.Time, items []Upcoming) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".summary-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Write(tmp, generatedAt, items); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func compactRemaining(d time.Duration) string {
	if d < time.Minute {
		return readyNow
	}
	hours := int64(d / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	if hours > 0 {
		return strconv.FormatInt(hours, 10) + "h " + strconv.FormatInt(minutes, 10) + "m"
	}
	return strconv.FormatInt(minutes, 10) + "m"
}
