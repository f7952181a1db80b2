package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sflnotify/internal/notifier"
	"sflnotify/internal/notifylog"
	"sflnotify/internal/storage"
	"sflnotify/internal/transport/telegram"
)

const recentCommandLimit = 10

// telegramCommands are the chat commands exposed by the Telegram presenter.
func (a *App) telegramCommands() []telegram.Command {
	return []telegram.Command{
		{
			Name:        "recent",
			Description: "Last delivered notifications",
			Handler: func(ctx context.Context) (string, error) {
				ds, err := a.notif.Recent(ctx, recentCommandLimit)
				if err != nil {
					return "", err
				}
				return formatRecent(ds, a.location()), nil
			},
		},
		{
			Name:        "summary",
			Description: "Upcoming notification schedule",
			Handler: func(context.Context) (string, error) {
				return notifylog.ReadFile(a.summaryPath()), nil
			},
		},
		{
			Name:        "status",
			Description: "Delivery pipeline status",
			Handler: func(context.Context) (string, error) {
				return formatStatus(a.notif.Stats(), a.hub.Clients()), nil
			},
		},
	}
}

func formatRecent(ds []storage.Delivery, loc *time.Location) string {
	if len(ds) == 0 {
		return "No deliveries yet."
	}
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	for i, d := range ds {
		if i > 0 {
			b.WriteByte('\n')
		}
		title := d.Title
		if title == "" {
			title = d.Category
			if d.Item != "" {
				title += "/" + d.Item
			}
		}
		fmt.Fprintf(&b, "%s  %-10s %s", d.At.In(loc).Format("Jan 2 15:04"), d.Status, title)
		if d.Error != "" {
			fmt.Fprintf(&b, " (%s)", d.Error)
		}
	}
	return b.String()
}

func formatStatus(st notifier.Stats, wsClients int) string {
	state := "stopped"
	switch {
	case !st.Enabled:
		state = "disabled"
	case st.Running:
		state = "running"
	}
	return fmt.Sprintf("Notifier: %s\nQueue: %d/%d\nLive clients: %d", state, st.Queued, st.QueueCap, wsClients)
}
