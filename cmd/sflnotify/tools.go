package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sflnotify/internal/app"
	"sflnotify/internal/config"
	"sflnotify/internal/linkroute"
	"sflnotify/internal/notifylog"
	"sflnotify/internal/render"
	logx "sflnotify/pkg/logx"
)

var renderCmd = &cobra.Command{
	Use:   "render [payload.json]",
	Short: "Render a payload without delivering it",
	Long: `Reads a payload (same keys as POST /v1/notifications) from the file
argument or stdin and prints the rendered notification as JSON.

Example:
  echo '{"notificationId":1,"itemName":"Sunflower","category":"production","count":3}' | sflnotify render`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the upcoming notification summary log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			cfg, err := loadOptionalConfig()
			if err != nil {
				return err
			}
			path = strings.TrimSpace(cfg.SummaryLog.Path)
		}
		if path == "" {
			path = notifylog.DefaultFileName
		}
		fmt.Fprintln(cmd.OutOrStdout(), notifylog.ReadFile(path))
		return nil
	},
}

var routeCmd = &cobra.Command{
	Use:   "route <url>",
	Short: "Show where a tapped link opens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		only, _ := cmd.Flags().GetBool("notifications-only")
		if !cmd.Flags().Changed("notifications-only") {
			cfg, err := loadOptionalConfig()
			if err != nil {
				return err
			}
			only = cfg.Preferences.LinkNotificationsOnly()
		}
		fmt.Fprintln(cmd.OutOrStdout(), linkroute.Resolve(args[0], only))
		return nil
	},
}

func init() {
	summaryCmd.Flags().String("file", "", "summary log path (default from config)")
	routeCmd.Flags().Bool("notifications-only", false, "treat notifications-only mode as on")
}

// loadOptionalConfig returns the config at cfgPath, or an empty one when the
// file does not exist.
func loadOptionalConfig() (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if errors.Is(err, fs.ErrNotExist) {
		return &config.Config{}, nil
	}
	return cfg, err
}

func runRender(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var p render.Payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	cfg, err := loadOptionalConfig()
	if err != nil {
		return err
	}
	renderer, err := app.BuildRenderer(cfg, logx.NewWriter(cmd.ErrOrStderr(), "warn"))
	if err != nil {
		return err
	}

	out, err := renderer.Render(p, cfg.Preferences.Snapshot())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if errors.Is(err, render.ErrSuppressed) {
		return enc.Encode(map[string]any{"suppressed": true})
	}
	if err != nil {
		return err
	}
	return enc.Encode(out)
}
