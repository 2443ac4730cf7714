package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/observability"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// statusReport is what the mirror says about the last running agent.
type statusReport struct {
	Status      schemas.ConnectionStatus `json:"connectionStatus"`
	Connection  *schemas.ConnectionState `json:"connectionData,omitempty"`
	Tasks       []schemas.Task           `json:"taskQueue"`
	LastUpdated int64                    `json:"lastUpdated,omitempty"`
}

// getter decodes one mirror key into out.
type getter func(key string, out interface{}) (bool, error)

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		limit  int
		watch  bool
	)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the connection state and task queue recorded by the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if watch {
				if cfg.UI.ListenAddr == "" {
					return fmt.Errorf("--watch needs ui.listen_addr to be set")
				}
				return watchStatus(cmd.Context(), cfg.UI.ListenAddr, cmd.OutOrStdout())
			}
			report, err := loadStatus(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printStatus(cmd.OutOrStdout(), report, limit)
			return nil
		},
	}

	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw mirror values as JSON")
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow live events from the running agent's status websocket")
	statusCmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of tasks to list, most recent first (0 lists all)")
	return statusCmd
}

// loadStatus reads the mirror the configured driver points at. The file driver
// is read without opening a sink so a running agent's document is never touched.
func loadStatus(ctx context.Context, cfg config.StorageConfig) (statusReport, error) {
	var get getter
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return statusReport{}, fmt.Errorf("status is unavailable with the memory storage driver")
	case "file":
		doc, err := store.ReadFile(cfg.Path)
		if err != nil {
			return statusReport{}, fmt.Errorf("failed to read agent state: %w", err)
		}
		get = func(key string, out interface{}) (bool, error) {
			raw, ok := doc[key]
			if !ok {
				return false, nil
			}
			return true, json.Unmarshal(raw, out)
		}
	default:
		sink, err := store.Open(ctx, cfg, observability.GetLogger())
		if err != nil {
			return statusReport{}, fmt.Errorf("failed to open storage: %w", err)
		}
		defer sink.Close()
		get = func(key string, out interface{}) (bool, error) {
			return sink.Get(ctx, key, out)
		}
	}
	return decodeStatus(get)
}

func decodeStatus(get getter) (statusReport, error) {
	report := statusReport{Status: schemas.StatusDisconnected}

	if _, err := get(schemas.KeyConnectionStatus, &report.Status); err != nil {
		return report, fmt.Errorf("failed to decode %s: %w", schemas.KeyConnectionStatus, err)
	}
	var conn schemas.ConnectionState
	found, err := get(schemas.KeyConnectionData, &conn)
	if err != nil {
		return report, fmt.Errorf("failed to decode %s: %w", schemas.KeyConnectionData, err)
	}
	if found {
		report.Connection = &conn
	}
	if _, err := get(schemas.KeyTaskQueue, &report.Tasks); err != nil {
		return report, fmt.Errorf("failed to decode %s: %w", schemas.KeyTaskQueue, err)
	}
	if _, err := get(schemas.KeyLastUpdated, &report.LastUpdated); err != nil {
		return report, fmt.Errorf("failed to decode %s: %w", schemas.KeyLastUpdated, err)
	}
	return report, nil
}

func printStatus(w io.Writer, r statusReport, limit int) {
	fmt.Fprintf(w, "Connection:   %s\n", r.Status)
	if c := r.Connection; c != nil {
		if c.URL != "" {
			fmt.Fprintf(w, "Controller:   %s\n", c.URL)
		}
		if c.Attempt > 0 {
			fmt.Fprintf(w, "Attempt:      %d\n", c.Attempt)
		}
		if c.LastError != "" {
			fmt.Fprintf(w, "Last error:   %s\n", c.LastError)
		}
	}
	if r.LastUpdated > 0 {
		fmt.Fprintf(w, "Last updated: %s\n", time.UnixMilli(r.LastUpdated).Format(time.RFC3339))
	}

	counts := map[schemas.TaskStatus]int{}
	for _, t := range r.Tasks {
		counts[t.Status]++
	}
	fmt.Fprintf(w, "Tasks:        %d (%d running, %d succeeded, %d failed, %d timed out)\n", len(r.Tasks),
		counts[schemas.TaskRunning], counts[schemas.TaskSuccess], counts[schemas.TaskFailed], counts[schemas.TaskTimeout])

	shown := r.Tasks
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, t := range shown {
		line := fmt.Sprintf("  %-36s  %-22s  %-9s", t.ID, t.Type, t.Status)
		if t.DurationMs != nil {
			line += fmt.Sprintf("  %dms", *t.DurationMs)
		}
		if t.Error != "" {
			line += "  " + t.Error
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}
