package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var (
		file   string
		follow bool
		raw    bool
		level  string
	)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the agent's log file, optionally following new entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path := file
			if path == "" {
				path = cfg.Logger.LogFile
			}
			if path == "" {
				return fmt.Errorf("no log file configured; set logger.log_file or pass --file")
			}

			t, err := tail.TailFile(path, tail.Config{
				Follow:    follow,
				ReOpen:    follow,
				MustExist: !follow,
				Logger:    tail.DiscardingLogger,
			})
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer t.Cleanup()
			defer t.Stop()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return t.Err()
					}
					if line.Err != nil {
						return fmt.Errorf("failed reading log file: %w", line.Err)
					}
					if raw {
						fmt.Fprintln(out, line.Text)
						continue
					}
					printLogLine(out, line.Text, level)
				}
			}
		},
	}

	logsCmd.Flags().StringVar(&file, "file", "", "log file to read (defaults to logger.log_file)")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing entries as they are written")
	logsCmd.Flags().BoolVar(&raw, "raw", false, "print the JSON lines unformatted")
	logsCmd.Flags().StringVar(&level, "level", "", "only print entries at this level (debug, info, warn, error)")
	return logsCmd
}

// printLogLine renders one JSON log entry as "time LEVEL logger: message fields".
// Lines that are not JSON objects are printed as they are.
func printLogLine(w io.Writer, text, level string) {
	var entry map[string]interface{}
	if err := json.UnmarshalFromString(text, &entry); err != nil || entry == nil {
		if level == "" {
			fmt.Fprintln(w, text)
		}
		return
	}

	lvl := jsoniter.Get([]byte(text), "level").ToString()
	if level != "" && !strings.EqualFold(lvl, level) {
		return
	}

	var b strings.Builder
	b.WriteString(jsoniter.Get([]byte(text), "ts").ToString())
	b.WriteString(" " + strings.ToUpper(lvl))
	if name := jsoniter.Get([]byte(text), "logger").ToString(); name != "" {
		b.WriteString(" " + name + ":")
	}
	b.WriteString(" " + jsoniter.Get([]byte(text), "msg").ToString())

	for _, key := range sortedKeys(entry) {
		switch key {
		case "ts", "level", "logger", "msg", "caller", "stacktrace":
			continue
		}
		v, err := json.MarshalToString(entry[key])
		if err != nil {
			continue
		}
		b.WriteString(" " + key + "=" + v)
	}
	fmt.Fprintln(w, b.String())
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
