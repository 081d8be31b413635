package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"taskpulse/internal/app"
	"taskpulse/internal/geo"
)

var exportFormat string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show task history, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			h := a.Store.History()
			if len(h) == 0 {
				fmt.Println("No history")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tACTION\tTASK\tTITLE")
			for _, e := range h {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.TaskID, e.TaskTitle)
			}
			return w.Flush()
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send all tasks to the remote server, queueing them if that fails",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			tasks := a.Store.Tasks()
			if err := a.Sync.Sync(cmd.Context(), tasks); err != nil {
				fmt.Printf("Sync deferred: %v\n", err)
				return nil
			}
			fmt.Printf("Synced %d tasks\n", len(tasks))
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print all tasks and history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			data := a.Store.Export()
			switch exportFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			case "yaml":
				return yaml.NewEncoder(os.Stdout).Encode(data)
			}
			return fmt.Errorf("unsupported format %q", exportFormat)
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all tasks, history and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.Store.Wipe(cmd.Context()); err != nil {
				return errors.New("could not clear data")
			}
			fmt.Println("All data cleared")
			return nil
		})
	},
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode <address>",
	Short: "Resolve an address to coordinates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			c, ok := a.Resolver.Resolve(cmd.Context(), strings.Join(args, " "))
			if !ok {
				return errors.New("address is required")
			}
			fmt.Println(geo.FormatCoordinates(c))
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or yaml")
}
