package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskpulse/internal/app"
	"taskpulse/internal/domain"
)

var (
	taskDesc        string
	taskDue         string
	taskIn          time.Duration
	taskLocation    string
	taskAttachments []string
	taskTitle       string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and edit tasks",
	RunE:  runTasksList,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTasksList,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task and arm its reminder",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTasksAdd,
}

var tasksUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksUpdate,
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and cancel its reminder",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksDelete,
}

func init() {
	for _, c := range []*cobra.Command{tasksAddCmd, tasksUpdateCmd} {
		c.Flags().StringVar(&taskDesc, "description", "", "task description")
		c.Flags().StringVar(&taskDue, "due", "", "due date, RFC 3339 (e.g. 2026-10-20T15:00:00+03:00)")
		c.Flags().DurationVar(&taskIn, "in", 0, "due date relative to now (e.g. 2h)")
		c.Flags().StringVar(&taskLocation, "location", "", "free-text address")
		c.Flags().StringSliceVar(&taskAttachments, "attach", nil, "attachment reference (repeatable)")
	}
	tasksUpdateCmd.Flags().StringVar(&taskTitle, "title", "", "new title")

	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksUpdateCmd, tasksDeleteCmd)
}

func parseDue() (time.Time, bool, error) {
	switch {
	case taskDue != "":
		t, err := time.Parse(time.RFC3339, taskDue)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("--due: %w", err)
		}
		return t, true, nil
	case taskIn != 0:
		return time.Now().Add(taskIn), true, nil
	}
	return time.Time{}, false, nil
}

func runTasksList(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app.App) error {
		printTasks(a.Store.Tasks())
		return nil
	})
}

func runTasksAdd(cmd *cobra.Command, args []string) error {
	due, ok, err := parseDue()
	if err != nil {
		return err
	}
	if !ok {
		due = time.Now().Add(time.Hour)
	}
	return withApp(cmd.Context(), func(a *app.App) error {
		t, err := a.Store.Create(cmd.Context(), domain.TaskDraft{
			Title:       strings.Join(args, " "),
			Description: taskDesc,
			DueDate:     due,
			Location:    taskLocation,
			Attachments: taskAttachments,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", t.ID)
		if slot, ok := a.Scheduler.Slot(t.ID); ok {
			fmt.Printf("Reminder at %s\n", slot.FireAt.Format(time.RFC1123))
		}
		return nil
	})
}

func runTasksUpdate(cmd *cobra.Command, args []string) error {
	var patch domain.TaskPatch
	flags := cmd.Flags()
	if flags.Changed("title") {
		patch.Title = &taskTitle
	}
	if flags.Changed("description") {
		patch.Description = &taskDesc
	}
	if flags.Changed("location") {
		patch.Location = &taskLocation
	}
	if flags.Changed("attach") {
		patch.Attachments = &taskAttachments
	}
	due, ok, err := parseDue()
	if err != nil {
		return err
	}
	if ok {
		patch.DueDate = &due
	}
	return withApp(cmd.Context(), func(a *app.App) error {
		t, err := a.Store.Update(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s (%s)\n", t.ID, t.Title)
		return nil
	})
}

func runTasksDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app.App) error {
		if err := a.Store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	})
}

func printTasks(tasks []domain.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tDUE\tSTATUS\tLOCATION")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.DueDate.Local().Format("2006-01-02 15:04"), t.Status, t.Location)
	}
	w.Flush()
}
