package notify

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// LogAlerter writes reminders to the application log.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, title, message string) error {
	log.Warn().Str("title", title).Msg(message)
	return nil
}

// CommandAlerter runs an external program (for example notify-send) with the
// alert title and message appended to Args.
type CommandAlerter struct {
	Command string
	Args    []string
}

func (a CommandAlerter) Alert(ctx context.Context, title, message string) error {
	if a.Command == "" {
		return fmt.Errorf("command is required")
	}
	args := append(append([]string{}, a.Args...), title, message)
	cmd := exec.CommandContext(ctx, a.Command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("alert command error: %v; out=%s", err, string(out))
	}
	return nil
}
