package cmds

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/go-go-golems/turnpike/pkg/turn"
	"github.com/rs/zerolog/log"
)

// shellCommands runs !-prefixed input in the workspace. The command and its
// output stay in the transcript and are not sent to the model.
type shellCommands struct {
	app *App
}

func (s *shellCommands) ProcessShell(ctx context.Context, text string) (turn.Preprocessed, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return turn.Preprocessed{}, nil
	}
	command := strings.TrimSpace(text[1:])
	if command == "" {
		return turn.Preprocessed{Handled: true}, nil
	}
	tr := s.app.Transcript
	tr.Append(transcript.NewTextEntry(transcript.KindUserShell, command))

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = s.app.Settings.Workspace
	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")
	log.Debug().Str("command", command).Err(err).Msg("shell command finished")

	if output != "" {
		tr.Append(transcript.NewTextEntry(transcript.KindInfo, output))
	}
	switch {
	case ctx.Err() != nil:
	case err != nil:
		tr.Append(transcript.NewTextEntry(transcript.KindError, fmt.Sprintf("Command failed: %v", err)))
	case output == "":
		tr.Append(transcript.NewTextEntry(transcript.KindInfo, "Command exited with no output."))
	}
	return turn.Preprocessed{Handled: true}, nil
}

var _ turn.ShellProcessor = (*shellCommands)(nil)
