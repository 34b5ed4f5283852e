package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-go-golems/turnpike/pkg/checkpoint"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// slashCommands handles the /-prefixed inputs of the chat.
type slashCommands struct {
	app *App
}

const helpText = `Commands:
  /help                  show this help
  /clear                 clear the screen transcript
  /tools                 list the available tools
  /tool <name> <json>    run a tool yourself; the result is not sent to the model
  /checkpoints           list the checkpoints
  /restore <file>        restore files and conversation from a checkpoint
  !<command>             run a shell command in the workspace; the model does not see it
  @<path>                include a workspace file in the message`

func (s *slashCommands) ProcessCommand(ctx context.Context, text string) (turn.Preprocessed, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return turn.Preprocessed{}, nil
	}
	name, rest, _ := strings.Cut(text[1:], " ")
	rest = strings.TrimSpace(rest)
	p := s.app.Printer

	switch name {
	case "help", "?":
		p.Notice(helpText)
	case "clear":
		s.app.Transcript.Clear()
	case "tools":
		for _, t := range s.app.Registry.ListTools() {
			p.Notice(fmt.Sprintf("%s: %s", t.Name, t.Description))
		}
	case "tool":
		return turn.Preprocessed{Handled: true}, s.runTool(ctx, rest)
	case "checkpoints":
		return turn.Preprocessed{Handled: true}, s.listCheckpoints()
	case "restore":
		return turn.Preprocessed{Handled: true}, s.restore(ctx, rest)
	default:
		p.Notice(fmt.Sprintf("Unknown command: /%s", name))
	}
	return turn.Preprocessed{Handled: true}, nil
}

func (s *slashCommands) runTool(ctx context.Context, rest string) error {
	name, rawArgs, _ := strings.Cut(rest, " ")
	if name == "" {
		return errors.New("usage: /tool <name> <json arguments>")
	}
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return errors.Wrap(err, "tool arguments must be a JSON object")
		}
	}
	return s.app.Coordinator.ScheduleClientTool(ctx, name, args)
}

func (s *slashCommands) listCheckpoints() error {
	if !s.app.Settings.Checkpointing {
		s.app.Printer.Notice("Checkpointing is disabled. Start with --checkpointing.")
		return nil
	}
	infos, err := checkpoint.List(s.app.Settings.CheckpointDir)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		s.app.Printer.Notice("No checkpoints yet.")
	}
	for _, i := range infos {
		s.app.Printer.Notice(i.Name)
	}
	return nil
}

// restore puts the files and the conversation back to a checkpoint, then
// runs the recorded tool call again.
func (s *slashCommands) restore(ctx context.Context, name string) error {
	if s.app.Snapshotter == nil {
		return errors.New("checkpointing is disabled")
	}
	if name == "" {
		return s.listCheckpoints()
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.app.Settings.CheckpointDir, name)
	}
	if filepath.Ext(path) == "" {
		path += ".json"
	}

	rec, err := checkpoint.Restore(ctx, path, s.app.Snapshotter)
	if err != nil {
		return err
	}
	s.app.Transcript.Replace(rec.History)
	s.app.Session.SetHistory(rec.ClientHistory)
	log.Info().Str("checkpoint", path).Str("commit", rec.CommitHash).Msg("restored checkpoint")
	s.app.Printer.Notice(fmt.Sprintf("Restored %s.", filepath.Base(path)))

	if rec.ToolCall.Name == "" {
		return nil
	}
	return s.app.Coordinator.ScheduleClientTool(ctx, rec.ToolCall.Name, rec.ToolCall.Args)
}

var _ turn.CommandProcessor = (*slashCommands)(nil)

var referencePattern = regexp.MustCompile(`(^|\s)@([^\s]+)`)

// fileReferences appends the content of @path references to the message.
type fileReferences struct {
	root string
}

func (f *fileReferences) ProcessReferences(_ context.Context, text string) (turn.Preprocessed, error) {
	matches := referencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return turn.Preprocessed{}, nil
	}

	parts := []history.Part{history.TextPart(text)}
	for _, m := range matches {
		rel := m[2]
		path := filepath.Join(f.root, filepath.Clean("/"+rel))
		b, err := os.ReadFile(path)
		if err != nil {
			log.Debug().Err(err).Str("reference", rel).Msg("skipping unreadable reference")
			continue
		}
		parts = append(parts, history.TextPart(fmt.Sprintf("--- Content from referenced file: %s ---\n%s\n--- End of content ---", rel, b)))
	}
	return turn.Preprocessed{Parts: parts}, nil
}

var _ turn.ReferenceProcessor = (*fileReferences)(nil)
