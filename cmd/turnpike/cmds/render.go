package cmds

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
)

var (
	bold   = color.New(color.Bold).SprintfFunc()
	faint  = color.New(color.Faint).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

var toolStatusIcons = map[transcript.ToolStatus]string{
	transcript.ToolStatusPending:    "o",
	transcript.ToolStatusConfirming: "?",
	transcript.ToolStatusExecuting:  "~",
	transcript.ToolStatusSuccess:    "✔",
	transcript.ToolStatusError:      "x",
	transcript.ToolStatusCancelled:  "-",
}

// Printer renders committed transcript entries as lines of text.
type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	markdown bool
}

// NewPrinter returns a printer writing to out. In auto mode markdown is
// rendered only when stdout is a terminal.
func NewPrinter(out io.Writer, mode string) *Printer {
	markdown := false
	switch mode {
	case "markdown":
		markdown = true
	case "", "auto":
		markdown = isatty.IsTerminal(os.Stdout.Fd())
	}
	return &Printer{out: out, markdown: markdown}
}

func (p *Printer) render(text string) string {
	if !p.markdown {
		return text
	}
	styled, err := glamour.Render(text, "dark")
	if err != nil {
		log.Debug().Err(err).Msg("could not render markdown")
		return text
	}
	return styled
}

func (p *Printer) PublishEntry(e transcript.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case transcript.KindUser:
		// already on screen
	case transcript.KindUserShell:
		fmt.Fprintf(p.out, "\n%s\n", faint("$ %s", e.Text))
	case transcript.KindAssistant:
		fmt.Fprintf(p.out, "\n%s\n%s", bold("assistant"), p.render(e.Text))
	case transcript.KindAssistantContinuation:
		fmt.Fprint(p.out, p.render(e.Text))
	case transcript.KindInfo:
		fmt.Fprintf(p.out, "\n%s\n", yellow("ℹ %s", e.Text))
	case transcript.KindError:
		fmt.Fprintf(p.out, "\n%s\n", red("✕ %s", e.Text))
	case transcript.KindToolGroup:
		fmt.Fprintln(p.out)
		for _, t := range e.Tools {
			line := fmt.Sprintf(" %s %s", toolStatusIcons[t.Status], bold(t.DisplayName))
			if t.Description != "" {
				line += " " + faint(t.Description)
			}
			fmt.Fprintln(p.out, line)
			if t.ResultDisplay != "" {
				fmt.Fprintln(p.out, indent(t.ResultDisplay, "   "))
			}
		}
	}
	return nil
}

// Notice prints a line that is not part of the transcript.
func (p *Printer) Notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s\n", faint(text))
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

var _ transcript.Sink = (*Printer)(nil)
