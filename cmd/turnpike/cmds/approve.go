package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-go-golems/turnpike/pkg/toolcalls"
	"github.com/go-go-golems/turnpike/pkg/tools"
	"github.com/pkg/errors"
	"github.com/tcnksm/go-input"
)

// promptApprover asks on the terminal before a tool runs. Answering "a"
// approves every later call of the same tool.
type promptApprover struct {
	ui      *input.UI
	printer *Printer

	mu     sync.Mutex
	always map[string]bool
}

func newPromptApprover(ui *input.UI, printer *Printer) *promptApprover {
	return &promptApprover{ui: ui, printer: printer, always: map[string]bool{}}
}

func (p *promptApprover) Approve(ctx context.Context, call *toolcalls.TrackedCall) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.always[call.Request.Name] {
		return true, nil
	}

	args, err := json.MarshalIndent(call.Request.Args, "   ", "  ")
	if err != nil {
		args = []byte(fmt.Sprint(call.Request.Args))
	}
	query := fmt.Sprintf("\n%s %s\n   %s\nAllow? [y]es/[a]lways/[n]o", bold("Tool call requires confirmation:"), bold(call.DisplayName), args)
	answer, err := p.ui.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "a", "A", "n", "N":
				return nil
			default:
				return fmt.Errorf("please enter 'y', 'a' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "could not read approval")
	}

	switch answer {
	case "y", "Y":
		return true, nil
	case "a", "A":
		p.always[call.Request.Name] = true
		return true, nil
	default:
		return false, nil
	}
}

var _ tools.Approver = (*promptApprover)(nil)
