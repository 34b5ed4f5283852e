package cmds

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/turnpike/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run a single prompt, including the tool calls it triggers",
		Long:  "Run a single prompt. Without arguments the prompt is read from stdin. Tool calls that need approval are denied unless stdin is a terminal.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := config.Load()
			if err != nil {
				return err
			}

			prompt := strings.Join(args, " ")
			var ui *input.UI
			if isatty.IsTerminal(os.Stdin.Fd()) {
				ui = &input.UI{Writer: os.Stdout, Reader: os.Stdin}
			} else if prompt == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return errors.Wrap(err, "could not read prompt")
				}
				prompt = string(b)
			}

			app, err := NewApp(s, ui, os.Stdout)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			routerErr := app.Start(ctx)
			defer func() {
				if closeErr := app.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
				if rErr := <-routerErr; rErr != nil {
					log.Debug().Err(rErr).Msg("router stopped")
				}
			}()
			ctx = app.Context(ctx)

			if err := app.Coordinator.SubmitQuery(ctx, prompt); err != nil {
				return err
			}
			return app.Coordinator.WaitIdle(ctx)
		},
	}
}
