package cmds

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/config"
	"github.com/go-go-golems/turnpike/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

func NewChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long:  "Start an interactive session. Ctrl+C cancels the running request; Ctrl+C at the prompt, /quit or end of input exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load()
			if err != nil {
				return err
			}
			ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}
			app, err := NewApp(s, ui, os.Stdout)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), app, ui)
		},
	}
}

func runChat(ctx context.Context, app *App, ui *input.UI) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	routerErr := app.Start(ctx)
	defer func() {
		cancel()
		if closeErr := app.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if rErr := <-routerErr; rErr != nil {
			log.Debug().Err(rErr).Msg("router stopped")
		}
	}()
	ctx = app.Context(ctx)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-interrupts:
				if app.Coordinator.State() == turn.StateResponding {
					app.Coordinator.CancelOngoingRequest()
				}
			}
		}
	}()

	app.Printer.Notice("Type /help for commands, /quit to exit.")
	for {
		line, err := ui.Ask("\n>", &input.Options{HideOrder: true})
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) {
				return nil
			}
			log.Debug().Err(err).Msg("input closed")
			return nil
		}
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		if err := app.Coordinator.SubmitQuery(ctx, line); err != nil {
			switch {
			case errors.Is(err, turn.ErrEmptyQuery):
				continue
			case backend.IsUnauthorized(err):
				return err
			default:
				app.Printer.Notice(err.Error())
			}
		}
		if err := app.Coordinator.WaitIdle(ctx); err != nil {
			return err
		}
	}
}
