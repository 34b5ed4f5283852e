package cmds

import (
	"context"
	"io"
	"os"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/backend/openai"
	"github.com/go-go-golems/turnpike/pkg/backend/scripted"
	"github.com/go-go-golems/turnpike/pkg/checkpoint"
	"github.com/go-go-golems/turnpike/pkg/config"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/tools"
	"github.com/go-go-golems/turnpike/pkg/tools/builtin"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/go-go-golems/turnpike/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tcnksm/go-input"
)

// App wires a backend session, the builtin tools and the turn coordinator together.
type App struct {
	Settings    *config.Settings
	Session     *backend.Session
	Registry    *tools.Registry
	Scheduler   *tools.Scheduler
	Transcript  *transcript.Transcript
	Router      *transcript.Router
	Recorder    *transcript.Recorder
	Coordinator *turn.Coordinator
	Checkpoints *checkpoint.Recorder
	Snapshotter *checkpoint.GitSnapshotter
	Printer     *Printer

	sinks      []events.EventSink
	eventsFile *os.File
}

func newProvider(s *config.Settings) (backend.Provider, error) {
	switch s.Provider {
	case "scripted":
		script, err := scripted.Load(s.Script)
		if err != nil {
			return nil, err
		}
		return scripted.New(script), nil
	default:
		var options []openai.Option
		if s.OpenAIBaseURL != "" {
			options = append(options, openai.WithBaseURL(s.OpenAIBaseURL))
		}
		if s.EmbeddingModel != "" {
			options = append(options, openai.WithEmbeddingModel(s.EmbeddingModel))
		}
		return openai.NewProvider(s.OpenAIAPIKey, options...)
	}
}

func newSession(s *config.Settings, provider backend.Provider, specs []backend.ToolSpec) *backend.Session {
	options := []backend.SessionOption{
		backend.WithModel(s.Model),
		backend.WithTools(specs...),
		backend.WithFragmentMode(s.Mode()),
		backend.WithMaxSessionTurns(s.MaxSessionTurns),
		backend.WithLoopThresholds(s.LoopThreshold, s.LoopThreshold*backend.DefaultContentLoopThreshold),
	}
	if s.System != "" {
		options = append(options, backend.WithSystemInstruction(s.System))
	}
	if s.TokenLimit > 0 {
		options = append(options, backend.WithCompression(s.TokenLimit, s.CompressionThreshold))
	}
	return backend.NewSession(provider, options...)
}

// NewApp builds the application printing to out. ui is used for approval
// prompts; when nil every mutating call that is not auto-approved is denied.
func NewApp(s *config.Settings, ui *input.UI, out io.Writer) (*App, error) {
	provider, err := newProvider(s)
	if err != nil {
		return nil, err
	}
	registry, err := builtin.NewRegistry(s.Workspace)
	if err != nil {
		return nil, err
	}

	router, err := transcript.NewRouter(transcript.WithLogger(transcript.NewZerologAdapter(log.Logger)))
	if err != nil {
		return nil, err
	}

	ret := &App{
		Settings:   s,
		Session:    newSession(s, provider, registry.ToolSpecs()),
		Registry:   registry,
		Router:     router,
		Recorder:   &transcript.Recorder{},
		Printer:    NewPrinter(out, s.Render),
		Transcript: transcript.New(),
	}
	ret.Transcript.AddSink(router.Sink(transcript.DefaultTopic))
	router.AddEntryHandler("print", transcript.DefaultTopic, ret.Printer.PublishEntry)
	router.AddEntryHandler("record", transcript.DefaultTopic, ret.Recorder.PublishEntry)

	var approver tools.Approver = tools.DenyAll
	if ui != nil {
		approver = newPromptApprover(ui, ret.Printer)
	}
	ret.Scheduler = tools.NewScheduler(registry,
		tools.WithApprover(approver),
		tools.WithAutoApprove(s.AutoApprove...),
		tools.WithMaxParallelTools(s.MaxParallelTools),
	)

	options := []turn.Option{
		turn.WithFragmentMode(s.Mode()),
		turn.WithCommandProcessor(&slashCommands{app: ret}),
		turn.WithShellProcessor(&shellCommands{app: ret}),
		turn.WithReferenceProcessor(&fileReferences{root: s.Workspace}),
		turn.WithAuthErrorHandler(func(_ context.Context, err error) {
			ret.Printer.Notice("Authentication failed. Check --openai-api-key or TURNPIKE_OPENAI_API_KEY.")
		}),
	}
	if s.Checkpointing {
		ret.Snapshotter = checkpoint.NewGitSnapshotter(s.Workspace, s.ShadowGitDir)
		ret.Checkpoints = checkpoint.NewRecorder(s.CheckpointDir, ret.Snapshotter, ret.Transcript, ret.Session,
			checkpoint.WithTools(registry.MutatingTools()...))
		options = append(options, turn.WithApprovalObserver(ret.Checkpoints))
	}
	ret.Coordinator = turn.New(ret.Session, ret.Transcript, ret.Scheduler, options...)

	ret.sinks = append(ret.sinks, &events.LogSink{Level: zerolog.TraceLevel})
	if s.EventsOut != "" {
		f, err := os.Create(s.EventsOut)
		if err != nil {
			return nil, errors.Wrap(err, "could not create events file")
		}
		ret.eventsFile = f
		ret.sinks = append(ret.sinks, events.NewJSONLinesSink(f))
	}
	return ret, nil
}

// Context attaches the app's event sinks to ctx.
func (a *App) Context(ctx context.Context) context.Context {
	return events.WithEventSinks(ctx, a.sinks...)
}

// Start runs the transcript router until ctx is done and waits until it accepts entries.
func (a *App) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Router.Run(ctx)
	}()
	<-a.Router.Running()
	return errCh
}

// Close waits for running tools, writes the transcript dump and releases resources.
func (a *App) Close() error {
	a.Scheduler.Wait()

	var ret error
	if a.Settings.TranscriptOut != "" {
		if err := a.writeTranscript(a.Settings.TranscriptOut); err != nil {
			ret = err
		}
	}
	if a.eventsFile != nil {
		if err := a.eventsFile.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close events file")
		}
	}
	if err := a.Router.Close(); err != nil && ret == nil {
		ret = err
	}
	return ret
}

func (a *App) writeTranscript(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create transcript file")
	}
	defer func() {
		_ = f.Close()
	}()
	return transcript.WriteYAML(f, a.Recorder.Entries())
}
