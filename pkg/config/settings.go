package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/turnpike/pkg/reassembler"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const AppName = "turnpike"

// Settings is the resolved configuration of a turnpike run. Values come from
// flags, TURNPIKE_* environment variables and the config file, in that order.
type Settings struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	OpenAIAPIKey   string `mapstructure:"openai-api-key"`
	OpenAIBaseURL  string `mapstructure:"openai-base-url"`
	EmbeddingModel string `mapstructure:"embedding-model"`
	Script         string `mapstructure:"script"`
	System         string `mapstructure:"system"`

	MaxSessionTurns      int     `mapstructure:"max-session-turns"`
	CompressionThreshold float64 `mapstructure:"compression-threshold"`
	TokenLimit           int     `mapstructure:"token-limit"`
	LoopThreshold        int     `mapstructure:"loop-threshold"`

	FragmentMode string `mapstructure:"fragment-mode"`

	Workspace        string   `mapstructure:"workspace"`
	AutoApprove      []string `mapstructure:"auto-approve"`
	MaxParallelTools int      `mapstructure:"max-parallel-tools"`

	Checkpointing bool   `mapstructure:"checkpointing"`
	CheckpointDir string `mapstructure:"checkpoint-dir"`
	ShadowGitDir  string `mapstructure:"shadow-git-dir"`

	TranscriptOut string `mapstructure:"transcript-out"`
	Render        string `mapstructure:"render"`
	EventsOut     string `mapstructure:"events-out"`
}

// AddFlags declares the session flags on cmd.
func AddFlags(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.String("provider", "openai", "Backend provider (openai, scripted)")
	fs.String("model", "gpt-4o-mini", "Model name")
	fs.String("openai-api-key", "", "OpenAI API key")
	fs.String("openai-base-url", "", "OpenAI compatible base URL")
	fs.String("embedding-model", "", "Embedding model")
	fs.String("script", "", "YAML script replayed by the scripted provider")
	fs.String("system", "", "System instruction")

	fs.Int("max-session-turns", 0, "Maximum number of turns per session (0 is unlimited)")
	fs.Float64("compression-threshold", 0.7, "Fraction of the token limit at which the history is compressed")
	fs.Int("token-limit", 0, "Token limit of the model (0 disables compression)")
	fs.Int("loop-threshold", 5, "Identical tool calls in a row that count as a loop (0 disables loop detection)")

	fs.String("fragment-mode", string(reassembler.ModeAuto), "How streamed content fragments accumulate (auto, delta, snapshot)")

	fs.String("workspace", ".", "Root directory the file tools operate in")
	fs.StringSlice("auto-approve", nil, "Glob patterns of tool names that run without confirmation")
	fs.Int("max-parallel-tools", 3, "Maximum number of tools running at once")

	fs.Bool("checkpointing", false, "Write a checkpoint before file-modifying tools run")
	fs.String("checkpoint-dir", "", "Checkpoint directory (default: <config dir>/turnpike/checkpoints)")
	fs.String("shadow-git-dir", "", "Git dir of the snapshot repository (default: <config dir>/turnpike/history)")

	fs.String("transcript-out", "", "Write the session transcript as YAML to this file on exit")
	fs.String("render", "auto", "Assistant output rendering (auto, plain, markdown)")
	fs.String("events-out", "", "Write every stream event as a JSON line to this file")
}

// InitViper loads the config file and environment and binds the flags of cmd.
// An explicit configPath must exist; otherwise a missing file is not an error.
func InitViper(cmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix(AppName)

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/." + AppName)
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(xdgConfigPath, AppName))
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		log.Debug().Msg("no config file found")
	} else if err != nil {
		return errors.Wrap(err, "could not read config file")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return errors.Wrap(err, "could not bind flags")
	}

	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("loaded configuration")
	return nil
}

// Load decodes the current viper state into Settings and fills in defaults
// that depend on the environment.
func Load() (*Settings, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.applyDefaults(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyDefaults() error {
	if s.CheckpointDir == "" || s.ShadowGitDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return errors.Wrap(err, "could not find config dir")
		}
		if s.CheckpointDir == "" {
			s.CheckpointDir = filepath.Join(base, AppName, "checkpoints")
		}
		if s.ShadowGitDir == "" {
			s.ShadowGitDir = filepath.Join(base, AppName, "history")
		}
	}
	if s.Workspace == "" {
		s.Workspace = "."
	}
	abs, err := filepath.Abs(s.Workspace)
	if err != nil {
		return errors.Wrapf(err, "invalid workspace %s", s.Workspace)
	}
	s.Workspace = abs
	return nil
}

func (s *Settings) Validate() error {
	if _, err := reassembler.ParseMode(s.FragmentMode); err != nil {
		return err
	}
	switch s.Provider {
	case "openai", "scripted":
	default:
		return errors.Errorf("unknown provider %q", s.Provider)
	}
	if s.Provider == "scripted" && s.Script == "" {
		return errors.New("the scripted provider needs --script")
	}
	switch s.Render {
	case "", "auto", "plain", "markdown":
	default:
		return errors.Errorf("unknown render mode %q", s.Render)
	}
	if s.MaxParallelTools < 0 {
		return errors.New("max-parallel-tools must not be negative")
	}
	if s.CompressionThreshold < 0 || s.CompressionThreshold > 1 {
		return errors.New("compression-threshold must be between 0 and 1")
	}
	return nil
}

// Mode returns the parsed fragment mode. Validate has already checked it.
func (s *Settings) Mode() reassembler.Mode {
	m, _ := reassembler.ParseMode(s.FragmentMode)
	return m
}
