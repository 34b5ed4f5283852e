package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/turnpike/pkg/backend/openai"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token utilities",
	}
	cmd.AddCommand(newCountCommand())
	return cmd
}

func newCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count [file...]",
		Short: "Count the tokens of files or stdin with the tokenizer of --model",
		RunE: func(cmd *cobra.Command, args []string) error {
			model := viper.GetString("model")
			w := cmd.OutOrStdout()

			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "could not read stdin")
				}
				n, err := openai.CountText(model, string(b))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "%d\n", n)
				return err
			}

			total := 0
			for _, path := range args {
				b, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "could not read %s", path)
				}
				n, err := openai.CountText(model, string(b))
				if err != nil {
					return err
				}
				total += n
				fmt.Fprintf(w, "%s: %d\n", path, n)
			}
			if len(args) > 1 {
				fmt.Fprintf(w, "total: %d\n", total)
			}
			return nil
		},
	}
}
