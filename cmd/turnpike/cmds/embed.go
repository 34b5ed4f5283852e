package cmds

import (
	"encoding/json"

	"github.com/go-go-golems/turnpike/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewEmbedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "embed <text...>",
		Short: "Print the embedding vectors of the given texts as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load()
			if err != nil {
				return err
			}
			provider, err := newProvider(s)
			if err != nil {
				return err
			}
			session := newSession(s, provider, nil)
			vectors, err := session.Embed(cmd.Context(), args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(vectors); err != nil {
				return errors.Wrap(err, "could not encode vectors")
			}
			return nil
		},
	}
}
