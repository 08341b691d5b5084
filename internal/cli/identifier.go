package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/botscript/internal/identity"
)

// IdentifierResult is the output of the identifier command.
type IdentifierResult struct {
	Identifier string `json:"identifier"`
}

// NewIdentifierCommand creates the identifier command.
func NewIdentifierCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "identifier <username> <package> <server>",
		Short: "Print the identifier a bot would get",
		Long: `Compute the identifier of a bot without creating it.

Example:
  botscript identifier alice du example.org`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			id := identity.New(args[0], args[1], args[2])
			if rootOpts.Format == "json" {
				return formatter.Success(IdentifierResult{Identifier: id})
			}
			formatter.Line("%s", id)
			return nil
		},
	}
}
