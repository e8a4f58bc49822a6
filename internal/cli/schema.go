package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the composed schema as SDL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(rootOpts, cmd)
		},
	}
}

func runSchema(rootOpts *RootOptions, cmd *cobra.Command) error {
	_, g, err := rootOpts.gateway(nil)
	if err != nil {
		return err
	}
	defer g.Close()

	_, err = fmt.Fprint(cmd.OutOrStdout(), g.SDL())
	return err
}
