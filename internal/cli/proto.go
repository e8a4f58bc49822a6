package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanpama/braid/internal/protoreg"
)

// ProtoOptions holds flags for the proto command.
type ProtoOptions struct {
	Package string
	Service string
	OutDir  string
}

// NewProtoCommand creates the proto command. It needs no configuration
// file: the gRPC contract does not depend on backend schemas.
func NewProtoCommand(_ *RootOptions) *cobra.Command {
	opts := &ProtoOptions{}
	cmd := &cobra.Command{
		Use:   "proto",
		Short: "Print the gRPC contract served by braid backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProto(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Package, "package", "", "protobuf package (default braid.v1)")
	cmd.Flags().StringVar(&opts.Service, "service", "", "service name, suffixed with Service (default GraphQL)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "write the file under this directory instead of stdout")
	return cmd
}

func runProto(opts *ProtoOptions, cmd *cobra.Command) error {
	var bo []protoreg.Option
	if opts.Package != "" {
		bo = append(bo, protoreg.WithPackage(opts.Package))
	}
	if opts.Service != "" {
		bo = append(bo, protoreg.WithService(opts.Service))
	}
	reg, err := protoreg.Build(bo...)
	if err != nil {
		return err
	}
	if opts.OutDir == "" {
		return protoreg.Render(reg, cmd.OutOrStdout())
	}
	if err := protoreg.RenderDir(reg, opts.OutDir); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", reg.File().Path())
	return err
}
