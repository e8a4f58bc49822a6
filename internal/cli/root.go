// Package cli implements the braid command line.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hanpama/braid/internal/config"
	"github.com/hanpama/braid/internal/gateway"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
}

// NewRootCommand creates the braid root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "braid",
		Short: "braid - a batching GraphQL schema stitching gateway",
		Long: `braid composes the schemas of several GraphQL backends into one and
serves it, batching the fields each backend resolves into one query per
execution depth.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "braid.yaml", "configuration file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewProtoCommand(opts))
	return cmd
}

// load reads the configuration file after bind has had a chance to bind
// command flags.
func (o *RootOptions) load(bind func(v *viper.Viper) error) (*config.Config, error) {
	v, err := config.Read(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if bind != nil {
		if err := bind(v); err != nil {
			return nil, err
		}
	}
	return config.FromViper(v, configDir(o.ConfigFile))
}

func (o *RootOptions) gateway(bind func(v *viper.Viper) error) (*config.Config, *gateway.Gateway, error) {
	cfg, err := o.load(bind)
	if err != nil {
		return nil, nil, err
	}
	g, err := gateway.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, g, nil
}
