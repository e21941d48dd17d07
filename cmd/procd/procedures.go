package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	logger "github.com/hanpama/procroute/internal/logger"
	procedure "github.com/hanpama/procroute/internal/procedure"
	"github.com/hanpama/procroute/internal/registry"
)

// NewProceduresCommand returns the command listing the registered
// procedures with their schemas.
func NewProceduresCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "procedures",
		Short: "List the registered procedures as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := ReadConfig()
			if err != nil {
				return err
			}
			reg, err := newDemo(config, logger.NewNoopLogger(), nil).router().Build()
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(describe(reg), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("authn-secret", "", "list procedures that require a bearer token as if this secret were set")
	cmd.PreRun = bindFlagsFunc(flags, []flagBinding{{"authn.secret", "authn-secret", "PROCD_AUTHN_SECRET"}})
	return cmd
}

func describe(reg *registry.Registry) []procedure.Info {
	out := make([]procedure.Info, 0, reg.Len())
	for _, k := range procedure.Kinds {
		out = append(out, reg.Procedures(k)...)
	}
	return out
}
