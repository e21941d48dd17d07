package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with PROCD, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("PROCD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	for _, path := range []string{"/etc/procd", "$HOME/.procd", "."} {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "procd",
		Short: "Serve typed RPC procedures over HTTP",
		Long: `procd serves queries, mutations and subscriptions registered with the
procedure framework over a small JSON/HTTP protocol, with subscriptions
delivered as server-sent events.`,
		SilenceUsage: true,
	}
}
