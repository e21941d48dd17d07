package main

import (
	"os"
)

func main() {
	rootCmd := NewRootCommand()
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewProceduresCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
