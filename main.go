package main

import (
	"os"

	"idev/cmd/inspect"
	"idev/cmd/run"
	"idev/cmd/status"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "idev",
	Short: "Run apps and proxy the WebInspector channel on iOS devices.",
}

func main() {
	rootCmd.AddCommand(run.Cmd)
	rootCmd.AddCommand(inspect.Cmd)
	rootCmd.AddCommand(status.Cmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
