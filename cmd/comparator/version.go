package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/weasel/comparator/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print comparator version information",
	Run: func(cmd *cobra.Command, args []string) {
		versionInfo := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "Comparator Version: %s\n", versionInfo.String())
		fmt.Fprintf(cmd.OutOrStdout(), "Build Date: %s\n", versionInfo.BuildDate)
		fmt.Fprintf(cmd.OutOrStdout(), "Go Version: %s %s\n", versionInfo.GoVersion, versionInfo.Platform)
	},
}
