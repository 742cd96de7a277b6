package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of gitnote",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gitnote version %s\n", gitnote.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
