// -- cmd/tasks.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagegym/pagegym/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the registered benchmark tasks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := task.NewDefaultRegistry(startURL)
		for _, id := range registry.IDs() {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}
