package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/flowcapture/internal/deps"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Check that ffmpeg and a browser are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		report := deps.NewChecker().Check(cmd.Context())
		for _, d := range report.Dependencies {
			status := "missing"
			if d.Installed {
				status = "ok"
			}
			fmt.Printf("%-8s %-8s %s", d.Name, status, d.Path)
			if d.Version != "" {
				fmt.Printf(" (%s)", d.Version)
			}
			fmt.Println()
		}
		if !report.Ready {
			return fmt.Errorf("missing required dependencies")
		}
		return nil
	},
}
