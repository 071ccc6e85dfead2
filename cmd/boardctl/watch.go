package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"salesboard/internal/domain"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream board changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.client().Subscribe(cmd.Context(), func(e domain.BoardEvent) {
				line := fmt.Sprintf("%s  %-12s %s", e.At.Format("15:04:05"), e.Action, e.LeadID)
				if e.Stage != "" {
					line += " → " + e.Stage
				}
				fmt.Fprintln(a.out, line)
			})
		},
	}
}
