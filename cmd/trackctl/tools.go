package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/providentiaww/track-mcp/internal/tools"
)

func newToolsCmd() *cobra.Command {
	root := &cobra.Command{Use: "tools", Short: "Inspect the tool catalog"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every tool with its parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := newTable(cmd)
			t.AppendHeader([]any{"TOOL", "READ ONLY", "REQUIRED", "OPTIONAL"})
			for _, tool := range tools.NewRegistry().List() {
				var required, optional []string
				for _, p := range tool.Params {
					if p.Required {
						required = append(required, p.Name)
					} else {
						optional = append(optional, p.Name)
					}
				}
				t.AppendRow([]any{tool.Name, tool.ReadOnly, strings.Join(required, ", "), strings.Join(optional, ", ")})
			}
			t.Render()
			return nil
		},
	})
	return root
}
