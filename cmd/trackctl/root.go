package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/providentiaww/track-mcp/internal/oauth"
)

// storeOpener opens and migrates the oauth store.
type storeOpener func(ctx context.Context) (oauth.Store, error)

func openStoreFromEnv(ctx context.Context) (oauth.Store, error) {
	cfg, err := oauth.LoadStoreConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return oauth.OpenStore(ctx, cfg)
}

func newRootCmd(open storeOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "trackctl",
		Short:         "Administer the track-mcp authorization server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSchemaCmd(open),
		newClientCmd(open),
		newToolsCmd(),
		newTokenCmd(open),
	)
	return root
}

func newTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	return t
}
