package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/providentiaww/track-mcp/internal/oauth"
)

func newClientCmd(open storeOpener) *cobra.Command {
	client := &cobra.Command{Use: "client", Short: "Manage OAuth clients"}

	var (
		name      string
		redirects []string
	)
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a client and print its credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			registry, err := oauth.NewRegistry(store, 0)
			if err != nil {
				return err
			}
			reg, err := registry.Register(cmd.Context(), name, redirects)
			if err != nil {
				return err
			}

			t := newTable(cmd)
			t.AppendRows([]table.Row{
				{"client_id", reg.Client.ClientID},
				{"client_secret", reg.ClientSecret},
				{"client_name", reg.Client.ClientName},
				{"redirect_uris", strings.Join(reg.Client.RedirectURIs, "\n")},
			})
			t.Render()
			fmt.Fprintln(cmd.OutOrStdout(), "The client secret is shown once. Store it now.")
			return nil
		},
	}
	register.Flags().StringVar(&name, "name", "", "client display name")
	register.Flags().StringArrayVar(&redirects, "redirect-uri", nil, "allowed redirect URI (repeatable)")
	_ = register.MarkFlagRequired("name")
	_ = register.MarkFlagRequired("redirect-uri")

	client.AddCommand(register)
	return client
}
