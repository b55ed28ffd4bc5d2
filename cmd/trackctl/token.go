package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/providentiaww/track-mcp/internal/oauth"
)

func newTokenCmd(open storeOpener) *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "Audit issued tokens"}

	var (
		refresh string
		hash    string
		limit   int
	)
	lineage := &cobra.Command{
		Use:   "lineage",
		Short: "Show the rotation chain behind a refresh token, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case refresh != "" && hash != "":
				return errors.New("use either --refresh-token or --hash")
			case refresh != "":
				hash = oauth.HashToken(refresh)
			case hash == "":
				return errors.New("--refresh-token or --hash is required")
			}

			store, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			svc := oauth.NewTokenService(oauth.Config{}, nil, store, nil, nil)
			chain, err := svc.Lineage(cmd.Context(), hash, limit)
			if err != nil {
				return err
			}
			if len(chain) == 0 {
				return errors.New("no refresh token with that hash")
			}

			t := newTable(cmd)
			t.AppendHeader([]any{"HASH", "FAMILY", "CLIENT", "USER", "CREATED", "USED", "REVOKED"})
			for _, rec := range chain {
				t.AppendRow([]any{
					rec.TokenHash[:12],
					rec.FamilyID,
					rec.ClientID,
					rec.UserID,
					rec.CreatedAt.Format(time.RFC3339),
					stamp(rec.UsedAt),
					stamp(rec.RevokedAt),
				})
			}
			t.Render()
			return nil
		},
	}
	lineage.Flags().StringVar(&refresh, "refresh-token", "", "refresh token value")
	lineage.Flags().StringVar(&hash, "hash", "", "stored refresh token hash")
	lineage.Flags().IntVar(&limit, "limit", 50, "maximum records to show")

	token.AddCommand(lineage)
	return token
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
