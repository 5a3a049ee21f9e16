package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docgate/api/internal/admin"
	"docgate/api/internal/client"
)

type options struct {
	server string
	user   string
}

func newRootCmd() *cobra.Command {
	// a missing .env file is normal outside development
	_ = godotenv.Load()

	opts := &options{}
	root := &cobra.Command{
		Use:   "docgate",
		Short: "Administer a docgate server",
		Long: `docgate edits the permission, role and schema tables of a docgate server.
The password of --user is read from DOCGATE_PASSWORD.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("DOCGATE_URL", "http://localhost:8888"), "server base URL")
	root.PersistentFlags().StringVar(&opts.user, "user", os.Getenv("DOCGATE_USER"), "login email (anonymous when empty)")

	root.AddCommand(
		newWhoamiCmd(opts),
		newGrantCmd(opts),
		newRevokeCmd(opts),
		newRoleCmd(opts, "role", "Assign a role through AccessUsers", (*admin.Workflows).SetRole),
		newRoleCmd(opts, "developer", "Assign a role through Developers", (*admin.Workflows).SetDeveloper),
		newPermissionsCmd(opts),
		newCollectionsCmd(opts),
		newSchemaCmd(opts),
		newPasswdCmd(opts),
	)
	return root
}

// connect returns a client, logged in when --user is set.
func (o *options) connect(ctx context.Context) (*client.Client, error) {
	c, err := client.New(o.server)
	if err != nil {
		return nil, err
	}
	if o.user == "" {
		return c, nil
	}
	password := os.Getenv("DOCGATE_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("DOCGATE_PASSWORD is required to log in as %s", o.user)
	}
	if _, err := c.Login(ctx, o.user, password); err != nil {
		return nil, fmt.Errorf("login as %s: %w", o.user, err)
	}
	return c, nil
}

func (o *options) workflows(ctx context.Context) (*admin.Workflows, error) {
	c, err := o.connect(ctx)
	if err != nil {
		return nil, err
	}
	return admin.New(c), nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
