package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"docgate/api/internal/admin"
	"docgate/api/internal/rbac"
)

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the user and role the server sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			user, err := c.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			email := user.Email
			if email == "" {
				email = "(anonymous)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", email, user.Role)
			return nil
		},
	}
}

func newGrantCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <database> <collection> <role> <mode>",
		Short: "Set the mode a role gets on a collection",
		Long: `Set the mode a role gets on a collection. Use collection "*" for
database-level access. Mode letters: c create, r read, R restricted read,
u update, d delete, O override ownership.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := opts.workflows(cmd.Context())
			if err != nil {
				return err
			}
			if err := flows.SetPermission(cmd.Context(), args[0], args[1], rbac.Role(args[2]), args[3]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s on %s/%s\n", args[3], args[2], args[0], args[1])
			return nil
		},
	}
}

func newRevokeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <database> <collection> <role>",
		Short: "Remove the entry of a role on a collection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := opts.workflows(cmd.Context())
			if err != nil {
				return err
			}
			if err := flows.SetPermission(cmd.Context(), args[0], args[1], rbac.Role(args[2]), admin.Clear); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s on %s/%s\n", args[2], args[0], args[1])
			return nil
		},
	}
}

type roleSetter func(w *admin.Workflows, ctx context.Context, user string, role rbac.Role) error

func newRoleCmd(opts *options, use, short string, set roleSetter) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user> [role]",
		Short: short,
		Long:  short + ". Without a role the entry is removed.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := opts.workflows(cmd.Context())
			if err != nil {
				return err
			}
			role := rbac.Role(admin.Clear)
			if len(args) == 2 {
				role = rbac.Role(args[1])
			}
			if err := set(flows, cmd.Context(), args[0], role); err != nil {
				return err
			}
			if role == admin.Clear {
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", args[0], role)
			}
			return nil
		},
	}
}

func newPermissionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "permissions <database>",
		Short: "Print the permission table of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := opts.workflows(cmd.Context())
			if err != nil {
				return err
			}
			table, err := flows.Permissions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printPermissions(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func printPermissions(out io.Writer, table map[string]map[rbac.Role]string) {
	collections := make([]string, 0, len(table))
	for name := range table {
		collections = append(collections, name)
	}
	sort.Strings(collections)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := []string{"COLLECTION"}
	for _, role := range rbac.Roles {
		header = append(header, strings.ToUpper(string(role)))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, name := range collections {
		row := []string{name}
		for _, role := range rbac.Roles {
			mode := table[name][role]
			if mode == "" {
				mode = "-"
			}
			row = append(row, mode)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func newCollectionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "collections <database>",
		Short: "List the collections of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := opts.workflows(cmd.Context())
			if err != nil {
				return err
			}
			names, err := flows.Collections(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newSchemaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <database> <collection> [file]",
		Short: "Set the JSON Schema of a collection",
		Long: `Set the JSON Schema documents of a collection must satisfy. The schema is
read from file, or from stdin when file is "-". Without a file the schema is
removed.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var schema json.RawMessage
			if len(args) == 3 {
				raw, err := readInput(cmd.InOrStdin(), args[2])
				if err != nil {
					return err
				}
				schema = raw
			}
			flows, err := opts.workflows(cmd.Context())
			if err != nil {
				return err
			}
			if err := flows.SetSchema(cmd.Context(), args[0], args[1], schema); err != nil {
				return err
			}
			if schema == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "removed schema of %s/%s\n", args[0], args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "set schema of %s/%s\n", args[0], args[1])
			}
			return nil
		},
	}
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return raw, nil
}

func newPasswdCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd [user]",
		Short: "Set a login password",
		Long: `Set the login password of user, or of --user when omitted. The new password
is read from DOCGATE_NEW_PASSWORD.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("DOCGATE_NEW_PASSWORD")
			if password == "" {
				return fmt.Errorf("DOCGATE_NEW_PASSWORD is required")
			}
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			user := ""
			if len(args) == 1 {
				user = args[0]
			}
			if err := c.SetPassword(cmd.Context(), user, password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password updated")
			return nil
		},
	}
}
