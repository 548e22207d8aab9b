package cmds

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tealdao/derivekit/core"
)

type Cmd struct {
	Users core.UserStore
	Node  core.NodeClient
}

func (c *Cmd) Run(ctx context.Context, args []string) error {
	root := &cobra.Command{
		Use:   "derivekit",
		Short: "derivekit",
	}

	root.AddCommand(c.listUsersCmd())
	root.AddCommand(c.exportUserCmd())
	root.AddCommand(c.setActiveCmd())
	root.AddCommand(c.keyStatusCmd())

	root.SetArgs(args)
	root.SetOut(os.Stdout)

	return root.ExecuteContext(ctx)
}

func (c *Cmd) listUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "list all stored owner public keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			users, err := c.Users.All(ctx)
			if err != nil {
				return err
			}

			owners := make([]string, 0, len(users))
			for owner := range users {
				owners = append(owners, owner)
			}
			sort.Strings(owners)

			return jsonPrint(cmd, owners)
		},
	}
}

func (c *Cmd) exportUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-user",
		Short: "export a stored user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.Users.Find(ctx, args[0])
			if err != nil {
				return err
			}

			return jsonPrint(cmd, user)
		},
	}
}

func (c *Cmd) setActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-active",
		Short: "point the active slot at a stored owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.Users.Find(ctx, args[0]); err != nil {
				return err
			}

			return c.Users.SetActivePublicKey(ctx, args[0])
		},
	}
}

func (c *Cmd) keyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key-status",
		Short: "fetch on-chain status for a stored derived key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := c.Users.Find(ctx, args[0])
			if err != nil {
				return err
			}

			dk := user.PrimaryDerivedKey
			if dk == nil {
				return core.ErrUserNotFound
			}

			status, err := c.Node.DerivedKeyStatus(ctx, args[0], dk.PublicKey)
			if err != nil {
				return err
			}

			return jsonPrint(cmd, status)
		},
	}
}

func jsonPrint(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
