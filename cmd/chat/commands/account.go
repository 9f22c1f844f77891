package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/controlled-anonymity/client-go/internal/util"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show or reset this device's identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := appRT.Identity.GetIdentityDigest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Digest: %s\n", digest)
			return nil
		},
	}

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget this identity; the backend will see a new user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this drops your nickname, karma and verification; rerun with --yes")
			}
			if err := appRT.Identity.Reset(cmd.Context()); err != nil {
				return err
			}
			digest, err := appRT.Identity.GetIdentityDigest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "New digest: %s\n", util.ShortHash(digest))
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	cmd.AddCommand(reset)
	return cmd
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register this device with the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := appRT.API.Register(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered as %s\n", user.Nickname)
			return nil
		},
	}
}

func meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Print your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := appRT.API.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatUser(user))
			return nil
		},
	}
}
