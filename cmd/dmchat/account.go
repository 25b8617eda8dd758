package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dmchat/client/render"
)

// NewRegisterCommand creates an account and saves its session
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			password, err := promptPassword(cmd, "Password: ")
			if err != nil {
				return err
			}

			user, err := a.session.SignUp(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			if err := a.saveSession(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s!\n", user.Label())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name (required)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("name")
	return cmd
}

// NewLoginCommand signs in and saves the session
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			password, err := promptPassword(cmd, "Password: ")
			if err != nil {
				return err
			}

			user, err := a.session.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := a.saveSession(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.Label())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.MarkFlagRequired("email")
	return cmd
}

// NewLogoutCommand marks the user offline, ends the session and forgets it
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			defer RemoveCredentials(opts.Credentials)

			if err := a.requireUser(cmd.Context(), false); err != nil {
				return err
			}
			if err := a.session.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

// NewWhoamiCommand prints the signed-in user
func NewWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			if err := a.requireUser(cmd.Context(), false); err != nil {
				return err
			}
			user := a.session.User()
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", user.Label(), user.Email)
			if user.PhotoURL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "avatar: %s\n", user.PhotoURL)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "member since %s\n", render.RelTime(user.CreatedAt, time.Now()))
			return nil
		},
	}
}

// NewProfileCommand updates the display name and avatar
func NewProfileCommand(opts *RootOptions) *cobra.Command {
	var name, photo string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update your display name or avatar",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" && photo == "" {
				return errors.New("nothing to update: pass --name or --photo")
			}
			a, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			if err := a.requireUser(cmd.Context(), false); err != nil {
				return err
			}
			if name == "" {
				name = a.session.User().DisplayName
			}

			user, err := a.session.UpdateProfile(cmd.Context(), name, photo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile updated: %s\n", user.Label())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&photo, "photo", "", "avatar URL")
	return cmd
}

// NewUsersCommand lists the other registered users once
func NewUsersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List other users and their presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			if err := a.requireUser(cmd.Context(), false); err != nil {
				return err
			}
			users, err := a.client.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Users(users, time.Now()))
			return nil
		},
	}
}
