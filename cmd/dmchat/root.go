package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dmchat/client/backend"
	"dmchat/client/session"
	"dmchat/config"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	Verbose     bool
	Credentials string
}

// NewRootCommand creates the root command for the dmchat CLI
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "dmchat",
		Short:         "dmchat - direct messages in the terminal",
		Long:          "A direct-messaging client with live conversations, replies, reactions and read receipts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Credentials, "credentials", DefaultCredentialsPath(), "saved session file")

	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewUsersCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))

	return cmd
}

func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// app is everything a command needs once configuration is loaded
type app struct {
	opts    *RootOptions
	cfg     *config.Client
	client  *backend.Client
	session *session.Session
	logger  *slog.Logger
}

// connect loads the configuration and the saved session. Missing
// configuration aborts the command.
func connect(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}

	logger := opts.logger(cmd.ErrOrStderr())
	clientOpts := []backend.Option{backend.WithLogger(logger)}

	creds, err := LoadCredentials(opts.Credentials)
	if err != nil {
		return nil, err
	}
	if creds != nil && creds.APIURL == cfg.APIURL {
		clientOpts = append(clientOpts, backend.WithToken(creds.Token))
	}

	client := backend.New(cfg, clientOpts...)
	return &app{
		opts:    opts,
		cfg:     cfg,
		client:  client,
		session: session.New(client, session.WithLogger(logger)),
		logger:  logger,
	}, nil
}

// requireUser resolves the saved session or fails with a hint to log in.
// online marks the user present, which only the chat does.
func (a *app) requireUser(ctx context.Context, online bool) error {
	check := a.session.Check
	if online {
		check = a.session.Restore
	}
	if err := check(ctx); err != nil {
		return err
	}
	if a.session.User() == nil {
		return errors.New("not logged in: run `dmchat login` first")
	}
	return nil
}

func (a *app) saveSession() error {
	user := a.session.User()
	if user == nil {
		return nil
	}
	return SaveCredentials(a.opts.Credentials, &Credentials{
		APIURL: a.cfg.APIURL,
		Token:  a.client.Token(),
		UserID: user.ID,
		Email:  user.Email,
	})
}

// promptPassword reads a password without echo on a terminal, or one
// line from piped input
func promptPassword(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
