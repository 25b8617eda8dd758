package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"dmchat/client/conversation"
	"dmchat/client/directory"
	"dmchat/client/notify"
	"dmchat/client/render"
	"dmchat/models"
)

const chatHelp = `Type a message and press enter to send it.
  /reply N text   reply to message N
  /react N emoji  toggle a reaction (👍 ❤️ 😂 😮 😢 😡)
  /who N          show who reacted to message N
  /edit N text    edit your message N
  /delete N       delete your message N
  /switch user    open another conversation
  /users          list users
  /quit           leave`

// NewChatCommand opens a live conversation with another user
func NewChatCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <user>",
		Short: "Chat with a user (by name, email or id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := connect(cmd, opts)
			if err != nil {
				return err
			}
			defer a.client.Close()

			if err := a.requireUser(ctx, true); err != nil {
				return err
			}
			local := a.session.User()

			dir := directory.New(a.client)
			loaded := make(chan struct{}, 1)
			dir.OnUpdate(func([]models.User) {
				select {
				case loaded <- struct{}{}:
				default:
				}
			})
			if err := dir.Open(ctx); err != nil {
				return err
			}
			defer dir.Close()

			select {
			case <-loaded:
			case <-time.After(10 * time.Second):
				return errors.New("timed out loading users")
			case <-ctx.Done():
				return ctx.Err()
			}

			notifier := notify.New(notify.NewTerminal(), notify.WithLogger(a.logger))
			feed := conversation.New(a.client, *local,
				conversation.WithNotifier(notifier),
				conversation.WithLogger(a.logger),
			)
			defer func() {
				feed.Close()
				feed.Wait()
			}()

			c := newChat(feed, dir, cmd.OutOrStdout())
			if err := c.switchTo(ctx, args[0]); err != nil {
				return err
			}
			c.println(chatHelp)
			return c.run(ctx, cmd.InOrStdin())
		},
	}
}

// chat is one interactive session on top of a conversation feed
type chat struct {
	feed *conversation.Feed
	dir  *directory.Feed
	out  io.Writer
	now  func() time.Time

	mu sync.Mutex
}

func newChat(feed *conversation.Feed, dir *directory.Feed, out io.Writer) *chat {
	c := &chat{feed: feed, dir: dir, out: out, now: time.Now}
	feed.OnUpdate(c.redraw)
	return c
}

func (c *chat) println(a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

func (c *chat) redraw(messages []models.Message) {
	remote := c.feed.Remote()
	if remote == nil {
		return
	}
	local := c.feed.Local()
	c.println(fmt.Sprintf("\n── %s ──\n%s", remote.Label(), render.Conversation(messages, &local, remote, c.now())))
}

func (c *chat) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		quit, err := c.handle(ctx, scanner.Text())
		if err != nil {
			c.println("!", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

func (c *chat) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := c.feed.Send(ctx, line, nil)
		return false, err
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	local := c.feed.Local()

	switch command {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		c.println(chatHelp)

	case "/users":
		c.println(render.Users(c.dir.Users(), c.now()))

	case "/switch":
		return false, c.switchTo(ctx, rest)

	case "/reply":
		m, text, err := c.target(rest)
		if err != nil {
			return false, err
		}
		_, err = c.feed.Send(ctx, text, &m)
		return false, err

	case "/react":
		m, emoji, err := c.target(rest)
		if err != nil {
			return false, err
		}
		if m.SenderID == local.ID {
			return false, errors.New("you can only react to messages from others")
		}
		if !render.ValidEmoji(emoji) {
			return false, fmt.Errorf("pick one of %s", strings.Join(render.EmojiOptions, " "))
		}
		return false, c.feed.React(ctx, m.ID, emoji)

	case "/who":
		m, _, err := c.target(rest)
		if err != nil {
			return false, err
		}
		if len(m.Reactions) == 0 {
			c.println("No reactions")
		}
		for _, r := range m.Reactions {
			c.println(render.ReactionTooltip(r))
		}

	case "/delete":
		m, _, err := c.target(rest)
		if err != nil {
			return false, err
		}
		if m.SenderID != local.ID {
			return false, errors.New("you can only delete your own messages")
		}
		return false, c.feed.Delete(ctx, m.ID)

	case "/edit":
		m, text, err := c.target(rest)
		if err != nil {
			return false, err
		}
		if m.SenderID != local.ID {
			return false, errors.New("you can only edit your own messages")
		}
		return false, c.feed.Edit(ctx, m.ID, text)

	default:
		return false, fmt.Errorf("unknown command %s, try /help", command)
	}
	return false, nil
}

// target resolves "N rest" to the N-th message of the current snapshot
func (c *chat) target(args string) (models.Message, string, error) {
	num, rest, _ := strings.Cut(args, " ")
	n, err := strconv.Atoi(num)
	if err != nil {
		return models.Message{}, "", fmt.Errorf("expected a message number, got %q", num)
	}
	messages := c.feed.Messages()
	if n < 1 || n > len(messages) {
		return models.Message{}, "", fmt.Errorf("no message #%d", n)
	}
	m := messages[n-1]
	if m.Deleted {
		return models.Message{}, "", fmt.Errorf("message #%d was deleted", n)
	}
	return m, strings.TrimSpace(rest), nil
}

func (c *chat) switchTo(ctx context.Context, query string) error {
	user, ok := c.dir.Find(query)
	if !ok {
		return fmt.Errorf("no user matches %q", query)
	}
	if remote := c.feed.Remote(); remote != nil && remote.ID == user.ID {
		return nil
	}
	c.println("Opening conversation with " + user.Label())
	return c.feed.Open(ctx, *user)
}
