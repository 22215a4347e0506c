// Command chat is a line-oriented terminal client for a relaychat server.
//
// Every line typed is sent as a message. Lines starting with a slash are
// commands:
//
//	/image <url> [caption]   send an image
//	/who                     list participants
//	/quit                    leave
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/client"
)

func main() {
	cmd := &cli.Command{
		Name:  "chat",
		Usage: "join a relaychat room from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "ws://localhost:8080/ws",
				Usage:   "relay WebSocket URL",
				Sources: cli.EnvVars("RELAYCHAT_URL"),
			},
			&cli.StringFlag{
				Name:     "name",
				Aliases:  []string{"n"},
				Usage:    "display name (2-20 characters)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log protocol diagnostics to stderr",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := client.DefaultConfig()
	cfg.URL = cmd.String("url")
	c := client.New(cfg, client.WithLogger(logger))

	term := newTerminal(c, os.Stdout)
	c.OnMessage(term.printMessage)
	c.OnRoster(term.printRoster)
	c.OnTyping(term.printTyping)
	c.OnError(term.printError)

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	defer c.Close()

	if err := c.Join(ctx, cmd.String("name")); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return fmt.Errorf("connection closed")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := term.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

// chatClient is the part of client.Client the terminal drives.
type chatClient interface {
	InputChanged(content string)
	Send(ctx context.Context, body string) error
	SendImage(ctx context.Context, attachmentRef, caption string) error
	Roster() []string
}

type terminal struct {
	client chatClient
	out    io.Writer
	mu     sync.Mutex
	typing string
}

func newTerminal(c chatClient, out io.Writer) *terminal {
	return &terminal{client: c, out: out}
}

// handleLine runs one line of input and reports whether the user quit.
func (t *terminal) handleLine(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "/quit":
		return true

	case trimmed == "/who":
		t.printRoster(t.client.Roster())

	case strings.HasPrefix(trimmed, "/image"):
		ref, caption, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(trimmed, "/image")), " ")
		if ref == "" {
			t.println("usage: /image <url> [caption]")
			return false
		}
		if err := t.client.SendImage(ctx, ref, strings.TrimSpace(caption)); err != nil {
			t.printError(err)
		}

	default:
		// A terminal only sees whole lines: each one is a burst of typing
		// that is submitted straight away.
		t.client.InputChanged(line)
		if err := t.client.Send(ctx, line); err != nil {
			t.printError(err)
		}
	}
	return false
}

func (t *terminal) printMessage(m protocol.ChatMessage) {
	stamp := m.Timestamp.Local().Format("15:04")
	switch m.Kind {
	case protocol.KindSystem:
		t.println(fmt.Sprintf("[%s] * %s", stamp, m.Body))
	case protocol.KindImage:
		t.println(fmt.Sprintf("[%s] <%s> %s (%s)", stamp, m.AuthorName, m.Body, m.Attachment))
	default:
		t.println(fmt.Sprintf("[%s] <%s> %s", stamp, m.AuthorName, m.Body))
	}
}

func (t *terminal) printRoster(names []string) {
	t.println(fmt.Sprintf("-- online (%d): %s", len(names), strings.Join(names, ", ")))
}

func (t *terminal) printTyping(indicator string, _ []string) {
	t.mu.Lock()
	if indicator == t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = indicator
	t.mu.Unlock()

	if indicator != "" {
		t.println("-- " + indicator)
	}
}

func (t *terminal) printError(err error) {
	t.println("!! " + err.Error())
}

func (t *terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, line)
}
