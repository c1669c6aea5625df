// Package channel contains the user-facing frontends: terminal REPL, web
// server, and Telegram bot. Each channel calls the engine directly and owns
// its own conversation history.
package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"campusbot/internal/domain"
	"campusbot/internal/engine"
)

const historyLimit = 20 // messages kept per conversation

// CLI is the interactive terminal REPL. Tokens are printed as they stream.
type CLI struct {
	engine  *engine.Engine
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	history []domain.Message
}

type CLIConfig struct {
	Engine *engine.Engine
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		engine: cfg.Engine,
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL and blocks until EOF, /quit, or context cancellation.
func (c *CLI) Start(ctx context.Context) error {
	fmt.Fprintln(c.out, "campusbot. Ask a question and press Enter. /clear resets the conversation, /quit exits.")
	fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(c.out, "You> ")
			continue
		case "/quit", "/exit", "/q":
			return nil
		case "/clear":
			c.history = nil
			fmt.Fprintln(c.out, "Conversation cleared.")
			fmt.Fprint(c.out, "You> ")
			continue
		}

		if err := c.answer(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(c.out, "\nError: %v\n", err)
		}
		fmt.Fprint(c.out, "You> ")
	}
}

// answer streams one reply to the terminal and records the exchange.
func (c *CLI) answer(ctx context.Context, question string) error {
	c.history = append(c.history, domain.Message{Role: domain.RoleUser, Content: question})
	c.history = trimHistory(c.history)

	fmt.Fprint(c.out, "\n")

	out := make(chan domain.StreamEvent, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.engine.AskStream(ctx, question, c.history, out)
		close(out)
	}()

	var answer strings.Builder
	for ev := range out {
		if ev.Type == domain.StreamToken {
			fmt.Fprint(c.out, ev.Content)
			answer.WriteString(ev.Content)
		}
	}
	fmt.Fprint(c.out, "\n\n")

	if err := <-errCh; err != nil {
		// Drop the failed turn so a retry starts clean.
		c.history = c.history[:len(c.history)-1]
		return err
	}

	c.history = append(c.history, domain.Message{Role: domain.RoleAssistant, Content: answer.String()})
	return nil
}

func trimHistory(history []domain.Message) []domain.Message {
	if len(history) > historyLimit {
		return history[len(history)-historyLimit:]
	}
	return history
}
