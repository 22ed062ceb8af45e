package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirebus/internal/client"
	"github.com/vovakirdan/wirebus/internal/config"
)

const chatMessageID = 50

var (
	chatName     string
	chatTo       string
	chatCount    int
	chatInterval time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send lines from stdin and print what others send",
	Long: `Chat connects to the hub and prints every message it receives.

Without arguments it reads stdin and sends each line; "/who" prints the
roster and "exit" quits. With a message argument it sends that message
--count times, --interval apart, and exits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatName, "name", "", "Client name (default chat-<pid>)")
	chatCmd.Flags().StringVar(&chatTo, "to", "*", "Recipient name, * for everyone")
	chatCmd.Flags().IntVar(&chatCount, "count", 10, "Repetitions when a message argument is given")
	chatCmd.Flags().DurationVar(&chatInterval, "interval", time.Second, "Pause between repetitions")
}

func clientOptions(cfg config.Config) client.Options {
	return client.Options{
		Wire:             cfg.WireOptions(),
		ReconnectDelay:   cfg.ReconnectDelay,
		WaitPollInterval: cfg.WaitPollInterval,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(stderrLogger)
	if err != nil {
		return err
	}
	if chatName == "" {
		chatName = fmt.Sprintf("chat-%d", os.Getpid())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(clientOptions(cfg), logger)
	defer c.Shutdown()

	out := cmd.OutOrStdout()
	printer := client.HandlerFunc(func(_ uint32, payload []byte) bool {
		text, _, _ := strings.Cut(string(payload), "\x00")
		fmt.Fprintln(out, text)
		return true
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, chatName, printer, true) }()

	var sendErr error
	if len(args) == 1 {
		sendErr = repeatMessage(ctx, c, args[0])
	} else {
		sendErr = interactive(ctx, c, cmd)
	}

	_ = c.Shutdown()
	return errors.Join(sendErr, <-done)
}

// chatPayload keeps the trailing NUL that C clients on the bus expect.
func chatPayload(text string) []byte {
	return append([]byte(text), 0)
}

func repeatMessage(ctx context.Context, c *client.Client, text string) error {
	for i := 0; i < chatCount; i++ {
		if err := c.Send(chatMessageID, chatPayload(text), chatTo); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
		select {
		case <-time.After(chatInterval):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func interactive(ctx context.Context, c *client.Client, cmd *cobra.Command) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "exit" {
				return nil
			}
			if line == "/who" {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(c.Roster(), ", "))
				continue
			}
			if err := c.Send(chatMessageID, chatPayload(line), chatTo); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "send failed:", err)
			}
		}
	}
}
