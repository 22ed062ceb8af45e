package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirebus/internal/client"
)

const (
	perfDataID      = 50
	perfTerminateID = 999
)

var (
	perfName    string
	perfTo      string
	perfCount   int
	perfSizeKB  int
	perfSenders int
	perfWaitFor string
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Measure hub throughput",
	Long: `Perf runs as a receiver by default: it counts incoming messages until a
terminate message arrives and prints the rate.

With --count it runs as a sender: it pushes --count messages of --size KiB,
optionally split across --senders goroutines, then sends terminate.`,
	RunE: runPerf,
}

func init() {
	rootCmd.AddCommand(perfCmd)

	perfCmd.Flags().StringVar(&perfName, "name", "", "Client name (default perf-<pid>)")
	perfCmd.Flags().StringVar(&perfTo, "to", "*", "Recipient of the test messages")
	perfCmd.Flags().IntVar(&perfCount, "count", 0, "Messages to send; 0 runs as receiver")
	perfCmd.Flags().IntVar(&perfSizeKB, "size", 1, "Message size in KiB")
	perfCmd.Flags().IntVar(&perfSenders, "senders", 1, "Concurrent sending goroutines")
	perfCmd.Flags().StringVar(&perfWaitFor, "wait-for", "", "Wait until this client is connected before sending")
}

func runPerf(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(stderrLogger)
	if err != nil {
		return err
	}
	if perfName == "" {
		perfName = fmt.Sprintf("perf-%d", os.Getpid())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(clientOptions(cfg), logger)
	defer c.Shutdown()

	if perfCount <= 0 {
		return runPerfReceiver(ctx, cmd, c)
	}
	return runPerfSender(ctx, cmd, c)
}

type perfCounter struct {
	messages int
	bytes    int
	started  time.Time
}

func (p *perfCounter) HandleMessage(id uint32, payload []byte) bool {
	if id == perfTerminateID {
		return false
	}
	if p.messages == 0 {
		p.started = time.Now()
	}
	p.messages++
	p.bytes += len(payload)
	return true
}

func runPerfReceiver(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Running as receiver %q. Start a sender with: wirebus perf --count 100 --size 1\n", perfName)

	counter := &perfCounter{}
	if err := c.Run(ctx, perfName, counter, false); err != nil {
		return err
	}
	if counter.messages == 0 {
		fmt.Fprintln(out, "no messages received")
		return nil
	}

	elapsed := time.Since(counter.started).Seconds()
	fmt.Fprintf(out, "%d messages (%.1f MiB) received in %f seconds, %.0f msg/s\n",
		counter.messages, float64(counter.bytes)/(1<<20), elapsed, float64(counter.messages)/elapsed)
	return nil
}

func runPerfSender(ctx context.Context, cmd *cobra.Command, c *client.Client) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, perfName, client.HandlerFunc(func(uint32, []byte) bool { return true }), true)
	}()

	// Our own name shows up once the hub has registered us.
	ready := perfName
	if perfWaitFor != "" {
		ready = perfWaitFor
	}
	if err := c.WaitForClient(ctx, ready); err != nil {
		return err
	}

	payload := make([]byte, perfSizeKB*1024)
	senders := max(perfSenders, 1)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for s := 0; s < senders; s++ {
		share := perfCount / senders
		if s < perfCount%senders {
			share++
		}
		g.Go(func() error {
			for i := 0; i < share; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err := c.Send(perfDataID, payload, perfTo); err != nil {
					return fmt.Errorf("send message %d: %w", i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := c.Send(perfTerminateID, nil, perfTo); err != nil {
		return fmt.Errorf("send terminate: %w", err)
	}
	elapsed := time.Since(start).Seconds()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "*********************************************************")
	fmt.Fprintf(out, "%d messages of %dKB transmitted in %f seconds\n", perfCount, perfSizeKB, elapsed)
	fmt.Fprintln(out, "*********************************************************")

	_ = c.Shutdown()
	return <-done
}
