package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/john/orchid/internal/config"
	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/message"
	"github.com/john/orchid/internal/overlay"
	"github.com/john/orchid/internal/socket"
	"github.com/john/orchid/internal/window"
)

var (
	watchURL            string
	watchHeartbeat      time.Duration
	watchGreeting       string
	watchReconnectDelay time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a backend like an overlay and print what it shows",
	Long: `Connect to a backend's overlay socket with the same client an overlay
page uses and print every chat and layout change.

Examples:
  orchid watch --url ws://localhost:3000/ws
  orchid watch --heartbeat 30s --greeting "Hello Server!"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyWatchFlags(cmd, &cfg.Overlay)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runWatch(ctx, cfg.Overlay, cmd.OutOrStdout())
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "backend overlay socket URL (default from config)")
	watchCmd.Flags().DurationVar(&watchHeartbeat, "heartbeat", 0, "send ping at this interval, 0 disables")
	watchCmd.Flags().StringVar(&watchGreeting, "greeting", "", "text frame sent after each connect")
	watchCmd.Flags().DurationVar(&watchReconnectDelay, "reconnect-delay", socket.DefaultReconnectDelay, "delay between reconnect attempts")
	rootCmd.AddCommand(watchCmd)
}

func applyWatchFlags(cmd *cobra.Command, oc *config.OverlayConfig) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		oc.URL = watchURL
	}
	if flags.Changed("heartbeat") {
		oc.Heartbeat = watchHeartbeat
	}
	if flags.Changed("greeting") {
		oc.Greeting = watchGreeting
	}
	if flags.Changed("reconnect-delay") {
		oc.ReconnectDelay = watchReconnectDelay
	}
}

func runWatch(ctx context.Context, oc config.OverlayConfig, out io.Writer) error {
	if oc.ReconnectDelay <= 0 {
		oc.ReconnectDelay = socket.DefaultReconnectDelay
	}
	client := socket.New(oc.URL,
		socket.WithReconnectDelay(oc.ReconnectDelay),
		socket.WithHeartbeat(oc.Heartbeat),
		socket.WithGreeting(oc.Greeting),
		socket.WithStateHandler(func(s socket.State) {
			slog.Info("overlay socket state changed", "url", oc.URL, "state", s)
		}),
	)

	svc := overlay.NewService(client, overlay.NewChatStore(window.DefaultSize), overlay.NewLayoutStore())
	watchPrinter{out: out}.attach(svc)

	if err := svc.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	svc.Stop()
	return nil
}

// watchPrinter writes store changes as plain lines.
type watchPrinter struct {
	out io.Writer
}

func (p watchPrinter) attach(svc *overlay.Service) {
	svc.Chat().OnChange(p.chat)
	svc.Layout().OnChange(p.layout)
}

func (p watchPrinter) chat(msgs []message.ChatMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(p.out, "chat: (empty)")
		return
	}
	last := msgs[len(msgs)-1].Simple()
	fmt.Fprintf(p.out, "chat [%d/%d] %s: %s\n", len(msgs), window.DefaultSize, last.User, last.Message)
}

func (p watchPrinter) layout(items []layout.Item) {
	fmt.Fprintf(p.out, "layout:")
	for _, it := range items {
		fmt.Fprintf(p.out, " %s#%d", it.Type, it.ID)
	}
	fmt.Fprintln(p.out)
}
