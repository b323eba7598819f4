package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/async"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/socket"
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] <message>",
	Short: "Send events to a running logdispatch server",
	Example: `  logdispatch send --level warn --logger billing "card declined"
  logdispatch send --address 10.0.0.5:4560 --mdc user=alice --count 100 "load test"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("address", "127.0.0.1:4560", "Server address")
	sendCmd.Flags().String("level", "info", "Event level")
	sendCmd.Flags().String("logger", "logdispatch.send", "Logger name stamped on each event")
	sendCmd.Flags().String("thread", "", "Thread label (defaults to the command name)")
	sendCmd.Flags().StringArray("mdc", nil, "Diagnostic context entry KEY=VALUE (can be repeated)")
	sendCmd.Flags().StringArray("ndc", nil, "Nested diagnostic context entry (can be repeated)")
	sendCmd.Flags().Int("count", 1, "Number of events to send")
	sendCmd.Flags().Int("queue-size", async.DefaultQueueSize, "Local dispatch queue size")
	viper.BindPFlag("send.address", sendCmd.Flags().Lookup("address"))

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	levelName, _ := cmd.Flags().GetString("level")
	loggerName, _ := cmd.Flags().GetString("logger")
	thread, _ := cmd.Flags().GetString("thread")
	mdc, _ := cmd.Flags().GetStringArray("mdc")
	ndc, _ := cmd.Flags().GetStringArray("ndc")
	count, _ := cmd.Flags().GetInt("count")
	queueSize, _ := cmd.Flags().GetInt("queue-size")

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return errx.Wrap(ErrInvalidLevel, err)
	}
	if thread == "" {
		thread = cmd.Name()
	}
	ctx, err := eventContext(cmd.Context(), thread, mdc, ndc)
	if err != nil {
		return err
	}

	sink, err := socket.NewSink(socket.SinkConfig{Address: viper.GetString("send.address")}, slog.Default())
	if err != nil {
		return errx.Wrap(ErrSendEvents, err)
	}

	cfg := async.DefaultConfig()
	cfg.Name = "send"
	cfg.QueueSize = queueSize
	cfg.DiscardThreshold = 0
	d := async.New(cfg)
	d.AddSink(sink)
	if err := d.Activate(); err != nil {
		return errx.Wrap(ErrSendEvents, err)
	}

	emitter := logging.NewEmitter(logging.EmitterConfig{LoggerName: loggerName}, d)
	message := strings.Join(args, " ")
	for i := 0; i < count; i++ {
		emitter.Emit(ctx, level, message, nil)
	}
	if err := d.Close(); err != nil {
		return errx.Wrap(ErrSendEvents, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d event(s) to %s\n", count-int(d.Discarded()), viper.GetString("send.address"))
	return nil
}

// eventContext attaches the thread label and diagnostic context to ctx.
func eventContext(ctx context.Context, thread string, mdc, ndc []string) (context.Context, error) {
	ctx = logging.WithThreadName(ctx, thread)
	for _, entry := range mdc {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, errx.With(ErrInvalidMDC, ": %q (want KEY=VALUE)", entry)
		}
		ctx = logging.WithMDC(ctx, key, value)
	}
	for _, entry := range ndc {
		ctx = logging.PushNDC(ctx, entry)
	}
	return ctx, nil
}
