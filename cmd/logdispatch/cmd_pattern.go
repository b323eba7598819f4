package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/pattern"
)

var patternCmd = &cobra.Command{
	Use:   "pattern [flags] <conversion-pattern> [message]",
	Short: "Render a conversion pattern against a sample event",
	Long: `Render a conversion pattern against a sample event.

Conversions:
  %c{n} logger   %C class   %M method   %F file   %L line   %l location
  %d{fmt} date   %m message %n newline  %p level  %t thread %r uptime ms
  %x NDC         %X{key} MDC            %throwable cause chain   %% percent

Modifiers go between % and the conversion: %-10.20c left-aligns in at least
10 and at most 20 characters, truncating from the left.`,
	Example: `  logdispatch pattern '%d{ISO8601} [%t] %-5p %c{2} - %m%n' "hello"
  logdispatch pattern --mdc user=alice '%X{user}: %m%n' "signed in"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPattern,
}

func init() {
	patternCmd.Flags().String("level", "info", "Event level")
	patternCmd.Flags().String("logger", "com.example.app.Service", "Logger name")
	patternCmd.Flags().StringArray("mdc", nil, "Diagnostic context entry KEY=VALUE (can be repeated)")
	patternCmd.Flags().StringArray("ndc", nil, "Nested diagnostic context entry (can be repeated)")
	patternCmd.Flags().String("error", "", "Attach an error with this message")

	rootCmd.AddCommand(patternCmd)
}

func runPattern(cmd *cobra.Command, args []string) error {
	levelName, _ := cmd.Flags().GetString("level")
	loggerName, _ := cmd.Flags().GetString("logger")
	mdc, _ := cmd.Flags().GetStringArray("mdc")
	ndc, _ := cmd.Flags().GetStringArray("ndc")
	errMsg, _ := cmd.Flags().GetString("error")

	layout, err := pattern.NewLayout(args[0])
	if err != nil {
		return errx.Wrap(ErrCompilePattern, err)
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return errx.Wrap(ErrInvalidLevel, err)
	}
	ctx, err := eventContext(cmd.Context(), "main", mdc, ndc)
	if err != nil {
		return err
	}

	message := ""
	if len(args) > 1 {
		message = args[1]
	}
	var cause error
	if errMsg != "" {
		cause = errors.New(errMsg)
	}

	event := logging.NewEvent(ctx, loggerName, level, message, cause)
	// The call site recorded for location conversions is this function.
	event.Prepare(logging.PrepareOptions{
		IncludeLocation:  true,
		CallerBoundaries: []string{"github.com/jingkaihe/logdispatch/pkg/logging.(*Event).Prepare"},
	})
	fmt.Fprint(cmd.OutOrStdout(), layout.Format(event))
	return nil
}
