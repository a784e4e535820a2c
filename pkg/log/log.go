package log

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	// LogVerbosityInfo is the verbosity level for info logging.
	LogVerbosityInfo = 0
	// LogVerbosityDebug is the verbosity level for debug logging.
	LogVerbosityDebug = 2
	// LogVerbosityTrace is the verbosity level for trace logging.
	LogVerbosityTrace = 9

	formatJSON = "json"
	formatText = "text"

	outputStderr = "stderr"
	outputStdout = "stdout"
)

// Config holds the logging configuration.
type Config struct {
	Verbosity int
	Format    string
	Output    string
}

type loggerCtxKeyType string

const loggerCtxKey loggerCtxKeyType = "switcher.logger"

// Configure applies the supplied config to the standard logger.
func Configure(logConfig *Config) error {
	switch logConfig.Verbosity {
	case LogVerbosityInfo:
		logrus.SetLevel(logrus.InfoLevel)
	case LogVerbosityDebug:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.TraceLevel)
	}

	switch strings.ToLower(logConfig.Format) {
	case formatJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case formatText, "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		return invalidLogFormatError{format: logConfig.Format}
	}

	switch logConfig.Output {
	case outputStderr, "":
		logrus.SetOutput(os.Stderr)
	case outputStdout:
		logrus.SetOutput(os.Stdout)
	default:
		file, err := os.OpenFile(logConfig.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log output file %s: %w", logConfig.Output, err)
		}

		logrus.SetOutput(file)
	}

	return nil
}

// AddFlagsToCommand adds the logging flags to the supplied command.
func AddFlagsToCommand(cmd *cobra.Command, config *Config) {
	cmd.PersistentFlags().IntVarP(&config.Verbosity,
		"verbosity",
		"v",
		LogVerbosityInfo,
		"The verbosity level of the logging. A level of 2 and above is debug logging. A level of 9 and above is tracing.")

	cmd.PersistentFlags().StringVar(&config.Format,
		"log-format",
		formatText,
		"The format of the logging output. Can be 'text' or 'json'.")

	cmd.PersistentFlags().StringVar(&config.Output,
		"log-output",
		outputStderr,
		"The output for logging. Supply a file path or one of 'stderr'/'stdout'.")
}

// GetLogger returns the logger entry from the supplied context, or the
// standard logger if the context carries none.
func GetLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(loggerCtxKey)
	if logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}

	return logger.(*logrus.Entry)
}

// WithLogger attaches the logger entry to the context.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}
