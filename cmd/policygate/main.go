// Command policygate is the capital-policy governance gate CLI: evaluate
// single intents, run intent streams against a broker, verify audit logs,
// and serve the HTTP intake.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const appName = "policygate"

// exitError carries an explicit process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// Broker credentials may live in a local .env; absence is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Runtime governance gate between signal producers and broker execution",
		Long:          "policygate evaluates order intents against a declarative capital-risk policy,\nproducing auditable ALLOW / MODIFY / DENY verdicts before anything reaches a broker.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		levelStr, _ := cmd.Flags().GetString("log-level")
		level, err := zerolog.ParseLevel(levelStr)
		if err != nil {
			return fmt.Errorf("invalid log level %q", levelStr)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	}

	rootCmd.AddCommand(newEvalCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReplayCmd())

	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				log.Error().Err(ee.err).Msg("command failed")
			}
			os.Exit(ee.code)
		}
		log.Error().Err(err).Msg("command failed")
		os.Exit(2)
	}
}
