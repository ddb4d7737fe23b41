package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/policygate/capital/internal/audit"
	"github.com/policygate/capital/internal/broker"
	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
	"github.com/policygate/capital/internal/runner"
)

// newBroker maps a broker selector to an adapter.
func newBroker(name string, logger zerolog.Logger) (broker.Adapter, error) {
	switch name {
	case "sim":
		return broker.NewSim(), nil
	case "alpaca":
		return broker.NewAlpacaFromEnv(logger)
	case "tradier":
		return broker.NewTradierFromEnv(logger)
	default:
		return nil, fmt.Errorf("unknown broker %q (want sim, alpaca, or tradier)", name)
	}
}

// truncateIfExists resets a log file so the run starts from a clean log.
// A fresh run owns its output files.
func truncateIfExists(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.Truncate(path, 0)
}

func newRunCmd() *cobra.Command {
	var (
		policyPath    string
		intentsPath   string
		portfolioPath string
		marketPath    string
		executionPath string
		auditLogPath  string
		execLogPath   string
		brokerName    string
		summaryPath   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a stream of order intents through the gate and a broker",
		Long: `Drive a JSONL stream of order intents through the policy engine,
submitting ALLOW/MODIFY orders to the selected broker and printing a run
summary on stdout.

Exit codes: 0 on success, 2 on operational error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := engine.New(policyPath)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			intents, err := domain.LoadIntentsJSONL(intentsPath)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			portfolio, err := domain.LoadPortfolioFile(portfolioPath)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			market, err := domain.LoadMarketFile(marketPath)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			execution := domain.NewExecutionState()
			if executionPath != "" {
				execution, err = domain.LoadExecutionFile(executionPath)
				if err != nil {
					return &exitError{code: 2, err: err}
				}
			}

			adapter, err := newBroker(brokerName, log.Logger)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			for _, path := range []string{auditLogPath, execLogPath} {
				if err := truncateIfExists(path); err != nil {
					return &exitError{code: 2, err: fmt.Errorf("truncate %s: %w", path, err)}
				}
			}

			cfg := runner.Config{
				Engine:       eng,
				Broker:       adapter,
				AuditLogPath: auditLogPath,
				ExecLogPath:  execLogPath,
				RunID:        uuid.NewString(),
				Logger:       log.Logger,
			}

			summary, runErr := runner.RunStream(cmd.Context(), cfg, intents, portfolio, market, execution)

			out, err := audit.MarshalCanonicalIndent(summary.Build(portfolio, execution))
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if summaryPath != "" {
				if err := os.WriteFile(summaryPath, append(out, '\n'), 0o644); err != nil {
					return &exitError{code: 2, err: fmt.Errorf("write summary: %w", err)}
				}
			}

			if runErr != nil {
				return &exitError{code: 2, err: runErr}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy YAML file (required)")
	cmd.Flags().StringVar(&intentsPath, "intents", "", "Path to the order intents JSONL file (required)")
	cmd.Flags().StringVar(&portfolioPath, "portfolio", "", "Path to the portfolio state JSON file (required)")
	cmd.Flags().StringVar(&marketPath, "market", "", "Path to the market snapshot JSON file (required)")
	cmd.Flags().StringVar(&executionPath, "execution", "", "Path to the execution state JSON file (optional)")
	cmd.Flags().StringVar(&auditLogPath, "audit-log", "", "Audit log JSONL output path (optional)")
	cmd.Flags().StringVar(&execLogPath, "exec-log", "", "Execution event log JSONL output path (optional)")
	cmd.Flags().StringVar(&brokerName, "broker", "sim", "Broker adapter (sim|alpaca|tradier)")
	cmd.Flags().StringVar(&summaryPath, "out-summary", "", "Also write the run summary to this file (optional)")
	for _, flag := range []string{"policy", "intents", "portfolio", "market"} {
		_ = cmd.MarkFlagRequired(flag)
	}
	return cmd
}
