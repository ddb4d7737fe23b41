package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
	"github.com/policygate/capital/internal/httpapi"
	"github.com/policygate/capital/internal/runner"
)

func newServeCmd() *cobra.Command {
	var (
		policyPath    string
		portfolioPath string
		marketPath    string
		auditLogPath  string
		execLogPath   string
		brokerName    string
		host          string
		port          int
		token         string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP intake for order intents",
		Long: `Start the HTTP intake: POST /intent evaluates, audits, and submits under
a single server lock; GET /health reports state; GET /metrics exposes
Prometheus collectors.

Exit codes: 0 on clean shutdown, 2 on operational error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := engine.New(policyPath)
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

			adapter, err := newBroker(brokerName, log.Logger)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			cfg := runner.Config{
				Engine:       eng,
				Broker:       adapter,
				AuditLogPath: auditLogPath,
				ExecLogPath:  execLogPath,
				RunID:        uuid.NewString(),
				Logger:       log.Logger,
			}
			srv := httpapi.NewServer(cfg, portfolio, market, domain.NewExecutionState(), token)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := fmt.Sprintf("%s:%d", host, port)
			log.Info().
				Str("addr", addr).
				Str("broker", brokerName).
				Str("policy_hash", eng.PolicyHash()).
				Bool("auth", token != "").
				Msg("starting policy gate server")
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				return &exitError{code: 2, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy YAML file (required)")
	cmd.Flags().StringVar(&portfolioPath, "portfolio", "", "Path to the portfolio state JSON file (required)")
	cmd.Flags().StringVar(&marketPath, "market", "", "Path to the market snapshot JSON file (required)")
	cmd.Flags().StringVar(&auditLogPath, "audit-log", "", "Audit log JSONL output path (optional)")
	cmd.Flags().StringVar(&execLogPath, "exec-log", "", "Execution event log JSONL output path (optional)")
	cmd.Flags().StringVar(&brokerName, "broker", "sim", "Broker adapter (sim|alpaca|tradier)")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Bind host")
	cmd.Flags().IntVar(&port, "port", 8100, "Bind port")
	cmd.Flags().StringVar(&token, "token", "", "Require this bearer token on every request (optional)")
	for _, flag := range []string{"policy", "portfolio", "market"} {
		_ = cmd.MarkFlagRequired(flag)
	}
	return cmd
}
