package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/policygate/capital/internal/audit"
	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
)

func newEvalCmd() *cobra.Command {
	var (
		policyPath    string
		intentPath    string
		portfolioPath string
		marketPath    string
		executionPath string
		auditLogPath  string
		pretty        bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a single order intent and print the decision",
		Long: `Evaluate one order intent against the policy and print the decision as
JSON on stdout.

Exit codes: 0 on ALLOW or MODIFY, 1 on DENY, 2 on operational error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := engine.New(policyPath)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			intent, err := domain.LoadIntentFile(intentPath)
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

			decision := eng.Evaluate(intent, portfolio, market, execution)

			if auditLogPath != "" {
				event := audit.BuildEvent(decision, intent, portfolio, market, execution, eng.PolicyHash(), "")
				if err := audit.WriteEvent(auditLogPath, event); err != nil {
					return &exitError{code: 2, err: err}
				}
			}

			var out []byte
			if pretty {
				out, err = audit.MarshalCanonicalIndent(decision)
			} else {
				out, err = audit.MarshalCanonical(decision)
			}
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if decision.Verdict == engine.VerdictDeny {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy YAML file (required)")
	cmd.Flags().StringVar(&intentPath, "intent", "", "Path to the order intent JSON file (required)")
	cmd.Flags().StringVar(&portfolioPath, "portfolio", "", "Path to the portfolio state JSON file (required)")
	cmd.Flags().StringVar(&marketPath, "market", "", "Path to the market snapshot JSON file (required)")
	cmd.Flags().StringVar(&executionPath, "execution", "", "Path to the execution state JSON file (optional)")
	cmd.Flags().StringVar(&auditLogPath, "audit-log", "", "Append the audit event to this JSONL file (optional)")
	cmd.Flags().BoolVar(&pretty, "pretty", term.IsTerminal(int(os.Stdout.Fd())), "Indent the decision JSON (defaults to true on a TTY)")
	for _, flag := range []string{"policy", "intent", "portfolio", "market"} {
		_ = cmd.MarkFlagRequired(flag)
	}
	return cmd
}
