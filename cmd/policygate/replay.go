package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/policygate/capital/internal/audit"
	"github.com/policygate/capital/internal/engine"
)

func newReplayCmd() *cobra.Command {
	var (
		policyPath   string
		auditLogPath string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an audit log and verify every recorded decision",
		Long: `Re-evaluate every event in an audit log against the given policy and
report events whose replayed decision differs from the recorded one. The
policy's content hash must match the hash recorded in the log.

Exit codes: 0 when every event replays identically, 1 on any mismatch,
2 on operational error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := engine.New(policyPath)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			mismatched, err := audit.VerifyLog(auditLogPath, eng.Policy(), eng.PolicyHash())
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			if len(mismatched) > 0 {
				for _, i := range mismatched {
					fmt.Fprintf(cmd.OutOrStdout(), "event %d: replayed decision differs from recorded decision\n", i)
				}
				return &exitError{code: 1, err: fmt.Errorf("%d of replayed events mismatched", len(mismatched))}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "audit log verified: all events replay identically")
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy YAML file (required)")
	cmd.Flags().StringVar(&auditLogPath, "audit-log", "", "Path to the audit log JSONL file (required)")
	_ = cmd.MarkFlagRequired("policy")
	_ = cmd.MarkFlagRequired("audit-log")
	return cmd
}
