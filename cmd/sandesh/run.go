package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/metrics"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/pipeline"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var slotFlag string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run in the foreground and print its suggestions",
		Long: `Execute one manual run to completion and print the result.

The run takes the same run-lock as scheduled runs, so it fails while another
run is in progress. Without DATABASE_URL the output is not persisted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			slot := time.Now().UTC().Truncate(time.Minute)
			if slotFlag != "" {
				slot, err = time.Parse(time.RFC3339, slotFlag)
				if err != nil {
					return invalidConfig(fmt.Errorf("--slot must be RFC3339: %w", err))
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, metrics.NewNoopSink())
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.runner.Execute(ctx, slot, domain.TriggerManual)
			if run.ID == uuid.Nil {
				return err
			}
			if err != nil {
				log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("sandesh: run did not complete")
			}
			return printRun(ctx, cmd.OutOrStdout(), a, run)
		},
	}
	cmd.Flags().StringVar(&slotFlag, "slot", "", "scheduled slot for the run (RFC3339, default now)")
	return cmd
}

func printRun(ctx context.Context, w io.Writer, a *app, run domain.Run) error {
	fmt.Fprintf(w, "run %s: %s", run.ID, run.Status)
	if run.Reason != "" {
		fmt.Fprintf(w, " (%s)", run.Reason)
	}
	if len(run.SourceFailures) > 0 {
		fmt.Fprintf(w, " failed sources: %v", run.SourceFailures)
	}
	fmt.Fprintln(w)

	sgs, err := a.store.ListSuggestions(ctx, domain.SuggestionFilter{RunID: run.ID})
	if err != nil {
		return fmt.Errorf("list suggestions: %w", err)
	}
	for _, sg := range sgs {
		fmt.Fprintf(w, "  [%5.1f %-6s] %s: %s\n    %s\n    %s -> %s\n",
			sg.Score, sg.Urgency, sg.Vertical, sg.Title, sg.Body, sg.CTA, sg.Link)
	}
	if len(sgs) == 0 {
		fmt.Fprintln(w, "  no suggestions")
	}
	return nil
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <run-id>",
		Short: "Recompute a stored run's scores and compare them with what was stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return invalidConfig(fmt.Errorf("invalid run id %q", args[0]))
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return invalidConfig(fmt.Errorf("audit needs DATABASE_URL"))
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, metrics.NewNoopSink())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.runner.Replay(ctx, id)
			if err != nil {
				return err
			}
			return writeAudit(cmd.OutOrStdout(), res)
		},
	}
}

type auditCandidate struct {
	Vertical   string  `json:"vertical"`
	Rank       int     `json:"rank"`
	FinalScore float64 `json:"final_score"`
}

func writeAudit(w io.Writer, res pipeline.ReplayResult) error {
	out := struct {
		RunID      string           `json:"run_id"`
		Status     string           `json:"status"`
		Signals    int              `json:"signals"`
		Stored     []auditCandidate `json:"stored"`
		Recomputed []auditCandidate `json:"recomputed"`
		Match      bool             `json:"match"`
		Diffs      []string         `json:"diffs,omitempty"`
	}{
		RunID:      res.Run.ID.String(),
		Status:     string(res.Run.Status),
		Signals:    len(res.Signals),
		Stored:     auditCandidates(res.Stored),
		Recomputed: auditCandidates(res.Recomputed),
		Match:      res.Match,
		Diffs:      res.Diffs,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func auditCandidates(cs []domain.Candidate) []auditCandidate {
	out := make([]auditCandidate, len(cs))
	for i, c := range cs {
		out[i] = auditCandidate{Vertical: c.Vertical, Rank: c.Rank, FinalScore: c.FinalScore}
	}
	return out
}
