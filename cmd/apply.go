package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/repocard/internal/apply"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/record"
	"github.com/sells-group/repocard/internal/store"
)

// errResidualInvalid marks an apply whose document still fails validation
// after the prune loop.
var errResidualInvalid = eris.New("apply: document failed schema validation")

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a reviewed proposal to the record",
	Long:  "Merges accepted facts into the record, validates it against the schema, prunes offending facts and writes the canonical document, provenance index and pending-review proposal.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := applyOptions{}
		opts.ProposalPath, _ = cmd.Flags().GetString("proposal")
		opts.DecisionsPath, _ = cmd.Flags().GetString("decisions")
		opts.DocumentPath, _ = cmd.Flags().GetString("document")
		opts.IndexPath, _ = cmd.Flags().GetString("index")
		opts.RunID, _ = cmd.Flags().GetString("run-id")
		if opts.DocumentPath == "" {
			opts.DocumentPath = cfg.Record.DocumentPath
		}
		if opts.IndexPath == "" {
			opts.IndexPath = cfg.Record.IndexPath
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, _, err := initApplyEngine(zap.L())
		if err != nil {
			return err
		}

		res, err := runApply(ctx, st, engine, opts)
		if res != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s merged=%d dropped=%d pending=%d valid=%t\n",
				res.DocumentHash, len(res.Merged), len(res.Dropped), len(res.Pending.Facts), res.Valid)
		}
		return err
	},
}

func init() {
	applyCmd.Flags().String("proposal", "", "proposal to apply")
	applyCmd.Flags().String("decisions", "", "decisions file (.json or .yaml)")
	applyCmd.Flags().String("document", "", "record document (defaults to record.document_path)")
	applyCmd.Flags().String("index", "", "provenance index (defaults to record.index_path)")
	applyCmd.Flags().String("run-id", "", "run identifier (generated when empty)")
	_ = applyCmd.MarkFlagRequired("proposal")
	rootCmd.AddCommand(applyCmd)
}

type applyOptions struct {
	ProposalPath  string
	DecisionsPath string
	DocumentPath  string
	IndexPath     string
	RunID         string
}

// runApply merges a proposal into the record and writes every artifact.
// A structural failure returns no result. A document that stays invalid
// is still written, and errResidualInvalid is returned with the result.
func runApply(ctx context.Context, st store.Store, engine *apply.Engine, opts applyOptions) (*apply.Result, error) {
	start := time.Now()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := zap.L().With(zap.String("run_id", runID))

	var (
		prop      *model.Proposal
		decisions []model.Decision
		doc       any
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prop, err = record.ReadProposal(opts.ProposalPath)
		return err
	})
	g.Go(func() error {
		if opts.DecisionsPath == "" {
			return nil
		}
		var err error
		decisions, err = record.ReadDecisions(opts.DecisionsPath)
		return err
	})
	g.Go(func() error {
		var err error
		doc, err = record.ReadDocument(opts.DocumentPath)
		if errors.Is(err, record.ErrMissingInput) {
			doc, err = map[string]any{}, nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if _, err := st.CreateRun(ctx, model.Run{
		ID:           runID,
		Kind:         model.RunKindApply,
		Repository:   prop.Meta.Repository,
		EvidenceHash: prop.Meta.EvidenceHash,
	}); err != nil {
		return nil, eris.Wrap(err, "apply: create run")
	}
	if err := st.UpdateRunStatus(ctx, runID, model.RunStatusApplying); err != nil {
		log.Warn("apply: failed to update run status", zap.Error(err))
	}

	res, err := engine.Apply(ctx, apply.Input{Document: doc, Proposal: prop, Decisions: decisions})
	if err != nil {
		failRun(ctx, st, runID, err, log)
		return nil, err
	}

	l := layout()
	report := &record.ApplyReport{
		RunID:         runID,
		ProposalRunID: prop.Meta.RunID,
		AppliedAt:     time.Now().UTC(),
		Valid:         res.Valid,
		Iterations:    res.Iterations,
		DocumentHash:  res.DocumentHash,
		Merged:        record.FactPaths(res.Merged),
		Dropped:       record.FactPaths(res.Dropped),
		Pending:       record.FactPaths(res.Pending.Facts),
		Issues:        res.Issues,
		Patch:         res.Patch,
	}

	wg, wctx := errgroup.WithContext(ctx)
	wg.Go(func() error { return record.WriteFile(opts.DocumentPath, res.DocumentBytes) })
	wg.Go(func() error { return record.WriteFile(opts.IndexPath, res.IndexBytes) })
	wg.Go(func() error { return record.WriteProposal(l.ProposalPath(runID), res.Pending) })
	wg.Go(func() error { return record.WriteDecisions(l.DecisionsPath(runID), res.Decisions) })
	wg.Go(func() error { return record.WriteJSON(l.ApplyReportPath(runID), report) })
	wg.Go(func() error { return st.SaveDecisions(wctx, runID, res.Decisions) })
	if err := wg.Wait(); err != nil {
		failRun(ctx, st, runID, err, log)
		return nil, eris.Wrap(err, "apply: write artifacts")
	}

	if !res.Valid {
		cause := eris.Wrapf(errResidualInvalid, "%d issue(s) remain after %d iteration(s)", len(res.Issues), res.Iterations)
		for _, is := range res.Issues {
			log.Error("apply: residual validation issue", zap.String("pointer", is.Pointer), zap.String("message", is.Message))
		}
		failRun(ctx, st, runID, cause, log)
		return res, cause
	}

	if err := st.CompleteRun(ctx, runID, &model.RunSummary{
		Facts:        len(prop.Facts),
		Merged:       len(res.Merged),
		Dropped:      len(res.Dropped),
		Iterations:   res.Iterations,
		Valid:        res.Valid,
		DocumentHash: res.DocumentHash,
		Usage:        prop.Meta.Usage,
		DurationMs:   time.Since(start).Milliseconds(),
	}); err != nil {
		return nil, eris.Wrap(err, "apply: complete run")
	}

	log.Info("apply: record updated",
		zap.String("document", opts.DocumentPath),
		zap.String("index", opts.IndexPath),
		zap.String("document_hash", res.DocumentHash),
		zap.Int("merged", len(res.Merged)),
		zap.Int("dropped", len(res.Dropped)),
		zap.Int("pending", len(res.Pending.Facts)),
	)
	return res, nil
}
