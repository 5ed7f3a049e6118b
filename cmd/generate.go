package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/repocard/internal/evidence"
	"github.com/sells-group/repocard/internal/model"
	"github.com/sells-group/repocard/internal/pipeline"
	"github.com/sells-group/repocard/internal/record"
	"github.com/sells-group/repocard/internal/store"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a fact proposal from an evidence bundle",
	Long:  "Runs the deterministic baseline, extraction, reasoning and verification passes and writes a reviewable proposal. A reasoning-service outage degrades to the deterministic baseline.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := generateOptions{}
		opts.EvidencePath, _ = cmd.Flags().GetString("evidence")
		opts.EvidenceHash, _ = cmd.Flags().GetString("evidence-hash")
		opts.DocumentPath, _ = cmd.Flags().GetString("document")
		opts.DecisionsPath, _ = cmd.Flags().GetString("decisions")
		opts.RunID, _ = cmd.Flags().GetString("run-id")
		opts.Out, _ = cmd.Flags().GetString("out")
		if opts.EvidencePath == "" && opts.EvidenceHash == "" {
			return eris.New("generate: --evidence or --evidence-hash is required")
		}
		if opts.DocumentPath == "" {
			opts.DocumentPath = cfg.Record.DocumentPath
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		inv, err := initInvoker()
		if err != nil {
			return err
		}

		res, err := runGenerate(ctx, st, inv, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.ProposalPath)
		return nil
	},
}

func init() {
	generateCmd.Flags().String("evidence", "", "path to the evidence bundle JSON")
	generateCmd.Flags().String("evidence-hash", "", "load the evidence bundle from the cache by content hash")
	generateCmd.Flags().String("document", "", "current record document (defaults to record.document_path)")
	generateCmd.Flags().String("decisions", "", "decisions file (.json or .yaml); defaults to the stored decision history")
	generateCmd.Flags().String("run-id", "", "run identifier (generated when empty)")
	generateCmd.Flags().String("out", "", "proposal output path (defaults to <record.root>/runs/<run-id>/proposal.json)")
	rootCmd.AddCommand(generateCmd)
}

type generateOptions struct {
	EvidencePath  string
	EvidenceHash  string
	DocumentPath  string
	DecisionsPath string
	RunID         string
	Out           string
}

type generateResult struct {
	RunID        string
	ProposalPath string
	Proposal     *model.Proposal
}

// generateInputs is everything a generate run reads before the passes start.
type generateInputs struct {
	bundle       *evidence.Bundle
	evidenceHash string
	document     any
	decisions    []model.Decision
}

// runGenerate produces and persists one proposal. inv may be nil.
func runGenerate(ctx context.Context, st store.Store, inv pipeline.Invoker, opts generateOptions) (*generateResult, error) {
	start := time.Now()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := zap.L().With(zap.String("run_id", runID))

	in, err := loadGenerateInputs(ctx, st, opts, log)
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateRun(ctx, model.Run{
		ID:           runID,
		Kind:         model.RunKindGenerate,
		Repository:   in.bundle.Repository.Name,
		EvidenceHash: in.evidenceHash,
	}); err != nil {
		return nil, eris.Wrap(err, "generate: create run")
	}

	prop, err := func() (*model.Proposal, error) {
		pcfg, err := pipelineConfig()
		if err != nil {
			return nil, err
		}
		p := pipeline.New(pcfg, inv, pipeline.WithTracker(st), pipeline.WithLogger(zap.L()))
		return p.Run(ctx, pipeline.RunInput{
			RunID:        runID,
			GeneratedAt:  time.Now().UTC(),
			Bundle:       in.bundle,
			EvidenceHash: in.evidenceHash,
			Document:     in.document,
			Decisions:    in.decisions,
		})
	}()
	if err != nil {
		failRun(ctx, st, runID, err, log)
		return nil, eris.Wrap(err, "generate")
	}

	l := layout()
	out := opts.Out
	if out == "" {
		out = l.ProposalPath(runID)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return record.WriteProposal(out, prop) })
	g.Go(func() error { return record.WriteDecisions(l.DecisionsPath(runID), in.decisions) })
	if err := g.Wait(); err != nil {
		failRun(ctx, st, runID, err, log)
		return nil, eris.Wrap(err, "generate: write artifacts")
	}

	if n, err := st.EvictEvidence(ctx, evictPolicy()); err != nil {
		log.Warn("generate: evidence cache eviction failed", zap.Error(err))
	} else if n > 0 {
		log.Info("generate: evicted cached evidence", zap.Int("entries", n))
	}

	summary := &model.RunSummary{
		Facts:           len(prop.Facts),
		Valid:           true,
		CoverageNonNull: prop.Diagnostics.CoverageNonNull,
		Passes:          prop.Meta.Passes,
		Usage:           prop.Meta.Usage,
		DurationMs:      time.Since(start).Milliseconds(),
	}
	if err := st.CompleteRun(ctx, runID, summary); err != nil {
		return nil, eris.Wrap(err, "generate: complete run")
	}

	log.Info("generate: proposal written",
		zap.String("path", out),
		zap.Int("facts", len(prop.Facts)),
		zap.Int64("duration_ms", summary.DurationMs),
	)
	return &generateResult{RunID: runID, ProposalPath: out, Proposal: prop}, nil
}

// loadGenerateInputs reads evidence, the current document and decisions
// concurrently.
func loadGenerateInputs(ctx context.Context, st store.Store, opts generateOptions, log *zap.Logger) (*generateInputs, error) {
	in := &generateInputs{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bundle, hash, err := loadEvidence(gctx, st, opts, log)
		if err != nil {
			return err
		}
		in.bundle, in.evidenceHash = bundle, hash
		return nil
	})

	g.Go(func() error {
		doc, err := record.ReadDocument(opts.DocumentPath)
		if errors.Is(err, record.ErrMissingInput) {
			log.Info("generate: no current document, starting from empty", zap.String("path", opts.DocumentPath))
			in.document = map[string]any{}
			return nil
		}
		if err != nil {
			return err
		}
		in.document = doc
		return nil
	})

	g.Go(func() error {
		var err error
		if opts.DecisionsPath != "" {
			in.decisions, err = record.ReadDecisions(opts.DecisionsPath)
			return err
		}
		in.decisions, err = st.LatestDecisions(gctx)
		return eris.Wrap(err, "generate: load decision history")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// loadEvidence reads the bundle from a file, caching its bytes by content
// hash, or from the cache when only a hash is given.
func loadEvidence(ctx context.Context, st store.Store, opts generateOptions, log *zap.Logger) (*evidence.Bundle, string, error) {
	if opts.EvidencePath != "" {
		bundle, raw, err := evidence.Load(opts.EvidencePath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", eris.Wrapf(record.ErrMissingInput, "generate: evidence %s", opts.EvidencePath)
		}
		if err != nil {
			return nil, "", err
		}
		hash := evidence.Hash(raw)
		if err := st.PutCachedEvidence(ctx, hash, raw); err != nil {
			log.Warn("generate: failed to cache evidence", zap.String("hash", hash), zap.Error(err))
		}
		return bundle, hash, nil
	}

	entry, err := st.GetCachedEvidence(ctx, opts.EvidenceHash)
	if err != nil {
		return nil, "", err
	}
	if entry == nil {
		return nil, "", eris.Wrapf(record.ErrMissingInput, "generate: evidence %s not cached", opts.EvidenceHash)
	}
	bundle, err := evidence.Parse(entry.Data)
	if err != nil {
		return nil, "", err
	}
	return bundle, entry.Hash, nil
}

func failRun(ctx context.Context, st store.Store, runID string, cause error, log *zap.Logger) {
	if err := st.FailRun(ctx, runID, cause); err != nil {
		log.Warn("failed to record run failure", zap.Error(err))
	}
}
