package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/repocard/internal/canonical"
	"github.com/sells-group/repocard/internal/record"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the record and index are in canonical form",
	Long:  "Re-canonicalizes the record document and provenance index and fails if either differs from its stored bytes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		doc, _ := cmd.Flags().GetString("document")
		idx, _ := cmd.Flags().GetString("index")
		if doc == "" {
			doc = cfg.Record.DocumentPath
		}
		if idx == "" {
			idx = cfg.Record.IndexPath
		}
		return runCheck(cmd.OutOrStdout(), canonical.New(), doc, idx)
	},
}

func init() {
	checkCmd.Flags().String("document", "", "record document (defaults to record.document_path)")
	checkCmd.Flags().String("index", "", "provenance index (defaults to record.index_path)")
	rootCmd.AddCommand(checkCmd)
}

// runCheck reports each path and fails when any is missing or drifted.
func runCheck(out io.Writer, n *canonical.Normalizer, paths ...string) error {
	failed := 0
	for _, p := range paths {
		err := record.Check(p, n)
		switch {
		case err == nil:
			fmt.Fprintf(out, "ok\t%s\n", p)
		case errors.Is(err, record.ErrNotCanonical):
			failed++
			fmt.Fprintf(out, "drift\t%s\n", p)
		case errors.Is(err, record.ErrMissingInput):
			failed++
			fmt.Fprintf(out, "missing\t%s\n", p)
		default:
			failed++
			fmt.Fprintf(out, "error\t%s\t%v\n", p, err)
		}
	}
	if failed > 0 {
		return eris.Errorf("check: %d of %d file(s) not canonical", failed, len(paths))
	}
	return nil
}
