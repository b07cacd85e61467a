package handlers

import (
	"bulletin/internal/config"
	"bulletin/internal/digest"
	"bulletin/internal/persistence"
	"bulletin/internal/pipeline"
	"bulletin/internal/render"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRefreshCmd creates the refresh command
func NewRefreshCmd() *cobra.Command {
	var (
		asJSON    bool
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch, annotate and digest once",
		Long: `Run one refresh: fetch every enabled source, store new records,
judge records that have not been judged yet and generate today's digest
if it does not exist.

Source, judgment and digest failures are reported in the run manifest and
do not fail the command.

Examples:
  bulletin refresh
  bulletin refresh --json
  bulletin refresh --output digests`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd.Context(), cmd.OutOrStdout(), asJSON, outputDir)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run manifest as JSON")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Write a newly generated digest as markdown into this directory")

	return cmd
}

func runRefresh(ctx context.Context, w io.Writer, asJSON bool, outputDir string) error {
	ctx = contextOrBackground(ctx)
	cfg := config.Get()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := newPipeline(ctx, cfg, db)
	if err != nil {
		return err
	}

	m, err := p.Run(ctx)
	if err != nil {
		return err
	}

	if err := printManifest(w, m, asJSON); err != nil {
		return err
	}

	if outputDir != "" {
		return exportDigest(ctx, w, db, m.Digest, outputDir)
	}
	return nil
}

func printManifest(w io.Writer, m *pipeline.Manifest, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}
	_, err := fmt.Fprintln(w, render.Manifest(m))
	return err
}

// exportDigest writes the run's digest to outputDir when one was generated.
func exportDigest(ctx context.Context, w io.Writer, db persistence.Database, res digest.Result, outputDir string) error {
	if res.Status != digest.StatusGenerated {
		return nil
	}

	d, err := db.Digests().GetByDate(ctx, res.Date)
	if errors.Is(err, persistence.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Digest for %s disappeared before export\n", res.Date)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load digest: %w", err)
	}

	path, err := render.RenderMarkdownDigest(*d, outputDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Digest written to %s\n", path)
	return nil
}
