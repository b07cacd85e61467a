package handlers

import (
	"bulletin/internal/config"
	"bulletin/internal/core"
	"bulletin/internal/persistence"
	"bulletin/internal/render"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewDigestCmd creates the digest command group
func NewDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Inspect stored daily digests",
	}

	cmd.AddCommand(newDigestShowCmd())
	cmd.AddCommand(newDigestListCmd())

	return cmd
}

func newDigestShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show [date]",
		Short: "Display the digest for a date (default: latest)",
		Long: `Show one stored digest.

Examples:
  bulletin digest show
  bulletin digest show 2024-03-05 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := ""
			if len(args) == 1 {
				date = args[0]
			}
			return runDigestShow(contextOrBackground(cmd.Context()), cmd.OutOrStdout(), date, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, markdown)")

	return cmd
}

func newDigestListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestList(contextOrBackground(cmd.Context()), cmd.OutOrStdout(), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of digests to list")

	return cmd
}

func runDigestShow(ctx context.Context, w io.Writer, rawDate, format string) error {
	db, err := openDatabase(ctx, config.Get())
	if err != nil {
		return err
	}
	defer db.Close()

	d, err := findDigest(ctx, db, rawDate)
	if err != nil {
		return err
	}
	return writeDigest(w, *d, format)
}

func findDigest(ctx context.Context, db persistence.Database, rawDate string) (*core.DailyDigest, error) {
	if rawDate == "" {
		latest, err := db.Digests().Latest(ctx, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to load latest digest: %w", err)
		}
		if len(latest) == 0 {
			return nil, fmt.Errorf("no digests stored yet, run 'bulletin refresh' first")
		}
		return &latest[0], nil
	}

	date, err := core.ParseDate(rawDate)
	if err != nil {
		return nil, err
	}
	d, err := db.Digests().GetByDate(ctx, date)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("no digest for %s", date)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load digest: %w", err)
	}
	return d, nil
}

func writeDigest(w io.Writer, d core.DailyDigest, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case "markdown", "md":
		_, err := fmt.Fprintf(w, "# Daily Digest - %s\n\n%s\n", d.Date, d.Summary)
		return err
	case "text", "":
		_, err := fmt.Fprintln(w, render.Digest(d))
		return err
	default:
		return fmt.Errorf("unknown format %q (want text, json or markdown)", format)
	}
}

func runDigestList(ctx context.Context, w io.Writer, limit int) error {
	db, err := openDatabase(ctx, config.Get())
	if err != nil {
		return err
	}
	defer db.Close()

	digests, err := db.Digests().Latest(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list digests: %w", err)
	}
	if len(digests) == 0 {
		fmt.Fprintln(w, "No digests found")
		return nil
	}

	for _, d := range digests {
		fmt.Fprintf(w, "%s  generated %s  %d chars\n", d.Date, d.GeneratedAt.UTC().Format("2006-01-02 15:04"), len(d.Summary))
	}
	return nil
}
