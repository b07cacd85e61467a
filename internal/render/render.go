package render

import (
	"bulletin/internal/core"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenderMarkdownDigest writes d to digest_<date>.md under outputDir and
// returns the file path.
func RenderMarkdownDigest(d core.DailyDigest, outputDir string) (string, error) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Daily Digest - %s\n\n", d.Date))
	if strings.TrimSpace(d.Summary) == "" {
		b.WriteString("No digest content for this date.\n")
	} else {
		b.WriteString(strings.TrimSpace(d.Summary))
		b.WriteString("\n")
	}
	if !d.GeneratedAt.IsZero() {
		b.WriteString(fmt.Sprintf("\n---\n\n*Generated %s*\n", d.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")))
	}

	return WriteDigestToFile(b.String(), outputDir, fmt.Sprintf("digest_%s.md", d.Date))
}

// WriteDigestToFile writes the provided content to a file in the specified directory
func WriteDigestToFile(content, outputDir, filename string) (string, error) {
	if outputDir == "" {
		outputDir = "digests" // Default output directory
	}

	err := os.MkdirAll(outputDir, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	filePath := filepath.Join(outputDir, filename)

	err = os.WriteFile(filePath, []byte(content), 0644)
	if err != nil {
		return "", fmt.Errorf("failed to write digest file %s: %w", filePath, err)
	}

	return filePath, nil
}
