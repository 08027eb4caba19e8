package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/adapters"
	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/spf13/cobra"
)

func newScanCmd(c *cli) *cobra.Command {
	var listFile string

	cmd := &cobra.Command{
		Use:   "scan [owner/repo ...]",
		Short: "Scan GitHub repositories into a new training batch",
		Long: `Fetch repository metadata and file trees from the GitHub API and write the
extracted features as a scan batch in data.training_dir.

Examples:
  beastml scan golang/go spf13/cobra
  beastml scan --file repos.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repos := args
			if listFile != "" {
				listed, err := readRepoList(listFile)
				if err != nil {
					return err
				}
				repos = append(repos, listed...)
			}
			if len(repos) == 0 {
				return apperrors.NewValidationError("no repositories to scan")
			}

			client := adapters.NewGitHubClient(c.cfg.GitHub.APIURL, c.cfg.GitHub.Token, c.logger)
			results := client.ScanAll(cmd.Context(), repos, c.cfg.GitHub.Concurrency)

			samples := make([]features.Sample, 0, len(results))
			for _, r := range results {
				if r.Err != nil {
					c.logger.Warn("Repository scan failed", "repo", r.Repo, "error", r.Err)
					continue
				}
				samples = append(samples, r.Sample)
			}
			if len(samples) == 0 {
				return apperrors.NewDataError("every repository scan failed", nil)
			}

			path, err := features.WriteScan(c.cfg.Data.TrainingDir, samples, time.Now())
			if err != nil {
				return apperrors.NewPersistenceError("scan batch", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d/%d repositories -> %s\n", len(samples), len(repos), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&listFile, "file", "", "file with one owner/repo per line")
	return cmd
}

// readRepoList skips blank lines and # comments
func readRepoList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewValidationError("cannot open repository list", err.Error())
	}
	defer apperrors.SafeClose(f, path)

	var repos []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		repos = append(repos, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewDataError("failed to read repository list", err)
	}
	return repos, nil
}
