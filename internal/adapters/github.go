// Package adapters fetches repository metadata from external sources and turns
// it into scan samples.
package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/resilience"
	"github.com/goccy/go-json"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint
	DefaultAPIURL = "https://api.github.com"

	userAgent   = "beastml-scanner/1.0"
	activeAfter = 90 * 24 * time.Hour
	staleDays   = 365
)

var codeExtensions = map[string]bool{
	".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".py": true, ".java": true,
	".cpp": true, ".c": true, ".go": true, ".rs": true, ".rb": true, ".php": true,
}

// GitHubRepo is the subset of the repository payload the scanner reads
type GitHubRepo struct {
	FullName        string    `json:"full_name"`
	HTMLURL         string    `json:"html_url"`
	Description     string    `json:"description"`
	Language        string    `json:"language"`
	StargazersCount int       `json:"stargazers_count"`
	ForksCount      int       `json:"forks_count"`
	OpenIssuesCount int       `json:"open_issues_count"`
	Topics          []string  `json:"topics"`
	License         *struct{} `json:"license"`
	DefaultBranch   string    `json:"default_branch"`
	Private         bool      `json:"private"`
	Fork            bool      `json:"fork"`
	Archived        bool      `json:"archived"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	PushedAt        time.Time `json:"pushed_at"`
}

// GitHubTree is a recursive git tree listing; only paths are read
type GitHubTree struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// GitHubClient scans public repositories through the REST API
type GitHubClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	logger     *monitoring.Logger
	now        func() time.Time
}

// NewGitHubClient creates a scanner client. An empty baseURL uses the public API.
func NewGitHubClient(baseURL, token string, logger *monitoring.Logger) *GitHubClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if logger == nil {
		logger = &monitoring.Logger{Logger: slog.Default()}
	}

	return &GitHubClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker: resilience.NewCircuitBreaker("github", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 2,
		}),
		retry:  resilience.ExternalAPIRetryConfig(),
		logger: logger,
		now:    time.Now,
	}
}

// FetchFeatures scans one "owner/repo" and returns its feature sample. File
// indicators come from the git tree; when the tree is unavailable they are
// left at 0. Private repositories are rejected.
func (g *GitHubClient) FetchFeatures(ctx context.Context, fullName string) (features.Sample, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return features.Sample{}, err
	}

	var repo GitHubRepo
	if err := g.get(ctx, fmt.Sprintf("/repos/%s/%s", owner, name), &repo); err != nil {
		return features.Sample{}, err
	}
	if repo.Private {
		return features.Sample{}, apperrors.NewValidationError("repository is private", fullName)
	}

	record := g.repoFeatures(repo)

	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	var tree GitHubTree
	treePath := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, name, url.PathEscape(branch))
	if err := g.get(ctx, treePath, &tree); err != nil {
		g.logger.Warn("File tree unavailable, continuing with repository metadata",
			"repo", fullName,
			"error", err)
	} else {
		treeFeatures(record, tree)
	}

	repoID := repo.FullName
	if repoID == "" {
		repoID = owner + "/" + name
	}
	return features.Sample{
		RepoID:     repoID,
		URL:        repo.HTMLURL,
		Features:   record,
		ObservedAt: g.now().UTC(),
	}, nil
}

// ScanResult pairs a repository with its sample or failure
type ScanResult struct {
	Repo   string
	Sample features.Sample
	Err    error
}

// ScanAll fetches repos with at most concurrency requests in flight. Results
// keep the input order.
func (g *GitHubClient) ScanAll(ctx context.Context, repos []string, concurrency int) []ScanResult {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]ScanResult, len(repos))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, repo := range repos {
		wg.Add(1)
		go func(i int, repo string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = ScanResult{Repo: repo, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			sample, err := g.FetchFeatures(ctx, repo)
			results[i] = ScanResult{Repo: repo, Sample: sample, Err: err}
		}(i, repo)
	}

	wg.Wait()
	return results
}

// Stats exposes the circuit breaker state
func (g *GitHubClient) Stats() map[string]interface{} {
	return g.breaker.Stats()
}

func (g *GitHubClient) repoFeatures(repo GitHubRepo) features.Record {
	now := g.now()
	stars := float64(repo.StargazersCount)
	forks := float64(repo.ForksCount)
	openIssues := float64(repo.OpenIssuesCount)

	language := repo.Language
	if language == "" {
		language = "Unknown"
	}

	record := features.Record{
		"stars":           stars,
		"forks":           forks,
		"openIssues":      openIssues,
		"hasLicense":      indicator(repo.License != nil),
		"hasDescription":  indicator(repo.Description != ""),
		"hasTopics":       indicator(len(repo.Topics) > 0),
		"isFork":          indicator(repo.Fork),
		"archived":        indicator(repo.Archived),
		"language":        language,
		"repoAgeDays":     daysSince(now, repo.CreatedAt, 0),
		"daysSincePush":   daysSince(now, repo.PushedAt, staleDays),
		"daysSinceUpdate": daysSince(now, repo.UpdatedAt, staleDays),
		"isActive":        indicator(!repo.PushedAt.IsZero() && now.Sub(repo.PushedAt) < activeAfter),
	}
	if forks > 0 {
		record["starsForksRatio"] = stars / forks
	}
	if openIssues > 0 {
		record["engagementPerIssue"] = (stars + forks) / openIssues
	}
	return features.ExpandLanguage(record)
}

func treeFeatures(record features.Record, tree GitHubTree) {
	var files, codeFiles int
	var hasTests, hasCI, hasDocker, hasConfig, hasReadme bool

	for _, item := range tree.Tree {
		if item.Type != "blob" {
			continue
		}
		files++
		p := item.Path
		if codeExtensions[strings.ToLower(path.Ext(p))] {
			codeFiles++
		}
		hasTests = hasTests || strings.Contains(p, "test") || strings.Contains(p, "spec")
		hasCI = hasCI || strings.Contains(p, ".github/workflows") || strings.Contains(p, ".gitlab-ci") || strings.Contains(p, "ci.yml")
		hasDocker = hasDocker || strings.Contains(p, "Dockerfile") || strings.Contains(p, "docker-compose")
		hasConfig = hasConfig || strings.Contains(p, "config")
		hasReadme = hasReadme || strings.Contains(strings.ToLower(p), "readme")
	}

	record["fileCount"] = float64(files)
	record["totalFiles"] = float64(files)
	record["codeFileCount"] = float64(codeFiles)
	record["hasTests"] = indicator(hasTests)
	record["hasCI"] = indicator(hasCI)
	record["hasDocker"] = indicator(hasDocker)
	record["hasConfig"] = indicator(hasConfig)
	record["hasReadme"] = indicator(hasReadme)
	if files > 0 {
		record["codeFileRatio"] = float64(codeFiles) / float64(files)
		record["starsPerFile"] = record.Get("stars") / float64(files)
	}
}

// get issues a GET through the circuit breaker and retry policy and decodes
// the JSON body into out
func (g *GitHubClient) get(ctx context.Context, endpoint string, out any) error {
	return resilience.Retry(ctx, g.retry, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			return g.do(ctx, endpoint, out)
		})
	})
}

func (g *GitHubClient) do(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+endpoint, nil)
	if err != nil {
		return apperrors.NewInternalError("failed to build GitHub request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewNetworkError("GitHub request failed", err)
	}
	defer apperrors.SafeClose(resp.Body, "github response body")

	g.logger.ExternalAPILogger("github", http.MethodGet, endpoint, resp.StatusCode, time.Since(start), resp.StatusCode == http.StatusOK)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusError(resp, endpoint, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewExternalAPIError("github", resp.StatusCode, fmt.Errorf("failed to decode %s: %w", endpoint, err))
	}
	return nil
}

func statusError(resp *http.Response, endpoint string, body []byte) error {
	cause := fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError("repository", endpoint)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		retryAfter := resp.Header.Get("Retry-After")
		if retryAfter == "" {
			retryAfter = resp.Header.Get("X-RateLimit-Reset")
		}
		return apperrors.NewRateLimitError(retryAfter)
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.NewConfigurationError("GitHub token rejected", cause)
	case resilience.IsRetryableHTTPStatus(resp.StatusCode):
		return apperrors.NewExternalAPIError("github", resp.StatusCode, cause)
	default:
		return apperrors.NewValidationError("GitHub rejected the request", cause.Error())
	}
}

func splitFullName(fullName string) (string, string, error) {
	fullName = strings.TrimPrefix(strings.TrimSpace(fullName), "https://github.com/")
	owner, name, ok := strings.Cut(strings.Trim(fullName, "/"), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", apperrors.NewValidationError("repository must be owner/name", fullName)
	}
	return owner, name, nil
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func daysSince(now, t time.Time, missing float64) float64 {
	if t.IsZero() {
		return missing
	}
	return float64(int(now.Sub(t).Hours() / 24))
}
