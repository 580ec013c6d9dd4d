package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/ternarybob/verdant/internal/models"
)

// GitHubAdapter enumerates image files from a repository directory via the
// Contents API. Results are sorted by path so enumeration order is stable
// across runs.
type GitHubAdapter struct {
	def    *models.SourceDefinition
	client *github.Client
	logger arbor.ILogger
}

// NewGitHubAdapter creates an adapter for a GitHub repository source. A
// token is optional; without one the adapter is limited to public repos and
// unauthenticated rate limits.
func NewGitHubAdapter(def *models.SourceDefinition, logger arbor.ILogger) *GitHubAdapter {
	var client *github.Client
	if token := def.GitHub.Token; token != "" {
		tc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		))
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &GitHubAdapter{def: def, client: client, logger: logger}
}

func (a *GitHubAdapter) Definition() *models.SourceDefinition {
	return a.def
}

func (a *GitHubAdapter) Enumerate(ctx context.Context) ([]models.CandidateItem, error) {
	gh := a.def.GitHub

	opts := &github.RepositoryContentGetOptions{Ref: gh.Ref}
	_, contents, _, err := a.client.Repositories.GetContents(ctx, gh.Owner, gh.Repo, gh.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s/%s: %w", gh.Owner, gh.Repo, gh.Path, err)
	}

	var candidates []models.CandidateItem
	for _, entry := range contents {
		if entry.GetType() != "file" || !isImagePath(entry.GetName()) {
			continue
		}
		downloadURL := entry.GetDownloadURL()
		if downloadURL == "" {
			continue
		}
		candidates = append(candidates, models.CandidateItem{
			SourceID:         a.def.ID,
			RemoteLocator:    downloadURL,
			ExpectedCategory: gh.Category,
			LicenseTag:       gh.License,
			DeclaredMetadata: map[string]string{
				"repo": gh.Owner + "/" + gh.Repo,
				"path": entry.GetPath(),
				"sha":  entry.GetSHA(),
			},
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DeclaredMetadata["path"] < candidates[j].DeclaredMetadata["path"]
	})

	a.logger.Debug().
		Str("source", a.def.ID).
		Str("repo", gh.Owner+"/"+gh.Repo).
		Int("candidates", len(candidates)).
		Msg("GitHub enumeration complete")

	return candidates, nil
}

func isImagePath(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return true
	default:
		return false
	}
}
