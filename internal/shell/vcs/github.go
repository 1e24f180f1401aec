// Package vcs resolves commit ranges against the source hosting provider.
// This is part of the Imperative Shell.
package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Commit is one commit in a compared range.
type Commit struct {
	SHA     string
	Author  string
	Message string
}

// ShortSHA is the abbreviated revision used in notifications.
func (c Commit) ShortSHA() string {
	if len(c.SHA) <= 7 {
		return c.SHA
	}
	return c.SHA[:7]
}

// Title is the first line of the commit message.
func (c Commit) Title() string {
	title, _, _ := strings.Cut(c.Message, "\n")
	return title
}

// Differ lists the commits between two revisions of a repository.
type Differ interface {
	Compare(ctx context.Context, repoName, base, head string) ([]Commit, error)
}

const defaultBaseURL = "https://api.github.com"

// GitHub resolves commit ranges through the GitHub compare API.
type GitHub struct {
	client  *http.Client
	baseURL string
	token   string
}

var _ Differ = (*GitHub)(nil)

// NewGitHub builds a client. token may be empty for public repositories.
func NewGitHub(token string) *GitHub {
	return &GitHub{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: defaultBaseURL,
		token:   token,
	}
}

type compareResponse struct {
	Commits []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commit"`
	} `json:"commits"`
}

// Compare lists the commits reachable from head but not from base, oldest
// first, as the provider reports them.
func (g *GitHub) Compare(ctx context.Context, repoName, base, head string) ([]Commit, error) {
	url := fmt.Sprintf("%s/repos/%s/compare/%s...%s", g.baseURL, repoName, base, head)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build compare request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compare %s %s...%s: %w", repoName, base, head, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("compare %s %s...%s: unexpected status %d", repoName, base, head, resp.StatusCode)
	}

	var body compareResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode compare response: %w", err)
	}

	commits := make([]Commit, 0, len(body.Commits))
	for _, c := range body.Commits {
		commits = append(commits, Commit{
			SHA:     c.SHA,
			Author:  c.Commit.Author.Name,
			Message: c.Commit.Message,
		})
	}
	return commits, nil
}
