// Package gh wraps the GitHub REST API for ref resolution.
package gh

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Client resolves refs against the GitHub API.
type Client struct {
	gh *github.Client
}

// NewClient builds an authenticated client from a personal access or
// installation token.
func NewClient(ctx context.Context, token string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &Client{gh: github.NewClient(oauth2.NewClient(ctx, ts))}
}

// ResolveRef returns the commit SHA a ref currently points at. Used by
// manual enqueue when the caller supplies a branch or tag instead of a
// pinned commit.
func (c *Client) ResolveRef(ctx context.Context, owner, repo, ref string) (string, error) {
	if owner == "" || repo == "" {
		return "", fmt.Errorf("gh: owner and repo are required")
	}
	if ref == "" {
		return "", fmt.Errorf("gh: ref is required")
	}
	sha, _, err := c.gh.Repositories.GetCommitSHA1(ctx, owner, repo, ref, "")
	if err != nil {
		return "", fmt.Errorf("gh: resolve %s/%s@%s: %w", owner, repo, ref, err)
	}
	return sha, nil
}
