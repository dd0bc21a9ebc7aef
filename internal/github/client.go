package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ThreadComment is one comment from the issue thread history, used to
// recover the most recent state marker.
type ThreadComment struct {
	Author string
	Body   string
}

// IssueClient is the comment I/O surface the triage service needs.
type IssueClient interface {
	// ListComments returns the thread's comments oldest first.
	ListComments(ctx context.Context, owner, repo string, number int) ([]ThreadComment, error)

	// CreateComment appends one comment to the thread. Exactly one
	// comment is posted per invocation; that is what lets concurrent
	// invocations serialize through comment ordering.
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
}

// APIClient implements IssueClient over the GitHub REST API.
type APIClient struct {
	client *gh.Client
}

// NewAPIClient builds a token-authenticated client.
func NewAPIClient(ctx context.Context, token string) *APIClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &APIClient{client: gh.NewClient(oauth2.NewClient(ctx, ts))}
}

// ListComments implements IssueClient, paging through the full thread.
func (c *APIClient) ListComments(ctx context.Context, owner, repo string, number int) ([]ThreadComment, error) {
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var all []ThreadComment
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list comments for %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, cm := range comments {
			all = append(all, ThreadComment{
				Author: cm.GetUser().GetLogin(),
				Body:   cm.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// CreateComment implements IssueClient.
func (c *APIClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
		Body: gh.String(body),
	})
	if err != nil {
		return fmt.Errorf("create comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	log.Debug().Str("repo", owner+"/"+repo).Int("issue", number).
		Int("bytes", len(body)).Msg("comment posted")
	return nil
}
