// internal/github/client.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "small-projects-fetcher/internal/errors"
	"small-projects-fetcher/internal/model"
)

// placeholderToken is the sample value shipped in .env.example; treating it
// as "no token" keeps a fresh checkout functional on the lower anonymous
// rate limit instead of failing every request with 401.
const placeholderToken = "your_github_token_here"

const perPage = 100

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance. When the token is
// absent or the known placeholder, requests are issued unauthenticated.
func NewClient(token string, logger *slog.Logger) *Client {
	if token == "" || token == placeholderToken {
		logger.Info("No GitHub token configured, using unauthenticated requests")
		return &Client{
			gh:     github.NewClient(nil),
			logger: logger,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// SetBaseURL points the client at an alternate API root, such as a GitHub
// Enterprise instance or a stub server in tests.
func (c *Client) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return err
	}
	c.gh.BaseURL = base
	return nil
}

// SearchRepositories runs one search strategy, paginating up to the
// strategy's page budget, and translates every result into the canonical
// repository model. Contributor counts are not fetched here; enrichment is a
// separate, per-record step so its cost can be bounded by the caller.
func (c *Client) SearchRepositories(ctx context.Context, strategy model.SearchStrategy) ([]model.Repository, error) {
	query := fmt.Sprintf("stars:%d..%d is:public", strategy.MinStars, strategy.MaxStars)
	opts := &github.SearchOptions{
		Sort:  strategy.Sort,
		Order: "desc",
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	var repositories []model.Repository
	for page := 1; page <= strategy.Pages; page++ {
		opts.Page = page
		c.logger.Debug("Fetching search page", "query", query, "sort", strategy.Sort, "page", page)

		result, resp, err := c.gh.Search.Repositories(ctx, query, opts)
		if err != nil {
			return nil, &custom_errors.UpstreamError{
				Operation:  "search",
				StatusCode: statusCode(resp),
				Err:        err,
			}
		}

		for _, item := range result.Repositories {
			repo, err := toRepository(item)
			if err != nil {
				return nil, err
			}
			repositories = append(repositories, repo)
		}

		// A short page means the result window is exhausted.
		if len(result.Repositories) < perPage || resp.NextPage == 0 {
			break
		}
	}

	return repositories, nil
}

// ContributorCount looks up the number of contributors for a repository. It
// requests a single contributor per page and reads the total from the Link
// header's last-page number; when GitHub omits the header the repository has
// at most one page and the item count is the total.
func (c *Client) ContributorCount(ctx context.Context, owner, name string) (int, error) {
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	}

	contributors, resp, err := c.gh.Repositories.ListContributors(ctx, owner, name, opts)
	if err != nil {
		return 0, &custom_errors.UpstreamError{
			Operation:  "contributors",
			StatusCode: statusCode(resp),
			Err:        err,
		}
	}

	if resp.LastPage > 0 {
		return resp.LastPage, nil
	}
	return len(contributors), nil
}

// toRepository translates a search result into our canonical model. Search
// responses are validated here so missing required fields surface as a
// malformed-response error instead of propagating empty keys into storage.
func toRepository(r *github.Repository) (model.Repository, error) {
	url := r.GetHTMLURL()
	if url == "" {
		return model.Repository{}, &custom_errors.MalformedResponseError{Field: "html_url"}
	}
	if r.GetName() == "" {
		return model.Repository{}, &custom_errors.MalformedResponseError{Field: "name", URL: url}
	}
	if r.GetOwner().GetLogin() == "" {
		return model.Repository{}, &custom_errors.MalformedResponseError{Field: "owner.login", URL: url}
	}

	return model.Repository{
		Name:        r.GetName(),
		Owner:       r.GetOwner().GetLogin(),
		Description: r.Description,
		Language:    r.Language,
		Stars:       r.GetStargazersCount(),
		GitHubURL:   url,
		LastUpdated: r.GetUpdatedAt().Time,
	}, nil
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
