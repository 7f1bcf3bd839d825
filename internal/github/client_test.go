// internal/github/client_test.go
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "small-projects-fetcher/internal/errors"
	"small-projects-fetcher/internal/model"
)

// setupTestClient creates a httptest server and a client pointing to it.
func setupTestClient(t *testing.T, token string, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient(token, logger)
	require.NoError(t, client.SetBaseURL(server.URL))

	return client, server
}

func searchItem(name, owner, url string, stars int) map[string]any {
	return map[string]any{
		"name":             name,
		"full_name":        owner + "/" + name,
		"description":      "a small project",
		"language":         "Go",
		"stargazers_count": stars,
		"html_url":         url,
		"updated_at":       "2024-03-01T12:00:00Z",
		"owner":            map[string]any{"login": owner},
	}
}

func writeSearchResponse(t *testing.T, w http.ResponseWriter, items []map[string]any) {
	t.Helper()
	err := json.NewEncoder(w).Encode(map[string]any{
		"total_count":        len(items),
		"incomplete_results": false,
		"items":              items,
	})
	require.NoError(t, err)
}

func TestClient_SearchRepositories(t *testing.T) {
	strategy := model.SearchStrategy{MinStars: 100, MaxStars: 300, Sort: "updated", Pages: 1}

	t.Run("builds the query and normalizes results", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/search/repositories", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, "stars:100..300 is:public", q.Get("q"))
			assert.Equal(t, "updated", q.Get("sort"))
			assert.Equal(t, "desc", q.Get("order"))
			assert.Equal(t, "100", q.Get("per_page"))

			writeSearchResponse(t, w, []map[string]any{
				searchItem("alpha", "octocat", "https://github.com/octocat/alpha", 150),
				searchItem("beta", "hubot", "https://github.com/hubot/beta", 250),
			})
		})
		client, _ := setupTestClient(t, "", handler)

		repos, err := client.SearchRepositories(context.Background(), strategy)

		require.NoError(t, err)
		require.Len(t, repos, 2)
		assert.Equal(t, "alpha", repos[0].Name)
		assert.Equal(t, "octocat", repos[0].Owner)
		assert.Equal(t, "https://github.com/octocat/alpha", repos[0].GitHubURL)
		assert.Equal(t, 150, repos[0].Stars)
		require.NotNil(t, repos[0].Language)
		assert.Equal(t, "Go", *repos[0].Language)
		assert.Nil(t, repos[0].Contributors, "contributors are populated by a separate enrichment step")
		assert.Equal(t, "2024-03-01T12:00:00Z", repos[0].LastUpdated.Format("2006-01-02T15:04:05Z"))
	})

	t.Run("sends no auth header with a placeholder token", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"), "placeholder token must downgrade to unauthenticated requests")
			writeSearchResponse(t, w, nil)
		})
		client, _ := setupTestClient(t, "your_github_token_here", handler)

		_, err := client.SearchRepositories(context.Background(), strategy)
		require.NoError(t, err)
	})

	t.Run("sends a bearer token when configured", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer real-token", r.Header.Get("Authorization"))
			writeSearchResponse(t, w, nil)
		})
		client, _ := setupTestClient(t, "real-token", handler)

		_, err := client.SearchRepositories(context.Background(), strategy)
		require.NoError(t, err)
	})

	t.Run("paginates up to the strategy's page budget", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			atomic.AddInt32(&requestCount, 1)

			if page == "2" {
				writeSearchResponse(t, w, []map[string]any{
					searchItem("last", "octocat", "https://github.com/octocat/last", 110),
				})
				return
			}

			// A full first page keeps the pagination going.
			items := make([]map[string]any, perPage)
			for i := range items {
				name := fmt.Sprintf("repo-%d", i)
				items[i] = searchItem(name, "octocat", "https://github.com/octocat/"+name, 120)
			}
			w.Header().Set("Link", fmt.Sprintf(`<%s/search/repositories?page=2>; rel="next", <%s/search/repositories?page=3>; rel="last"`, "https://api.github.invalid", "https://api.github.invalid"))
			writeSearchResponse(t, w, items)
		})
		client, _ := setupTestClient(t, "", handler)

		repos, err := client.SearchRepositories(context.Background(), model.SearchStrategy{
			MinStars: 100, MaxStars: 300, Sort: "updated", Pages: 2,
		})

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
		assert.Len(t, repos, perPage+1)
	})

	t.Run("stops early on a short page", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			writeSearchResponse(t, w, []map[string]any{
				searchItem("only", "octocat", "https://github.com/octocat/only", 101),
			})
		})
		client, _ := setupTestClient(t, "", handler)

		repos, err := client.SearchRepositories(context.Background(), model.SearchStrategy{
			MinStars: 100, MaxStars: 300, Sort: "updated", Pages: 5,
		})

		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		assert.Len(t, repos, 1)
	})

	t.Run("returns an upstream error on non-2xx status", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprintln(w, `{"message": "upstream broken"}`)
		})
		client, _ := setupTestClient(t, "", handler)

		_, err := client.SearchRepositories(context.Background(), strategy)

		require.Error(t, err)
		var upstreamErr *custom_errors.UpstreamError
		require.ErrorAs(t, err, &upstreamErr)
		assert.Equal(t, "search", upstreamErr.Operation)
		assert.Equal(t, http.StatusBadGateway, upstreamErr.StatusCode)
	})

	t.Run("rejects items missing required fields", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			item := searchItem("broken", "octocat", "https://github.com/octocat/broken", 140)
			delete(item, "owner")
			writeSearchResponse(t, w, []map[string]any{item})
		})
		client, _ := setupTestClient(t, "", handler)

		_, err := client.SearchRepositories(context.Background(), strategy)

		require.Error(t, err)
		var malformedErr *custom_errors.MalformedResponseError
		require.ErrorAs(t, err, &malformedErr)
		assert.Equal(t, "owner.login", malformedErr.Field)
	})
}

func TestClient_ContributorCount(t *testing.T) {
	t.Run("derives the total from the last-page link", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/octocat/alpha/contributors", r.URL.Path)
			assert.Equal(t, "1", r.URL.Query().Get("per_page"))

			w.Header().Set("Link", `<https://api.github.com/repos/octocat/alpha/contributors?per_page=1&page=2>; rel="next", <https://api.github.com/repos/octocat/alpha/contributors?per_page=1&page=42>; rel="last"`)
			fmt.Fprintln(w, `[{"login": "octocat"}]`)
		})
		client, _ := setupTestClient(t, "", handler)

		count, err := client.ContributorCount(context.Background(), "octocat", "alpha")

		require.NoError(t, err)
		assert.Equal(t, 42, count)
	})

	t.Run("falls back to counting the page without a link header", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `[{"login": "octocat"}]`)
		})
		client, _ := setupTestClient(t, "", handler)

		count, err := client.ContributorCount(context.Background(), "octocat", "alpha")

		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("returns an upstream error when rate limited", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
		})
		client, _ := setupTestClient(t, "", handler)

		_, err := client.ContributorCount(context.Background(), "octocat", "alpha")

		require.Error(t, err)
		var upstreamErr *custom_errors.UpstreamError
		require.ErrorAs(t, err, &upstreamErr)
		assert.Equal(t, "contributors", upstreamErr.Operation)
	})
}
