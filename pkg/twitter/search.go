package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/tweetpilot/tweetpilot/pkg/types"
)

const (
	searchPath = "/2/tweets/search/recent"

	// The recent search endpoint rejects max_results outside [10, 100].
	minSearchResults = 10
	maxSearchResults = 100
)

// Filters describes what a keyword search should match.
type Filters struct {
	Keywords        []string
	Languages       []string
	ExcludeRetweets bool
	ExcludeReplies  bool
}

// BuildQuery renders filters as an X search query, e.g.
// ("a" OR "b") -is:retweet -is:reply lang:en.
// Keywords are trimmed, deduplicated and sorted so keyword order never changes the query.
func BuildQuery(f Filters) string {
	var parts []string

	if kw := normalizeTerms(f.Keywords); len(kw) > 0 {
		quoted := make([]string, len(kw))
		for i, k := range kw {
			quoted[i] = `"` + strings.ReplaceAll(k, `"`, "") + `"`
		}
		if len(quoted) == 1 {
			parts = append(parts, quoted[0])
		} else {
			parts = append(parts, "("+strings.Join(quoted, " OR ")+")")
		}
	}
	if f.ExcludeRetweets {
		parts = append(parts, "-is:retweet")
	}
	if f.ExcludeReplies {
		parts = append(parts, "-is:reply")
	}
	if langs := normalizeTerms(f.Languages); len(langs) > 0 {
		ops := make([]string, len(langs))
		for i, l := range langs {
			ops[i] = "lang:" + strings.ToLower(l)
		}
		if len(ops) == 1 {
			parts = append(parts, ops[0])
		} else {
			parts = append(parts, "("+strings.Join(ops, " OR ")+")")
		}
	}
	return strings.Join(parts, " ")
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SearchRequest is a recent-search call.
type SearchRequest struct {
	Query      string
	MaxResults int
}

// SearchResponse is the decoded result of a recent-search call.
type SearchResponse struct {
	Posts       []types.RawPost
	Authors     []types.Author
	ResultCount int
}

type searchPayload struct {
	Data     []types.RawPost `json:"data"`
	Includes struct {
		Users []types.Author `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

// SearchRecent searches posts from the last seven days.
// Requests below the API floor of 10 results are sent as 10 and truncated locally.
func (c *Client) SearchRecent(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("empty search query")
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = minSearchResults
	}
	limit = min(limit, maxSearchResults)

	q := url.Values{}
	q.Set("query", req.Query)
	q.Set("max_results", strconv.Itoa(max(limit, minSearchResults)))
	q.Set("tweet.fields", "created_at,public_metrics,lang,author_id")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username,name")

	body, err := c.doRequest(ctx, http.MethodGet, searchPath, q, c.bearerToken, nil)
	if err != nil {
		return nil, fmt.Errorf("recent search: %w", err)
	}

	var payload searchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	posts := payload.Data
	if len(posts) > limit {
		posts = posts[:limit]
	}
	if posts == nil {
		posts = []types.RawPost{}
	}
	return &SearchResponse{
		Posts:       posts,
		Authors:     payload.Includes.Users,
		ResultCount: payload.Meta.ResultCount,
	}, nil
}
