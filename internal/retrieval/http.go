package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/util"
	"golang.org/x/net/html"
)

const (
	searchMaxRetries = 3
	searchMaxBytes   = 2 << 20
)

// searchSleepFunc is the sleep function used between retries (injectable for tests)
var searchSleepFunc = time.Sleep

// HTTPChannel queries a JSON search endpoint:
//
//	GET <endpoint>?q=<query>&limit=<n>
//	{"results": [{"url": "...", "title": "...", "snippet": "...", "published_date": "..."}]}
type HTTPChannel struct {
	name       string
	endpoint   string
	apiKey     string
	userAgent  string
	limit      int
	httpClient *http.Client
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Snippet       string `json:"snippet"`
	PublishedDate string `json:"published_date"`
	Rank          int    `json:"rank"`
}

// NewHTTPChannel creates a search channel; timeout bounds each attempt
func NewHTTPChannel(cfg model.ChannelConfig, httpCfg model.HTTPConfig, timeout time.Duration, limit int) *HTTPChannel {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPChannel{
		name:      cfg.Name,
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		userAgent: httpCfg.UserAgent,
		limit:     limit,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpCfg.HTTPProxy, httpCfg.HTTPSProxy, httpCfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
	}
}

// Name returns the channel name
func (c *HTTPChannel) Name() string {
	return c.name
}

// Search runs the query, retrying transient failures with exponential backoff
func (c *HTTPChannel) Search(ctx context.Context, query string) ([]model.EvidenceCandidate, error) {
	var (
		results []model.EvidenceCandidate
		status  int
		err     error
	)
	for attempt := 0; attempt < searchMaxRetries; attempt++ {
		results, status, err = c.searchOnce(ctx, query)
		if err == nil || !isRetryable(status, err) || ctx.Err() != nil {
			return results, err
		}
		if attempt < searchMaxRetries-1 {
			searchSleepFunc(time.Duration(1<<uint(attempt)) * 500 * time.Millisecond)
		}
	}
	return nil, err
}

func (c *HTTPChannel) searchOnce(ctx context.Context, query string) ([]model.EvidenceCandidate, int, error) {
	reqURL, err := c.requestURL(query)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, searchMaxBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode search response: %w", err)
	}

	return c.candidates(parsed.Results), resp.StatusCode, nil
}

func (c *HTTPChannel) requestURL(query string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", c.endpoint, err)
	}
	q := u.Query()
	q.Set("q", query)
	if c.limit > 0 {
		q.Set("limit", strconv.Itoa(c.limit))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *HTTPChannel) candidates(results []searchResult) []model.EvidenceCandidate {
	out := make([]model.EvidenceCandidate, 0, len(results))
	for i, r := range results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		rank := r.Rank
		if rank <= 0 {
			rank = i + 1
		}
		cand := model.EvidenceCandidate{
			URL:              strings.TrimSpace(r.URL),
			Title:            StripHTML(r.Title),
			Snippet:          StripHTML(r.Snippet),
			RetrievalChannel: c.name,
			SearchRank:       rank,
			PublishedDate:    parseDate(r.PublishedDate),
		}
		cand.Normalize()
		out = append(out, cand)
	}
	return out
}

// isRetryable returns true for 5xx, 429 and transient network failures
func isRetryable(status int, err error) bool {
	if status >= 500 && status < 600 {
		return true
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status == 0 && err != nil {
		s := strings.ToLower(err.Error())
		return strings.Contains(s, "timeout") ||
			strings.Contains(s, "connection refused") ||
			strings.Contains(s, "connection reset")
	}
	return false
}

// StripHTML returns the text content of an HTML fragment with whitespace collapsed.
// Search APIs commonly highlight matches with <b> tags and escape entities.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isInvisible(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isInvisible(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isInvisible(tag string) bool {
	return tag == "script" || tag == "style"
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05", "Jan 2, 2006"}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
