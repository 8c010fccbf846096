// Package trends reads the trending-searches RSS feed.
package trends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"bookforge/internal/httpx"
)

const maxFeedBytes = 4 << 20

// ErrNoTopics is returned when the feed parsed but carried no titled items.
var ErrNoTopics = errors.New("no topics found in the feed")

type Trend struct {
	Title   string `json:"title"`
	Traffic string `json:"traffic,omitempty"`
}

type Source struct {
	FeedURL string
	Geo     string
	Limit   int
	Client  *http.Client
}

// Fetch returns at most Limit trends in feed order.
func (s Source) Fetch(ctx context.Context) ([]Trend, error) {
	feedURL, err := s.url()
	if err != nil {
		return nil, err
	}
	body, err := httpx.Get(ctx, s.Client, feedURL, maxFeedBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch trends feed: %w", err)
	}
	return Parse(ctx, string(body), s.Limit)
}

func (s Source) url() (string, error) {
	if s.Geo == "" {
		return s.FeedURL, nil
	}
	u, err := url.Parse(s.FeedURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("geo", s.Geo)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Parse extracts trends from an RSS or Atom body. limit <= 0 keeps every item.
func Parse(ctx context.Context, body string, limit int) ([]Trend, error) {
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse trends feed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Trend, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		out = append(out, Trend{Title: title, Traffic: approxTraffic(item)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoTopics
	}
	return out, nil
}

// Titles returns the trend titles in order.
func Titles(trends []Trend) []string {
	out := make([]string, 0, len(trends))
	for _, t := range trends {
		out = append(out, t.Title)
	}
	return out
}

// approxTraffic reads the <ht:approx_traffic> element Google Trends adds.
func approxTraffic(item *gofeed.Item) string {
	ht, ok := item.Extensions["ht"]
	if !ok {
		return ""
	}
	for _, e := range ht["approx_traffic"] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}
