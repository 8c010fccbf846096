// Package cover finds a cover image for an ebook. It tries Pixabay for the
// topic, Pixabay for a broader query, an Unsplash-style image URL and finally
// a local default image.
package cover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"bookforge/internal/domain"
	"bookforge/internal/httpx"
)

const (
	defaultPixabayURL = "https://pixabay.com/api/"
	maxSearchBytes    = 1 << 20
	maxImageBytes     = 20 << 20
)

// ErrNoCover means every source failed. Callers continue without an image.
var ErrNoCover = errors.New("no cover generated")

type Generator struct {
	PixabayAPIKey       string
	PixabayURL          string
	FallbackQuery       string
	UnsplashURLTemplate string
	DefaultCoverPath    string
	Attempts            int
	RetryDelay          time.Duration
	Client              *http.Client
	Log                 *zap.SugaredLogger
}

// Generate writes <dir>/<slug>_cover.jpg and returns its path.
func (g *Generator) Generate(ctx context.Context, topic, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cover dir: %w", err)
	}
	out := filepath.Join(dir, domain.Slug(topic)+"_cover.jpg")

	if g.PixabayAPIKey != "" {
		for _, query := range []string{topic, g.FallbackQuery} {
			if strings.TrimSpace(query) == "" {
				continue
			}
			err := g.fromPixabay(ctx, query, out)
			if err == nil {
				g.Log.Infow("cover saved", "source", "pixabay", "query", query, "path", out)
				return out, nil
			}
			g.Log.Warnw("cover pixabay failed", "query", query, "error", err)
		}
	} else {
		g.Log.Infow("cover pixabay skipped, no api key")
	}

	if g.UnsplashURLTemplate != "" {
		imageURL := unsplashURL(g.UnsplashURLTemplate, topic)
		attempts := g.Attempts
		if attempts < 1 {
			attempts = 3
		}
		for attempt := 1; attempt <= attempts; attempt++ {
			err := g.download(ctx, imageURL, out)
			if err == nil {
				g.Log.Infow("cover saved", "source", "unsplash", "attempt", attempt, "path", out)
				return out, nil
			}
			g.Log.Warnw("cover unsplash attempt failed", "attempt", attempt, "error", err)
			if attempt < attempts {
				if err := sleep(ctx, g.RetryDelay); err != nil {
					return "", err
				}
			}
		}
	}

	if g.DefaultCoverPath != "" {
		err := copyFile(g.DefaultCoverPath, out)
		if err == nil {
			g.Log.Infow("cover saved", "source", "default", "path", out)
			return out, nil
		}
		g.Log.Warnw("cover default unavailable", "path", g.DefaultCoverPath, "error", err)
	}
	return "", ErrNoCover
}

type pixabayResponse struct {
	Hits []struct {
		LargeImageURL string `json:"largeImageURL"`
	} `json:"hits"`
}

func (g *Generator) fromPixabay(ctx context.Context, query, out string) error {
	base := g.PixabayURL
	if base == "" {
		base = defaultPixabayURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse pixabay url: %w", err)
	}
	q := u.Query()
	q.Set("key", g.PixabayAPIKey)
	q.Set("q", query)
	q.Set("image_type", "photo")
	q.Set("orientation", "square")
	u.RawQuery = q.Encode()

	body, err := httpx.Get(ctx, g.Client, u.String(), maxSearchBytes)
	if err != nil {
		return err
	}
	var resp pixabayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode pixabay response: %w", err)
	}
	for _, hit := range resp.Hits {
		if hit.LargeImageURL != "" {
			return g.download(ctx, hit.LargeImageURL, out)
		}
	}
	return errors.New("pixabay returned no matching results")
}

func (g *Generator) download(ctx context.Context, imageURL, out string) error {
	data, err := httpx.Get(ctx, g.Client, imageURL, maxImageBytes)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty image body")
	}
	return os.WriteFile(out, data, 0o644)
}

func unsplashURL(template, topic string) string {
	escaped := url.QueryEscape(strings.TrimSpace(topic))
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, escaped)
	}
	return template
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	outFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, in); err != nil {
		outFile.Close()
		return err
	}
	return outFile.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
