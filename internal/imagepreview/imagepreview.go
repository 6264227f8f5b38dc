// Package imagepreview resolves a best-effort preview image for an
// opportunity page. Resolution is advisory: any failure yields an empty
// result and the record proceeds without an image.
package imagepreview

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/clients"
)

// Metadata keys probed for a page image, in preference order.
var metadataImageKeys = []string{"og:image", "ogImage", "twitter:image", "image"}

var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)`)

type Resolver struct {
	content clients.ContentClient
	logger  zerolog.Logger
}

func NewResolver(content clients.ContentClient, logger zerolog.Logger) *Resolver {
	return &Resolver{
		content: content,
		logger:  logger.With().Str("component", "imagepreview").Logger(),
	}
}

// Resolve fetches page content and returns the first usable image URL, or
// empty when the page has none or the fetch fails.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) string {
	result, err := r.content.FetchContent(ctx, pageURL)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", pageURL).Msg("content fetch failed, skipping preview image")
		return ""
	}
	return PickImage(result)
}

// ResolveAll fans out Resolve over a batch of URLs concurrently and returns
// results keyed by URL. Entries with no image are omitted.
func (r *Resolver) ResolveAll(ctx context.Context, pageURLs []string) map[string]string {
	type resolved struct {
		url   string
		image string
	}

	results := make(chan resolved, len(pageURLs))
	var wg sync.WaitGroup
	for _, pageURL := range pageURLs {
		wg.Add(1)
		go func(pageURL string) {
			defer wg.Done()
			results <- resolved{url: pageURL, image: r.Resolve(ctx, pageURL)}
		}(pageURL)
	}
	wg.Wait()
	close(results)

	images := make(map[string]string, len(pageURLs))
	for res := range results {
		if res.image != "" {
			images[res.url] = res.image
		}
	}
	return images
}

// PickImage extracts an image URL from fetched content, preferring page
// metadata over inline markdown images.
func PickImage(result clients.ContentResult) string {
	for _, key := range metadataImageKeys {
		raw, ok := result.Metadata[key]
		if !ok {
			continue
		}
		if image := usableImageURL(raw); image != "" {
			return image
		}
	}

	if m := markdownImagePattern.FindStringSubmatch(result.Markdown); m != nil {
		if image := usableImageURL(m[1]); image != "" {
			return image
		}
	}
	return ""
}

func usableImageURL(raw any) string {
	value, ok := raw.(string)
	if !ok {
		return ""
	}
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return ""
	}
	return value
}
