package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verdant/internal/models"
)

// GalleryAdapter enumerates candidate images from an HTML gallery page by
// selecting img elements. Enumeration order is document order, which gives
// the stable per-run ordering duplicate tie-breaks depend on.
type GalleryAdapter struct {
	def    *models.SourceDefinition
	client *http.Client
	logger arbor.ILogger
}

// NewGalleryAdapter creates an adapter for an HTML gallery source.
func NewGalleryAdapter(def *models.SourceDefinition, logger arbor.ILogger) *GalleryAdapter {
	return &GalleryAdapter{
		def: def,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func (a *GalleryAdapter) Definition() *models.SourceDefinition {
	return a.def
}

func (a *GalleryAdapter) Enumerate(ctx context.Context) ([]models.CandidateItem, error) {
	pageURL := a.def.Gallery.URL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid gallery URL %s: %w", pageURL, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gallery page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gallery page returned HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gallery page: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gallery URL %s: %w", pageURL, err)
	}

	selector := a.def.Gallery.Selector
	if selector == "" {
		selector = "img"
	}

	seen := make(map[string]bool)
	var candidates []models.CandidateItem

	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			// Some galleries only populate srcset; take its first entry.
			srcset, _ := sel.Attr("srcset")
			src = firstSrcsetURL(srcset)
		}

		resolved := resolveImageURL(src, base)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true

		candidates = append(candidates, models.CandidateItem{
			SourceID:         a.def.ID,
			RemoteLocator:    resolved,
			ExpectedCategory: a.def.Gallery.Category,
			LicenseTag:       a.def.Gallery.License,
			DeclaredMetadata: map[string]string{
				"page_url": pageURL,
				"alt":      sel.AttrOr("alt", ""),
			},
		})
	})

	a.logger.Debug().
		Str("source", a.def.ID).
		Str("page_url", pageURL).
		Int("candidates", len(candidates)).
		Msg("Gallery enumeration complete")

	return candidates, nil
}

// firstSrcsetURL extracts the first URL from a srcset attribute value.
func firstSrcsetURL(srcset string) string {
	if srcset == "" {
		return ""
	}
	first := strings.TrimSpace(strings.Split(srcset, ",")[0])
	if idx := strings.Index(first, " "); idx > 0 {
		first = first[:idx]
	}
	return first
}

// resolveImageURL resolves a potentially relative image URL against the
// gallery page URL, skipping embedded data URLs.
func resolveImageURL(src string, base *url.URL) string {
	if src == "" || strings.HasPrefix(src, "data:") {
		return ""
	}
	if strings.HasPrefix(src, "//") {
		return base.Scheme + ":" + src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
