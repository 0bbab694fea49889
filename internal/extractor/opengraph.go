package extractor

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// OpenGraph reads og:video tags and <video> elements from a page. It is the
// last resort for sites no other extractor knows.
type OpenGraph struct {
	httpClient *http.Client
}

// NewOpenGraph creates a page-scraping extractor
func NewOpenGraph(httpClient *http.Client) *OpenGraph {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenGraph{httpClient: httpClient}
}

func (o *OpenGraph) Name() string { return "opengraph" }

func (o *OpenGraph) Supports(u *url.URL) bool { return true }

func (o *OpenGraph) Extract(ctx context.Context, rawURL string) (*models.MediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: page returned %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: page returned %d", ErrRestricted, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: page returned %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: page returned %d", ErrUnavailable, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	base := resp.Request.URL
	info := &models.MediaInfo{
		SourceURL: rawURL,
		Extractor: o.Name(),
		Title:     firstNonEmpty(metaContent(doc, "og:title"), strings.TrimSpace(doc.Find("title").First().Text())),
		Uploader:  firstNonEmpty(metaContent(doc, "og:site_name"), base.Hostname()),
		Thumbnail: resolve(base, metaContent(doc, "og:image")),
	}
	if d, err := strconv.ParseFloat(metaContent(doc, "video:duration"), 64); err == nil {
		info.Duration = d
	}

	info.Formats = PageFormats(doc, base)
	if len(info.Formats) == 0 {
		return nil, fmt.Errorf("%w: no video on page", ErrNotFound)
	}
	return info, nil
}

// PageFormats collects og:video entries and <video>/<source> elements
func PageFormats(doc *goquery.Document, base *url.URL) []models.RawFormat {
	seen := map[string]bool{}
	var out []models.RawFormat

	add := func(src, mimeType string, width, height int) {
		src = resolve(base, src)
		if src == "" || seen[src] {
			return
		}
		seen[src] = true

		raw := models.RawFormat{
			FormatID: fmt.Sprintf("page-%d", len(out)),
			MimeType: mimeType,
			Width:    width,
			Height:   height,
			URL:      src,
			Protocol: strings.ToLower(base.Scheme),
			// page video is assumed to carry its own audio track
			ACodec: models.UnknownValue,
		}
		raw.Ext = formats.ContainerFromMime(mimeType)
		if raw.Ext == "" {
			raw.Ext = extFromPath(src)
		}
		if raw.Ext == "m3u8" {
			raw.Protocol = "m3u8_native"
		}
		out = append(out, raw)
	}

	width := atoi(metaContent(doc, "og:video:width"))
	height := atoi(metaContent(doc, "og:video:height"))
	videoType := metaContent(doc, "og:video:type")
	for _, prop := range []string{"og:video:secure_url", "og:video:url", "og:video"} {
		add(metaContent(doc, prop), videoType, width, height)
	}

	doc.Find("video").Each(func(i int, v *goquery.Selection) {
		w, h := atoi(v.AttrOr("width", "")), atoi(v.AttrOr("height", ""))
		if src, ok := v.Attr("src"); ok {
			add(src, v.AttrOr("type", ""), w, h)
		}
		v.Find("source").Each(func(j int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			sh := h
			if res := atoi(s.AttrOr("res", s.AttrOr("size", ""))); res > 0 {
				sh = res
			}
			add(src, s.AttrOr("type", ""), w, sh)
		})
	})

	return out
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, property, property)).First()
	return strings.TrimSpace(sel.AttrOr("content", ""))
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "blob:") {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

func extFromPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return ""
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if c := formats.ContainerFromMime(t); c != "" {
			return c
		}
	}
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
