package dispatch

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/client"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// Strategy names
const (
	StrategyBackendFetch  = "backend-fetch"
	StrategyReextract     = "fallback-reextract"
	StrategyDirectLink    = "direct-link"
	StrategyOpenInBrowser = "open-in-browser"
	StrategyClipboard     = "clipboard"
)

// API is the part of the download API the strategies use
type API interface {
	DownloadVideo(ctx context.Context, req models.VideoRequest, downloadID string) (*client.VideoStream, error)
	ExtractLinks(ctx context.Context, req models.ExtractLinksRequest) (*models.ExtractLinksResponse, error)
}

// BackendFetch asks the backend to fetch, and mux when needed, then saves the
// streamed payload
type BackendFetch struct {
	api  API
	sink Sink
}

// NewBackendFetch creates the backend-mediated strategy
func NewBackendFetch(api API, sink Sink) *BackendFetch {
	return &BackendFetch{api: api, sink: sink}
}

func (s *BackendFetch) Name() string { return StrategyBackendFetch }

func (s *BackendFetch) Attempt(ctx context.Context, req Request) (*Delivery, error) {
	stream, err := s.api.DownloadVideo(ctx, models.VideoRequest{
		URL:       req.URL,
		Format:    req.Container,
		Quality:   req.Quality,
		DirectURL: req.Format.DirectURL,
		Title:     req.Title,
	}, req.ID)
	if err != nil {
		return nil, err
	}
	defer stream.Body.Close()

	name := stream.Filename
	if name == "" {
		name = FileName(req.Title, req.ID, extensionFor(req, stream.ContentType))
	}
	saved, n, err := s.sink.Save(ctx, name, stream.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to save download: %w", err)
	}

	return &Delivery{
		Path:         saved,
		Bytes:        n,
		Muxed:        stream.Muxed,
		VideoQuality: stream.VideoQuality,
		AudioQuality: stream.AudioQuality,
	}, nil
}

// Reextract runs only after a retryable backend failure. It asks for fresh
// links, substitutes a progressive format at or below the requested height
// (or the best audio) and retries the backend fetch once.
type Reextract struct {
	api   API
	fetch *BackendFetch
}

// NewReextract creates the fallback re-extraction strategy
func NewReextract(api API, fetch *BackendFetch) *Reextract {
	return &Reextract{api: api, fetch: fetch}
}

func (s *Reextract) Name() string { return StrategyReextract }

func (s *Reextract) Attempt(ctx context.Context, req Request) (*Delivery, error) {
	if req.Previous == nil || !client.IsRetryable(req.Previous) {
		return nil, ErrNotApplicable
	}

	links, err := s.api.ExtractLinks(ctx, models.ExtractLinksRequest{
		URL:     req.URL,
		Format:  req.Container,
		Quality: req.Quality,
	})
	if err != nil {
		return nil, err
	}

	substitute, ok := Substitute(req, links)
	if !ok {
		return nil, fmt.Errorf("no progressive or audio format to fall back to")
	}

	retry := req
	retry.Format = substitute
	retry.Quality = substitute.Quality
	if substitute.Type == models.FormatTypeAudioOnly && !formats.IsAudioRequest(req.Container, "") {
		retry.Container = substitute.Container.String()
	}
	return s.fetch.Attempt(ctx, retry)
}

// Substitute picks the fallback format for req from freshly extracted links
func Substitute(req Request, links *models.ExtractLinksResponse) (models.MediaFormat, bool) {
	all := make([]models.MediaFormat, 0, len(links.VideoFormats)+len(links.AudioFormats))
	all = append(all, links.VideoFormats...)
	all = append(all, links.AudioFormats...)

	if req.Format.Type == models.FormatTypeAudioOnly || formats.IsAudioRequest(req.Container, req.Quality) {
		return formats.BestAudio(all)
	}

	maxHeight := req.Format.HeightValue()
	if maxHeight == 0 {
		maxHeight, _ = formats.ParseHeight(req.Quality)
	}
	return formats.ProgressiveFallback(all, maxHeight)
}

// DirectLink fetches the format's direct URL and saves it. CDNs that refuse
// direct downloads fail this step and the chain moves on.
type DirectLink struct {
	httpClient *http.Client
	sink       Sink
}

// NewDirectLink creates the direct-link strategy
func NewDirectLink(httpClient *http.Client, sink Sink) *DirectLink {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DirectLink{httpClient: httpClient, sink: sink}
}

func (s *DirectLink) Name() string { return StrategyDirectLink }

func (s *DirectLink) Attempt(ctx context.Context, req Request) (*Delivery, error) {
	if req.Format.DirectURL == "" {
		return nil, ErrNotApplicable
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Format.DirectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid direct URL: %w", err)
	}
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("direct download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("direct download returned status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/html") {
		return nil, fmt.Errorf("direct URL served a page instead of media")
	}

	name := FileName(req.Title, req.ID, extensionFor(req, contentType))
	saved, n, err := s.sink.Save(ctx, name, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to save download: %w", err)
	}
	return &Delivery{Path: saved, Bytes: n, URL: req.Format.DirectURL}, nil
}

// OpenInBrowser hands the direct URL to the browser and asks the user to save
// the media manually
type OpenInBrowser struct {
	presenter Presenter
}

// NewOpenInBrowser creates the new-tab strategy
func NewOpenInBrowser(p Presenter) *OpenInBrowser {
	return &OpenInBrowser{presenter: p}
}

func (s *OpenInBrowser) Name() string { return StrategyOpenInBrowser }

func (s *OpenInBrowser) Attempt(ctx context.Context, req Request) (*Delivery, error) {
	if req.Format.DirectURL == "" {
		return nil, ErrNotApplicable
	}
	if err := s.presenter.OpenURL(req.Format.DirectURL); err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	s.presenter.Notify(Notice{
		Level:      LevelWarn,
		Message:    "The media opened in your browser. Use Save As to keep a copy.",
		Persistent: true,
	})
	return &Delivery{URL: req.Format.DirectURL}, nil
}

// Clipboard copies the direct URL as the last resort
type Clipboard struct {
	presenter Presenter
}

// NewClipboard creates the clipboard strategy
func NewClipboard(p Presenter) *Clipboard {
	return &Clipboard{presenter: p}
}

func (s *Clipboard) Name() string { return StrategyClipboard }

func (s *Clipboard) Attempt(ctx context.Context, req Request) (*Delivery, error) {
	if req.Format.DirectURL == "" {
		return nil, ErrNotApplicable
	}
	if err := s.presenter.CopyToClipboard(req.Format.DirectURL); err != nil {
		return nil, fmt.Errorf("failed to copy link: %w", err)
	}
	s.presenter.Notify(Notice{
		Level:   LevelError,
		Message: "Automatic download failed. The direct link was copied to your clipboard.",
	})
	return &Delivery{URL: req.Format.DirectURL}, nil
}

// DefaultStrategies builds the standard chain in order
func DefaultStrategies(api API, sink Sink, httpClient *http.Client, p Presenter) []Strategy {
	fetch := NewBackendFetch(api, sink)
	return []Strategy{
		fetch,
		NewReextract(api, fetch),
		NewDirectLink(httpClient, sink),
		NewOpenInBrowser(p),
		NewClipboard(p),
	}
}

func extensionFor(req Request, contentType string) string {
	if req.Container != "" && req.Container != models.UnknownValue {
		return req.Container
	}
	if req.Format.Container.IsKnown() {
		return req.Format.Container.Value
	}
	if contentType != "" {
		if c := formats.ContainerFromMime(contentType); c != "" {
			return c
		}
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return strings.TrimPrefix(exts[0], ".")
		}
	}
	if ext := strings.TrimPrefix(path.Ext(req.Format.DirectURL), "."); ext != "" && len(ext) <= 4 {
		return ext
	}
	return "mp4"
}
