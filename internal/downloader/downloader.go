// Package downloader talks to the external media resolver API backing
// the song, video, image and apk chat commands.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/ttlcache"
)

const (
	requestTimeout   = 30 * time.Second
	downloadTimeout  = 2 * time.Minute
	maxDownloadBytes = 64 << 20
	resultCacheTTL   = 10 * time.Minute
)

var (
	ErrUpstream     = errors.New("media api upstream error")
	ErrNoResult     = errors.New("no result for query")
	ErrUnconfigured = errors.New("media api base url not configured")
)

// Song is one resolved audio track.
type Song struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Thumbnail string `json:"thumbnail"`
	AudioURL  string `json:"audio_url"`
	PageURL   string `json:"page_url"`
}

// Video is one resolved downloadable video.
type Video struct {
	Title    string `json:"title"`
	VideoURL string `json:"video_url"`
}

// App is one resolved Android package.
type App struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
}

// Client queries the media resolver with response caching so repeated
// commands do not hammer the upstream.
type Client struct {
	http    *http.Client
	fetcher *http.Client
	baseURL string
	apiKey  string

	songs  *ttlcache.Cache[string, *Song]
	videos *ttlcache.Cache[string, *Video]
	images *ttlcache.Cache[string, []string]
	apps   *ttlcache.Cache[string, *App]
}

func New() *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		fetcher: &http.Client{Timeout: downloadTimeout},
		baseURL: env.GetEnvStringOrDefault("MEDIA_API_BASE_URL", ""),
		apiKey:  env.GetEnvStringOrDefault("MEDIA_API_KEY", ""),
		songs:   ttlcache.New[string, *Song](resultCacheTTL),
		videos:  ttlcache.New[string, *Video](resultCacheTTL),
		images:  ttlcache.New[string, []string](resultCacheTTL),
		apps:    ttlcache.New[string, *App](resultCacheTTL),
	}
}

// envelope is the resolver's uniform response shape.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.baseURL == "" {
		return ErrUnconfigured
	}
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("%w: undecodable body: %v", ErrUpstream, err)
	}
	if !env.Status || len(env.Result) == 0 {
		if env.Message != "" {
			return fmt.Errorf("%w: %s", ErrNoResult, env.Message)
		}
		return ErrNoResult
	}
	return json.Unmarshal(env.Result, out)
}

// Song resolves a track by search query.
func (c *Client) Song(ctx context.Context, query string) (*Song, error) {
	return c.songs.GetOrCompute(query, func() (*Song, error) {
		var song Song
		if err := c.get(ctx, "/search/song", url.Values{"query": {query}}, &song); err != nil {
			return nil, err
		}
		if song.AudioURL == "" {
			return nil, ErrNoResult
		}
		return &song, nil
	})
}

func (c *Client) videoByPath(ctx context.Context, path string, pageURL string) (*Video, error) {
	return c.videos.GetOrCompute(path+"|"+pageURL, func() (*Video, error) {
		var video Video
		if err := c.get(ctx, path, url.Values{"url": {pageURL}}, &video); err != nil {
			return nil, err
		}
		if video.VideoURL == "" {
			return nil, ErrNoResult
		}
		return &video, nil
	})
}

// TikTok resolves a tiktok.com link to a direct video URL.
func (c *Client) TikTok(ctx context.Context, pageURL string) (*Video, error) {
	return c.videoByPath(ctx, "/download/tiktok", pageURL)
}

// Facebook resolves a facebook.com video link.
func (c *Client) Facebook(ctx context.Context, pageURL string) (*Video, error) {
	return c.videoByPath(ctx, "/download/facebook", pageURL)
}

// Instagram resolves an instagram.com reel or post link.
func (c *Client) Instagram(ctx context.Context, pageURL string) (*Video, error) {
	return c.videoByPath(ctx, "/download/instagram", pageURL)
}

// Images searches for image URLs matching query.
func (c *Client) Images(ctx context.Context, query string) ([]string, error) {
	return c.images.GetOrCompute(query, func() ([]string, error) {
		var urls []string
		if err := c.get(ctx, "/search/image", url.Values{"query": {query}}, &urls); err != nil {
			return nil, err
		}
		if len(urls) == 0 {
			return nil, ErrNoResult
		}
		return urls, nil
	})
}

// APK resolves an Android app by name.
func (c *Client) APK(ctx context.Context, name string) (*App, error) {
	return c.apps.GetOrCompute(name, func() (*App, error) {
		var app App
		if err := c.get(ctx, "/download/apk", url.Values{"query": {name}}, &app); err != nil {
			return nil, err
		}
		if app.DownloadURL == "" {
			return nil, ErrNoResult
		}
		return &app, nil
	})
}

// Fetch downloads a resolved media URL, capped at maxDownloadBytes, and
// returns the bytes with the response content type.
func (c *Client) Fetch(ctx context.Context, mediaURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.fetcher.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("media exceeds %d byte limit", maxDownloadBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
