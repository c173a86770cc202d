package skills

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xbot-ai/xbot/internal/state"
)

const maxVideoDownload = 512 << 20 // 512 MB

// NewDownloadVideoSkill builds the native download_video skill. Downloads go
// through the system video cache so the same URL is fetched once.
func NewDownloadVideoSkill(store *state.Store, cacheDir string) (*Descriptor, NativeRunner) {
	d := &Descriptor{
		Name:        "download_video",
		APIVersion:  APIVersion,
		Description: "Download a video by URL and return the local file. Cached per URL.",
		Triggers:    []string{"download video", "save video"},
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Source video URL",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Optional display title",
				},
			},
			"required": []any{"url"},
		},
		Permissions: Permissions{Filesystem: "workspace", Network: "limited"},
		TimeoutSec:  300,
	}

	run := func(ctx context.Context, args map[string]any) (*NativeResult, error) {
		rawURL, _ := args["url"].(string)
		title, _ := args["title"].(string)
		if rawURL == "" {
			return nil, fmt.Errorf("url is required")
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}

		if entry, ok := store.LookupVideo(rawURL); ok {
			if _, err := os.Stat(entry.Path); err == nil {
				return &NativeResult{
					Value: map[string]any{"path": entry.Path, "title": entry.Title, "cached": true},
					Files: []FileArtifact{{Path: entry.Path, Mime: mimeFor(entry.Path)}},
				}, nil
			}
		}

		path, err := fetchVideo(ctx, rawURL, cacheDir)
		if err != nil {
			return nil, err
		}

		if err := store.StoreVideo(state.VideoCacheEntry{URL: rawURL, Path: path, Title: title}); err != nil {
			return nil, fmt.Errorf("record video cache: %w", err)
		}

		return &NativeResult{
			Value: map[string]any{"path": path, "title": title, "cached": false},
			Files: []FileArtifact{{Path: path, Mime: mimeFor(path)}},
		}, nil
	}

	return d, run
}

func fetchVideo(ctx context.Context, rawURL, cacheDir string) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	name := filepath.Base(strings.Split(rawURL, "?")[0])
	if name == "" || name == "." || name == "/" {
		name = "video.mp4"
	}
	path := filepath.Join(cacheDir, uuid.New().String()[:8]+"-"+name)

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	_, err = io.Copy(f, io.LimitReader(resp.Body, maxVideoDownload))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("download: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}
