package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultDownloadTimeout = 120 * time.Second

// HTTPDownloader is the default Downloader: a plain GET against the
// submitted URL, streamed to a file under dir. The hardened-transport
// shape follows the same pattern internal/webhook uses for outbound
// deliveries, with a longer timeout matching spec.md §5's "media
// download: caller-supplied deadline, default 120s."
type HTTPDownloader struct {
	client *http.Client
	dir    string
}

// NewHTTPDownloader constructs an HTTPDownloader that writes downloaded
// files under dir.
func NewHTTPDownloader(dir string) *HTTPDownloader {
	return &HTTPDownloader{
		dir: dir,
		client: &http.Client{
			Timeout: defaultDownloadTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: defaultDownloadTimeout,
			},
		},
	}
}

// Download fetches url and returns the path of the file it was written to.
// If ctx carries no deadline, defaultDownloadTimeout still bounds the
// request via the client's own Timeout.
func (d *HTTPDownloader) Download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("queue: build download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("queue: download %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("queue: create download dir: %w", err)
	}

	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	dest := filepath.Join(d.dir, hex.EncodeToString(suffix[:])+filepath.Ext(url))

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("queue: create download file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("queue: write download: %w", err)
	}
	return dest, nil
}
