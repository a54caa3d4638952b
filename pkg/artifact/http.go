package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// maxImageSize bounds a downloaded firmware image.
const maxImageSize = 256 << 20

// HTTPStore downloads firmware images from a web server, typically the
// provisioning server the devices are pointed at.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPStore creates an HTTPStore for images under baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid artifact base URL %q", baseURL)
	}
	return &HTTPStore{base: u, client: &http.Client{Timeout: timeout}}, nil
}

// Open downloads the named image.
func (s *HTTPStore) Open(ctx context.Context, name string) ([]byte, error) {
	target := *s.base
	target.Path = path.Join("/", s.base.Path, path.Base(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", name, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", target.String(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, target.String())
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to download %s, received status code: %d", target.String(), resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target.String(), err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", target.String(), maxImageSize)
	}
	return data, nil
}
