package scoring

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

const maxImageBytes = 10 << 20

// ImageFetcher downloads the reference image so it can be sent inline to the model.
// Image hosts often answer with redirects the model backend will not follow.
type ImageFetcher struct {
	Client *http.Client
}

// NewImageFetcher returns a fetcher with a bounded request timeout.
func NewImageFetcher() *ImageFetcher {
	return &ImageFetcher{Client: &http.Client{Timeout: 10 * time.Second}}
}

// Fetch returns the image bytes and MIME type.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build image request: %v", ErrUnavailable, err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("%w: fetch image: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: fetch image: status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read image: %v", ErrUnavailable, err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", ErrUnavailable, maxImageBytes)
	}

	mimeType := "image/jpeg"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}
	return data, mimeType, nil
}
