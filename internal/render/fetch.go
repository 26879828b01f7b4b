package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Fetcher copies a remote asset to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// ObjectSource reads objects owned by the service's bucket.
type ObjectSource interface {
	KeyForURL(url string) (string, bool)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// AssetFetcher reads assets from object storage when the URL belongs to the bucket and
// over HTTP otherwise.
type AssetFetcher struct {
	objects ObjectSource
	client  *http.Client
}

// NewAssetFetcher returns a fetcher. objects may be nil.
func NewAssetFetcher(objects ObjectSource, client *http.Client) *AssetFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &AssetFetcher{objects: objects, client: client}
}

func (f *AssetFetcher) Fetch(ctx context.Context, url, dest string) error {
	body, err := f.open(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	return out.Close()
}

func (f *AssetFetcher) open(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.objects != nil {
		if key, ok := f.objects.KeyForURL(url); ok {
			return f.objects.Open(ctx, key)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
