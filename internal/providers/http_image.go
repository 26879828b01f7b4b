package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPImage calls a JSON image generation endpoint. The response may be raw image bytes
// or a JSON document carrying base64 data.
type HTTPImage struct {
	endpoint string
	apiKey   string
	width    int
	height   int
	client   *http.Client
}

// NewHTTPImage creates the primary image provider.
func NewHTTPImage(endpoint, apiKey string, width, height int, client *http.Client) *HTTPImage {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout + 5*time.Second}
	}
	return &HTTPImage{endpoint: endpoint, apiKey: apiKey, width: width, height: height, client: client}
}

func (p *HTTPImage) Name() string { return "http-image" }

type imageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64 string `json:"b64_json"`
	} `json:"data"`
	Image string `json:"image_base64"`
}

// SynthesizeImage returns PNG or JPEG bytes for prompt.
func (p *HTTPImage) SynthesizeImage(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(imageRequest{Prompt: prompt, Width: p.width, Height: p.height, Format: "b64_json"})
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransport(p.Name(), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, classifyTransport(p.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyResponse(p.Name(), resp.StatusCode, data)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return data, nil
	}

	var parsed imageResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	encoded := parsed.Image
	if encoded == "" && len(parsed.Data) > 0 {
		encoded = parsed.Data[0].B64
	}
	if encoded == "" {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Status: resp.StatusCode, Err: fmt.Errorf("response carried no image")}
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Err: fmt.Errorf("decode base64: %w", err)}
	}
	return img, nil
}
