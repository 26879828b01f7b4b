package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"
)

// minImageBytes rejects tiny bodies, which are error pages rather than images.
const minImageBytes = 100

// Pollinations fetches images from the keyless Pollinations GET endpoint.
type Pollinations struct {
	baseURL string
	model   string
	width   int
	height  int
	client  *http.Client
}

// NewPollinations creates the fallback image provider.
func NewPollinations(baseURL, model string, width, height int, client *http.Client) *Pollinations {
	if baseURL == "" {
		baseURL = "https://image.pollinations.ai"
	}
	if model == "" {
		model = "flux"
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Pollinations{baseURL: strings.TrimRight(baseURL, "/"), model: model, width: width, height: height, client: client}
}

func (p *Pollinations) Name() string { return "pollinations" }

// SynthesizeImage downloads the generated image. The seed is derived from the prompt so
// the same prompt yields the same picture.
func (p *Pollinations) SynthesizeImage(ctx context.Context, prompt string) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	q := url.Values{}
	q.Set("width", fmt.Sprint(p.width))
	q.Set("height", fmt.Sprint(p.height))
	q.Set("nologo", "true")
	q.Set("model", p.model)
	q.Set("seed", fmt.Sprint(h.Sum32()%1_000_000))
	target := fmt.Sprintf("%s/prompt/%s?%s", p.baseURL, url.PathEscape(prompt), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Err: err}
	}
	req.Header.Set("User-Agent", "reelsmith/1.0")
	data, err := doBinary(p.client, req, p.Name())
	if err != nil {
		return nil, err
	}
	if len(data) < minImageBytes {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Err: fmt.Errorf("response too small (%d bytes)", len(data))}
	}
	return data, nil
}
