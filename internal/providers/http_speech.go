package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aura-studio/reelsmith/internal/models"
)

// maxBody caps how much of a provider response is read into memory.
const maxBody = 64 << 20

// HTTPSpeech calls a JSON text-to-speech endpoint that answers with audio bytes.
type HTTPSpeech struct {
	endpoint     string
	apiKey       string
	defaultVoice string
	client       *http.Client
}

// NewHTTPSpeech creates the primary speech provider.
func NewHTTPSpeech(endpoint, apiKey, defaultVoice string, client *http.Client) *HTTPSpeech {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout + 5*time.Second}
	}
	return &HTTPSpeech{endpoint: endpoint, apiKey: apiKey, defaultVoice: defaultVoice, client: client}
}

func (p *HTTPSpeech) Name() string { return "http-speech" }

type speechRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Format   string  `json:"format"`
}

// SynthesizeSpeech posts the narration and returns the mp3 body.
func (p *HTTPSpeech) SynthesizeSpeech(ctx context.Context, text string, voice models.VoiceParams) ([]byte, error) {
	if voice.Voice == "" {
		voice.Voice = p.defaultVoice
	}
	body, err := json.Marshal(speechRequest{
		Text:     text,
		Voice:    voice.Voice,
		Language: voice.Language,
		Speed:    voice.Speed,
		Format:   "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Kind: KindOther, Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return doBinary(p.client, req, p.Name())
}

// doBinary executes req and returns the body of a 2xx response.
func doBinary(client *http.Client, req *http.Request, provider string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyResponse(provider, resp.StatusCode, data)
	}
	if len(data) == 0 {
		return nil, &UpstreamError{Kind: KindOther, Provider: provider, Status: resp.StatusCode, Err: fmt.Errorf("empty response body")}
	}
	return data, nil
}
