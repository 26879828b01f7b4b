package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-studio/reelsmith/internal/models"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, KindAuth},
		{"forbidden", http.StatusForbidden, ``, KindAuth},
		{"rate limited", http.StatusTooManyRequests, ``, KindQuota},
		{"quota in body", http.StatusInternalServerError, `{"error":{"code":"quota_exceeded"}}`, KindQuota},
		{"gateway timeout", http.StatusGatewayTimeout, ``, KindTimeout},
		{"policy code", http.StatusBadRequest, `{"error":{"code":"content_policy_violation","message":"rejected"}}`, KindContentPolicy},
		{"safety message", http.StatusUnprocessableEntity, `{"message":"prompt blocked by safety system"}`, KindContentPolicy},
		{"plain bad request", http.StatusBadRequest, `{"error":"missing prompt"}`, KindOther},
		{"server error", http.StatusInternalServerError, `oops`, KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := classifyResponse("p", tt.status, []byte(tt.body))
			assert.Equal(t, tt.want, ue.Kind)
			assert.Equal(t, tt.status, ue.Status)
		})
	}
}

func TestHTTPSpeech(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-mp3-bytes"))
	}))
	defer srv.Close()

	p := NewHTTPSpeech(srv.URL, "k", "alloy", srv.Client())
	out, err := p.SynthesizeSpeech(context.Background(), "Hello there.", models.VoiceParams{Language: "en", Speed: 1.1})
	require.NoError(t, err)
	assert.Equal(t, "ID3-mp3-bytes", string(out))
	assert.Equal(t, "alloy", got.Voice)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, "Hello there.", got.Text)
}

func TestHTTPSpeechQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPSpeech(srv.URL, "", "", srv.Client()).SynthesizeSpeech(context.Background(), "x", models.VoiceParams{})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, KindQuota, ue.Kind)
	assert.Equal(t, "http-speech", ue.Provider)
}

func TestHTTPImageDecodesBase64(t *testing.T) {
	png := []byte("\x89PNG fake image body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer srv.Close()

	out, err := NewHTTPImage(srv.URL, "", 1280, 720, srv.Client()).SynthesizeImage(context.Background(), "harbor")
	require.NoError(t, err)
	assert.Equal(t, png, out)
}

func TestHTTPImageContentPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"content_policy_violation"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPImage(srv.URL, "", 0, 0, srv.Client()).SynthesizeImage(context.Background(), "x")
	assert.True(t, IsContentPolicy(err))
}

func TestPollinations(t *testing.T) {
	body := []byte(strings.Repeat("j", 512))
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		assert.Equal(t, "true", r.URL.Query().Get("nologo"))
		assert.Equal(t, "1920", r.URL.Query().Get("width"))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	p := NewPollinations(srv.URL, "", 1920, 1080, srv.Client())
	out, err := p.SynthesizeImage(context.Background(), "old harbor at dusk")
	require.NoError(t, err)
	assert.Equal(t, body, out)
	assert.Equal(t, "/prompt/old%20harbor%20at%20dusk", path)
}

func TestPollinationsRejectsTinyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("err"))
	}))
	defer srv.Close()

	_, err := NewPollinations(srv.URL, "", 1, 1, srv.Client()).SynthesizeImage(context.Background(), "x")
	assert.Equal(t, KindOther, KindOf(err))
}
