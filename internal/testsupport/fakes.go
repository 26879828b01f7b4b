package testsupport

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/internal/models"
)

// BlobBaseURL prefixes every URL returned by MemBlobs.
const BlobBaseURL = "https://blobs.test/"

// MemBlobs records uploads in memory.
type MemBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	// Fail, when set, is consulted before each upload.
	Fail func(key string) error
}

// NewMemBlobs returns an empty blob store.
func NewMemBlobs() *MemBlobs {
	return &MemBlobs{objects: make(map[string][]byte)}
}

func (b *MemBlobs) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if b.Fail != nil {
		if err := b.Fail(key); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return BlobBaseURL + key, nil
}

// Object returns the bytes stored under key.
func (b *MemBlobs) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.objects[key]
	return d, ok
}

// ObjectAt returns the bytes behind a URL returned by Put.
func (b *MemBlobs) ObjectAt(url string) ([]byte, bool) {
	return b.Object(strings.TrimPrefix(url, BlobBaseURL))
}

// Keys returns the stored keys in order.
func (b *MemBlobs) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FakeSpeech returns canned audio and counts calls.
type FakeSpeech struct {
	mu    sync.Mutex
	calls int
	// Respond overrides the default result.
	Respond func(ctx context.Context, text string) ([]byte, error)
}

func (f *FakeSpeech) Name() string { return "fake-speech" }

func (f *FakeSpeech) SynthesizeSpeech(ctx context.Context, text string, voice models.VoiceParams) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	respond := f.Respond
	f.mu.Unlock()
	if respond != nil {
		return respond(ctx, text)
	}
	return []byte("mp3:" + text), nil
}

// Calls returns the number of synthesis calls.
func (f *FakeSpeech) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeImages returns canned images and records every prompt.
type FakeImages struct {
	mu      sync.Mutex
	prompts []string
	// Respond overrides the default result.
	Respond func(ctx context.Context, prompt string) ([]byte, error)
}

func (f *FakeImages) Name() string { return "fake-image" }

func (f *FakeImages) SynthesizeImage(ctx context.Context, prompt string) ([]byte, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	respond := f.Respond
	f.mu.Unlock()
	if respond != nil {
		return respond(ctx, prompt)
	}
	return []byte("png:" + prompt), nil
}

// Prompts returns the prompts received so far, sorted.
func (f *FakeImages) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.prompts...)
	sort.Strings(out)
	return out
}

// Calls returns the number of synthesis calls.
func (f *FakeImages) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// FakeProber reports a fixed duration.
type FakeProber struct {
	Seconds float64
	Err     error
}

func (p FakeProber) Duration(ctx context.Context, path string) (float64, error) {
	if p.Err != nil {
		return 0, p.Err
	}
	if p.Seconds <= 0 {
		return 0, fmt.Errorf("no duration configured")
	}
	return p.Seconds, nil
}

// EventRecorder collects published events.
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *EventRecorder) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Statuses returns the status of every recorded event in order.
func (r *EventRecorder) Statuses() []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Status, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Status
	}
	return out
}

// Video builds a scripted video in status with n scenes and no generated assets.
func Video(status models.Status, n int) *models.Video {
	v := &models.Video{
		Status:     status,
		ScriptText: "The harbor wakes before dawn. Fishermen load their nets. Gulls circle the masts. The first boat leaves. The town follows the tide.",
	}
	for i := 0; i < n; i++ {
		v.Storyboard = append(v.Storyboard, models.Scene{
			Description: fmt.Sprintf("Scene %d of the harbor morning", i),
			ImagePrompt: fmt.Sprintf("harbor morning, frame %d", i),
		})
	}
	return v
}
