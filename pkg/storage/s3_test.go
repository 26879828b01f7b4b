package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetKeys(t *testing.T) {
	id := "3f1c2a9e-0000-4000-8000-000000000001"
	run := "5a0f7e12-aaaa-4bbb-8ccc-ddddeeeeffff"
	assert.Equal(t, "videos/"+id+"/scene_007_5a0f7e12aaaa.png", SceneKey(id, 7, run))
	assert.Equal(t, "videos/"+id+"/audio_5a0f7e12aaaa.mp3", AudioKey(id, run))
	assert.Equal(t, "videos/"+id+"/captions_5a0f7e12aaaa.srt", CaptionsKey(id, run))
	assert.Equal(t, "videos/"+id+"/final_0.mp4", FinalKey(id, ""))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("a/b/scene_001.PNG"))
	assert.Equal(t, "application/x-subrip", ContentTypeFor("captions.srt"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("blob"))
}

func TestPublicURLRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws", S3Config{Bucket: "assets", Region: "eu-west-1"}, "https://assets.s3.eu-west-1.amazonaws.com/videos/x.png"},
		{"endpoint", S3Config{Bucket: "assets", Endpoint: "http://minio:9000/"}, "http://minio:9000/assets/videos/x.png"},
		{"cdn", S3Config{Bucket: "assets", PublicBaseURL: "https://cdn.example.com"}, "https://cdn.example.com/videos/x.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &S3{cfg: tt.cfg}
			got := s.PublicURL("videos/x.png")
			assert.Equal(t, tt.want, got)
			key, ok := s.KeyForURL(got)
			assert.True(t, ok)
			assert.Equal(t, "videos/x.png", key)
		})
	}
	_, ok := (&S3{cfg: S3Config{Bucket: "assets", Region: "eu-west-1"}}).KeyForURL("https://elsewhere.example.com/x.png")
	assert.False(t, ok)
}
