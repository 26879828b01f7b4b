package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/aura-studio/reelsmith/pkg/storage"
)

var placeholderColor = color.RGBA{R: 0x1f, G: 0x26, B: 0x33, A: 0xff}

// placeholderURL returns the image used for scenes that cannot be illustrated. Without a
// configured URL a solid frame is rendered and uploaded once per process.
func (o *Orchestrator) placeholderURL(ctx context.Context) (string, error) {
	if o.cfg.PlaceholderURL != "" {
		return o.cfg.PlaceholderURL, nil
	}
	o.placeholderMu.Lock()
	defer o.placeholderMu.Unlock()
	if o.placeholder != "" {
		return o.placeholder, nil
	}
	data, err := placeholderPNG(o.cfg.Width, o.cfg.Height)
	if err != nil {
		return "", err
	}
	url, err := o.blobs.Put(ctx, storage.PlaceholderKey(), "image/png", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("upload placeholder: %w", err)
	}
	o.placeholder = url
	return url, nil
}

func placeholderPNG(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: placeholderColor}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
