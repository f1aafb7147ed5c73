package sourcekit

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/Golevka2001/awtrix-scripts/internal/cache"
)

// IconRenderer downloads images and re-encodes them at display size as
// base64 strings, memoized in the image cache.
type IconRenderer struct {
	Client *Client
	Cache  *cache.Images
}

// Render returns the base64 encoded image at url scaled to w x h in format
// ("JPG" or "PNG").
func (r *IconRenderer) Render(ctx context.Context, url string, w, h int, format string) (string, error) {
	if w <= 0 || h <= 0 {
		return "", fmt.Errorf("invalid icon size %dx%d", w, h)
	}
	format = strings.ToUpper(strings.TrimSpace(format))
	if format == "" || format == "JPEG" {
		format = "JPG"
	}
	key := cache.Key(url, w, h, format)
	if r.Cache != nil {
		if v, ok := r.Cache.Get(key); ok {
			return v, nil
		}
	}

	body, err := r.Client.Get(ctx, url, nil, nil)
	if err != nil {
		return "", fmt.Errorf("fetch icon: %w", err)
	}
	encoded, err := ScaleImage(body, w, h, format)
	if err != nil {
		return "", err
	}

	if r.Cache != nil {
		// A failed file write still leaves the entry in memory.
		_ = r.Cache.Put(key, encoded)
	}
	return encoded, nil
}

// ScaleImage decodes src, resizes it to w x h and returns it base64 encoded
// in format ("JPG" or "PNG").
func ScaleImage(src []byte, w, h int, format string) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "PNG":
		err = png.Encode(&buf, dst)
	case "JPG", "JPEG":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 95})
	default:
		return "", fmt.Errorf("unsupported icon format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
