package imaging

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"regexp"
	"strings"

	_ "image/gif"

	"golang.org/x/image/draw"
)

const DefaultMaxPx = 3000

// Normalized is the result of Downscale.
type Normalized struct {
	Data    []byte
	Ext     string
	Resized bool
	Width   int
	Height  int
}

// Downscale shrinks images whose longest side exceeds maxPx. Resized output
// is JPEG q85 unless the source carries alpha, in which case it stays PNG.
// Images within bounds are returned untouched.
func Downscale(raw []byte, maxPx int) (Normalized, error) {
	if maxPx <= 0 {
		maxPx = DefaultMaxPx
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Normalized{}, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= maxPx && cfg.Height <= maxPx {
		return Normalized{Data: raw, Ext: "." + format, Width: cfg.Width, Height: cfg.Height}, nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Normalized{}, fmt.Errorf("decode image: %w", err)
	}
	w, h := fitWithin(cfg.Width, cfg.Height, maxPx)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	out := Normalized{Resized: true, Width: w, Height: h}
	if hasAlpha(img) {
		if err := png.Encode(&buf, dst); err != nil {
			return Normalized{}, fmt.Errorf("encode png: %w", err)
		}
		out.Ext = ".png"
	} else {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
			return Normalized{}, fmt.Errorf("encode jpeg: %w", err)
		}
		out.Ext = ".jpg"
	}
	out.Data = buf.Bytes()
	return out, nil
}

func fitWithin(w, h, maxPx int) (int, int) {
	if w >= h {
		nh := h * maxPx / w
		if nh < 1 {
			nh = 1
		}
		return maxPx, nh
	}
	nw := w * maxPx / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxPx
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	underscores = regexp.MustCompile(`_+`)
)

const maxFilenameLen = 180

// SafeFilename maps name onto [A-Za-z0-9._-], collapsing runs of
// underscores. Names longer than 180 characters are cut and suffixed with a
// short sha1 of the original so distinct inputs stay distinct.
func SafeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	s := unsafeChars.ReplaceAllString(base, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" || s == "." || s == ".." {
		s = "file"
	}
	if len(s) <= maxFilenameLen {
		return s
	}
	sum := sha1.Sum([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:])[:10]
	ext := filepath.Ext(s)
	if len(ext) > 16 {
		ext = ""
	}
	keep := maxFilenameLen - len(suffix) - len(ext)
	return s[:keep] + suffix + ext
}
