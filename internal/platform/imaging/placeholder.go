// Package imaging draws stand-in figures and normalizes figure files before
// they are handed to the renderer.
package imaging

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

type PlaceholderOptions struct {
	Width  int
	Height int
	// FontPath is an optional TTF; the built-in bitmap face is used without it.
	FontPath string
	FontSize float64
}

// Painter draws neutral placeholder PNGs. It is safe for concurrent use only
// when the face is; build one per goroutine otherwise.
type Painter struct {
	w, h int
	face font.Face
}

func NewPainter(opts PlaceholderOptions) (*Painter, error) {
	if opts.Width <= 0 {
		opts.Width = 1200
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 36
	}
	var face font.Face = basicfont.Face7x13
	if strings.TrimSpace(opts.FontPath) != "" {
		f, err := loadFontFace(opts.FontPath, opts.FontSize)
		if err != nil {
			return nil, err
		}
		face = f
	}
	return &Painter{w: opts.Width, h: opts.Height, face: face}, nil
}

// Placeholder renders a light grey card with a dashed border and label.
func (p *Painter) Placeholder(label string) ([]byte, error) {
	dc := gg.NewContext(p.w, p.h)
	dc.SetColor(color.NRGBA{R: 0xF2, G: 0xF2, B: 0xF2, A: 0xFF})
	dc.Clear()

	dc.SetColor(color.NRGBA{R: 0x9E, G: 0x9E, B: 0x9E, A: 0xFF})
	dc.SetLineWidth(6)
	dc.SetDash(24, 12)
	inset := 12.0
	dc.DrawRectangle(inset, inset, float64(p.w)-2*inset, float64(p.h)-2*inset)
	dc.Stroke()
	dc.SetDash()

	dc.SetLineWidth(2)
	dc.DrawLine(inset, inset, float64(p.w)-inset, float64(p.h)-inset)
	dc.DrawLine(float64(p.w)-inset, inset, inset, float64(p.h)-inset)
	dc.Stroke()

	label = strings.TrimSpace(label)
	if label != "" {
		dc.SetFontFace(p.face)
		dc.SetColor(color.NRGBA{R: 0x42, G: 0x42, B: 0x42, A: 0xFF})
		dc.DrawStringWrapped(label, float64(p.w)/2, float64(p.h)/2, 0.5, 0.5, float64(p.w)*0.7, 1.4, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode placeholder png: %w", err)
	}
	return buf.Bytes(), nil
}

// MissingImage is the stand-in for an asset the render step could not find.
func (p *Painter) MissingImage(src string) ([]byte, error) {
	return p.Placeholder("Afbeelding ontbreekt\n" + src)
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
