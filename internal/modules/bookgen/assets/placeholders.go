package assets

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/platform/imaging"
)

// Painter draws stand-in images.
type Painter interface {
	Placeholder(label string) ([]byte, error)
}

// SubstitutePlaceholders points every image of chapters at a generated
// stand-in PNG under workDir/placeholders. It returns the number of distinct
// images drawn.
func SubstitutePlaceholders(chapters []book.Chapter, painter Painter, workDir string) (int, error) {
	dir := filepath.Join(workDir, PlaceholderDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir placeholders: %w", err)
	}
	drawn := map[string]string{}
	swap := func(img *book.Image) error {
		if rel, ok := drawn[img.Src]; ok {
			img.Src = rel
			img.Placeholder = true
			return nil
		}
		png, err := painter.Placeholder(placeholderLabel(img))
		if err != nil {
			return fmt.Errorf("placeholder for %s: %w", img.Src, err)
		}
		stem := strings.TrimSuffix(baseName(img.Src), path.Ext(baseName(img.Src)))
		name := imaging.SafeFilename(fmt.Sprintf("%03d_%s.png", len(drawn)+1, stem))
		if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
			return err
		}
		rel := PlaceholderDir + "/" + name
		drawn[img.Src] = rel
		img.Src = rel
		img.Placeholder = true
		return nil
	}
	for ci := range chapters {
		ch := &chapters[ci]
		if ch.Opener != nil {
			if err := swap(ch.Opener); err != nil {
				return len(drawn), err
			}
		}
		var err error
		ch.Walk(func(_ []string, b *book.Block) bool {
			for i := range b.Images {
				if err = swap(&b.Images[i]); err != nil {
					return false
				}
			}
			return true
		})
		if err != nil {
			return len(drawn), err
		}
	}
	return len(drawn), nil
}

func placeholderLabel(img *book.Image) string {
	switch {
	case strings.TrimSpace(img.FigureNumber) != "":
		return "Afbeelding " + strings.TrimSpace(img.FigureNumber)
	case strings.TrimSpace(img.Caption) != "":
		return strings.TrimSpace(img.Caption)
	default:
		return baseName(img.Src)
	}
}
