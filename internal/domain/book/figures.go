package book

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Figure is one entry of the figure metadata file.
type Figure struct {
	Src          string `json:"src"`
	Alt          string `json:"alt,omitempty"`
	Caption      string `json:"caption,omitempty"`
	FigureNumber string `json:"figureNumber,omitempty"`
	Chapter      *int   `json:"chapter,omitempty"`
}

func (f Figure) Image() Image {
	return Image{Src: f.Src, Alt: f.Alt, Caption: f.Caption, FigureNumber: f.FigureNumber}
}

// DecodeFigures accepts {"figures":[...]} or a bare array. Entries without a
// src are dropped; duplicate srcs keep the first entry.
func DecodeFigures(data []byte) ([]Figure, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	var list []Figure
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode figures: %w", err)
		}
	} else {
		var wrapped struct {
			Figures []Figure `json:"figures"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode figures: %w", err)
		}
		list = wrapped.Figures
	}
	out := make([]Figure, 0, len(list))
	seen := map[string]bool{}
	for _, f := range list {
		f.Src = strings.TrimSpace(f.Src)
		if f.Src == "" || seen[f.Src] {
			continue
		}
		seen[f.Src] = true
		out = append(out, f)
	}
	return out, nil
}

// FigurePlacement binds one figure to one paragraph for a book version.
// Block ids repeat across chapters, so the target is the paragraph id within
// the chapter at ChapterIndex (0-based position in the book).
type FigurePlacement struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookID       string    `gorm:"column:book_id;not null;uniqueIndex:idx_figure_placement_key,priority:1" json:"book_id"`
	BookVersion  string    `gorm:"column:book_version;not null;uniqueIndex:idx_figure_placement_key,priority:2" json:"book_version"`
	FigureSrc    string    `gorm:"column:figure_src;not null;uniqueIndex:idx_figure_placement_key,priority:3" json:"figure_src"`
	ChapterIndex int       `gorm:"column:chapter_index;not null;default:0" json:"chapter_index"`
	ParagraphID  string    `gorm:"column:paragraph_id;not null" json:"paragraph_id"`
	Provider     string    `gorm:"column:provider" json:"provider,omitempty"`
	Model        string    `gorm:"column:model" json:"model,omitempty"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (FigurePlacement) TableName() string { return "figure_placement" }

func (p *FigurePlacement) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
