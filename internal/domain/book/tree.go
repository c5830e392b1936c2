package book

import (
	"encoding/json"
	"fmt"
	"strings"
)

type BlockType string

const (
	BlockParagraph    BlockType = "paragraph"
	BlockList         BlockType = "list"
	BlockSteps        BlockType = "steps"
	BlockSubparagraph BlockType = "subparagraph"
)

func (t BlockType) IsListLike() bool { return t == BlockList || t == BlockSteps }

type Image struct {
	Src          string `json:"src"`
	Alt          string `json:"alt,omitempty"`
	Caption      string `json:"caption,omitempty"`
	FigureNumber string `json:"figureNumber,omitempty"`
	Width        string `json:"width,omitempty"`
	Placeholder  bool   `json:"placeholder,omitempty"`
}

// Block is one node of the canonical tree. Type selects which fields are
// meaningful:
//
//	paragraph     ID, Basis, Verdieping, Praktijk, Images
//	list, steps   ID, Items, Images
//	subparagraph  ID, Number, Title, Blocks
type Block struct {
	Type       BlockType `json:"type"`
	ID         string    `json:"id"`
	Basis      string    `json:"basis,omitempty"`
	Verdieping string    `json:"verdieping,omitempty"`
	Praktijk   string    `json:"praktijk,omitempty"`
	Items      []string  `json:"items,omitempty"`
	Number     string    `json:"number,omitempty"`
	Title      string    `json:"title,omitempty"`
	Blocks     []Block   `json:"blocks,omitempty"`
	Images     []Image   `json:"images,omitempty"`
}

type Section struct {
	Number string  `json:"number,omitempty"`
	Title  string  `json:"title"`
	Blocks []Block `json:"blocks"`
}

type Chapter struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	Opener   *Image    `json:"opener,omitempty"`
	Sections []Section `json:"sections"`
}

type Book struct {
	ID       string    `json:"id"`
	Version  string    `json:"version,omitempty"`
	Title    string    `json:"title"`
	Language string    `json:"language,omitempty"`
	Chapters []Chapter `json:"chapters"`
}

// blockWire accepts the field spellings found in exported canonical files.
type blockWire struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Basis      string            `json:"basis"`
	BasisText  string            `json:"basisText"`
	Verdieping string            `json:"verdieping"`
	Praktijk   string            `json:"praktijk"`
	Items      []json.RawMessage `json:"items"`
	Number     string            `json:"number"`
	Title      string            `json:"title"`
	Blocks     []Block           `json:"blocks"`
	Content    []Block           `json:"content"`
	Images     []Image           `json:"images"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var w blockWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	typ := BlockType(strings.ToLower(strings.TrimSpace(w.Type)))
	if typ == "" {
		switch {
		case len(w.Items) > 0:
			typ = BlockList
		case len(w.Blocks) > 0 || len(w.Content) > 0:
			typ = BlockSubparagraph
		default:
			typ = BlockParagraph
		}
	}
	switch typ {
	case BlockParagraph, BlockList, BlockSteps, BlockSubparagraph:
	default:
		return fmt.Errorf("unknown block type %q (id=%q)", w.Type, w.ID)
	}
	items := make([]string, 0, len(w.Items))
	for i, raw := range w.Items {
		s, err := decodeItem(raw)
		if err != nil {
			return fmt.Errorf("block %q item %d: %w", w.ID, i, err)
		}
		items = append(items, s)
	}
	children := w.Blocks
	if len(children) == 0 {
		children = w.Content
	}
	basis := w.Basis
	if basis == "" {
		basis = w.BasisText
	}
	*b = Block{
		Type:       typ,
		ID:         strings.TrimSpace(w.ID),
		Basis:      basis,
		Verdieping: w.Verdieping,
		Praktijk:   w.Praktijk,
		Number:     w.Number,
		Title:      w.Title,
		Blocks:     children,
		Images:     w.Images,
	}
	if len(items) > 0 {
		b.Items = items
	}
	return nil
}

// decodeItem accepts "text" or {"text": "..."}.
func decodeItem(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("list item must be a string or {text}")
	}
	return obj.Text, nil
}

// Decode parses canonical book JSON.
func Decode(data []byte) (*Book, error) {
	var b Book
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode canonical book: %w", err)
	}
	if len(b.Chapters) == 0 {
		return nil, fmt.Errorf("decode canonical book: no chapters")
	}
	return &b, nil
}

// Validate checks block ids are present and unique within the chapter.
func (c *Chapter) Validate() error {
	seen := map[string]bool{}
	var err error
	c.Walk(func(_ []string, b *Block) bool {
		if b.ID == "" {
			err = fmt.Errorf("chapter %d: %s block without id", c.Number, b.Type)
			return false
		}
		if seen[b.ID] {
			err = fmt.Errorf("chapter %d: duplicate block id %q", c.Number, b.ID)
			return false
		}
		seen[b.ID] = true
		return true
	})
	return err
}

// Walk visits every block depth-first. path holds the section title
// followed by enclosing subparagraph titles. Returning false stops the walk.
func (c *Chapter) Walk(fn func(path []string, b *Block) bool) {
	for si := range c.Sections {
		s := &c.Sections[si]
		if !walkBlocks(s.Blocks, []string{sectionLabel(s)}, fn) {
			return
		}
	}
}

func walkBlocks(blocks []Block, path []string, fn func([]string, *Block) bool) bool {
	for i := range blocks {
		b := &blocks[i]
		if !fn(path, b) {
			return false
		}
		if b.Type == BlockSubparagraph {
			sub := append(append([]string{}, path...), subLabel(b))
			if !walkBlocks(b.Blocks, sub, fn) {
				return false
			}
		}
	}
	return true
}

func sectionLabel(s *Section) string {
	return strings.TrimSpace(strings.TrimSpace(s.Number) + " " + strings.TrimSpace(s.Title))
}

func subLabel(b *Block) string {
	return strings.TrimSpace(strings.TrimSpace(b.Number) + " " + strings.TrimSpace(b.Title))
}

// CountImages returns the number of embedded images, excluding chapter openers.
func (b *Book) CountImages() int {
	n := 0
	for ci := range b.Chapters {
		b.Chapters[ci].Walk(func(_ []string, blk *Block) bool {
			n += len(blk.Images)
			return true
		})
	}
	return n
}

// ChapterAt returns the chapter at a 0-based index.
func (b *Book) ChapterAt(index int) (*Chapter, error) {
	if index < 0 || index >= len(b.Chapters) {
		return nil, fmt.Errorf("chapter index %d out of range (book has %d)", index, len(b.Chapters))
	}
	return &b.Chapters[index], nil
}

// ValidateRenderable rejects paragraphs left with nothing to print. A
// paragraph turned into a deepening box keeps only its box text.
func (c *Chapter) ValidateRenderable() error {
	var err error
	c.Walk(func(_ []string, b *Block) bool {
		if b.Type == BlockParagraph && strings.TrimSpace(b.Basis) == "" &&
			strings.TrimSpace(b.Verdieping) == "" && len(b.Images) == 0 {
			err = fmt.Errorf("chapter %d: paragraph %q has empty base text", c.Number, b.ID)
			return false
		}
		return true
	})
	return err
}

// Clone returns a deep copy.
func (b *Book) Clone() *Book {
	raw, _ := json.Marshal(b)
	var out Book
	_ = json.Unmarshal(raw, &out)
	return &out
}
