package book

import (
	"encoding/json"
	"fmt"
)

// Overlay carries per-block text corrections applied before extraction.
type Overlay struct {
	Blocks map[string]OverlayEdit `json:"blocks"`
}

type OverlayEdit struct {
	Basis      *string  `json:"basis,omitempty"`
	Verdieping *string  `json:"verdieping,omitempty"`
	Praktijk   *string  `json:"praktijk,omitempty"`
	Items      []string `json:"items,omitempty"`
}

func DecodeOverlay(data []byte) (*Overlay, error) {
	if len(data) == 0 {
		return &Overlay{}, nil
	}
	var o Overlay
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}
	return &o, nil
}

// Apply mutates the chapter in place and returns how many blocks changed.
func (o *Overlay) Apply(c *Chapter) int {
	if o == nil || len(o.Blocks) == 0 {
		return 0
	}
	n := 0
	c.Walk(func(_ []string, b *Block) bool {
		edit, ok := o.Blocks[b.ID]
		if !ok {
			return true
		}
		if edit.Basis != nil {
			b.Basis = *edit.Basis
		}
		if edit.Verdieping != nil {
			b.Verdieping = *edit.Verdieping
		}
		if edit.Praktijk != nil {
			b.Praktijk = *edit.Praktijk
		}
		if len(edit.Items) > 0 && b.Type.IsListLike() {
			b.Items = append([]string(nil), edit.Items...)
		}
		n++
		return true
	})
	return n
}
