package prompts

func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func stringArraySchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
}

func arrayOf(item map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": item}
}

func stringSchema() map[string]any { return map[string]any{"type": "string"} }

func ContentPlanSchema() map[string]any {
	return objectSchema(map[string]any{
		"headings": arrayOf(objectSchema(map[string]any{
			"unit_id": stringSchema(),
			"title":   stringSchema(),
		}, "unit_id", "title")),
		"deepening": stringArraySchema(),
		"praktijk":  stringArraySchema(),
	}, "headings", "deepening", "praktijk")
}

func PraktijkBatchSchema() map[string]any {
	return objectSchema(map[string]any{
		"items": arrayOf(objectSchema(map[string]any{
			"unit_id": stringSchema(),
			"text":    stringSchema(),
		}, "unit_id", "text")),
	}, "items")
}

func HyphenationQASchema() map[string]any {
	return objectSchema(map[string]any{
		"block_ids": stringArraySchema(),
	}, "block_ids")
}

func HyphenationFixSchema() map[string]any {
	return objectSchema(map[string]any{
		"fixes": arrayOf(objectSchema(map[string]any{
			"block_id": stringSchema(),
			"text":     stringSchema(),
		}, "block_id", "text")),
	}, "fixes")
}

func FigurePlacementSchema() map[string]any {
	return objectSchema(map[string]any{
		"placements": arrayOf(objectSchema(map[string]any{
			"figure_src":   stringSchema(),
			"paragraph_id": stringSchema(),
		}, "figure_src", "paragraph_id")),
	}, "placements")
}

var schemas = map[string]func() map[string]any{
	"content_plan":     ContentPlanSchema,
	"praktijk_batch":   PraktijkBatchSchema,
	"hyphenation_qa":   HyphenationQASchema,
	"hyphenation_fix":  HyphenationFixSchema,
	"figure_placement": FigurePlacementSchema,
}
