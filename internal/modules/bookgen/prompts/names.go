package prompts

type PromptName string

const (
	// Planning
	PromptContentPlan PromptName = "content_plan"

	// Rewriting, one per unit role
	PromptRewritePlain             PromptName = "rewrite_plain"
	PromptRewriteDeepening         PromptName = "rewrite_deepening"
	PromptRewriteListToProse       PromptName = "rewrite_list_to_prose"
	PromptRewritePraktijk          PromptName = "rewrite_praktijk"
	PromptRewriteExistingDeepening PromptName = "rewrite_existing_deepening"

	// Batched generation
	PromptPraktijkBatch PromptName = "praktijk_batch"

	// Hyphenation QA
	PromptHyphenationQA  PromptName = "hyphenation_qa"
	PromptHyphenationFix PromptName = "hyphenation_fix"

	// Figures
	PromptFigurePlacement PromptName = "figure_placement"
)
