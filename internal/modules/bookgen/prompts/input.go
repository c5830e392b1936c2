package prompts

// Input is a superset of the fields any prompt needs. Missing fields render
// as zero values (templates use missingkey=zero).
type Input struct {
	BookTitle    string
	ChapterTitle string
	Language     string

	// Unit rewriting
	UnitID      string
	SectionPath string
	Facts       []string
	Items       []string

	// Planning
	HeadingCandidates   string
	DeepeningCandidates string
	PraktijkCandidates  string
	DeepeningMin        int
	DeepeningMax        int
	PraktijkMin         int
	PraktijkMax         int
	HeadingCap          int

	// Batched calls carry pre-rendered JSON
	TargetsJSON string
	BlocksJSON  string
	FiguresJSON string
	ContextJSON string
}
