package pdfrender

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Stats summarizes a rendered PDF for the layout report.
type Stats struct {
	Pages               int    `json:"pages"`
	Words               int    `json:"words"`
	PraktijkBoxes       int    `json:"praktijk_boxes"`
	VerdiepingBoxes     int    `json:"verdieping_boxes"`
	UniqueSubparagraphs int    `json:"unique_subparagraphs"`
	Snippet             string `json:"snippet,omitempty"`
}

// Inspector shells out to poppler's pdfinfo and pdftotext.
type Inspector struct {
	PDFInfo   string
	PDFToText string
	Timeout   time.Duration
}

func NewInspector() *Inspector {
	return &Inspector{PDFInfo: "pdfinfo", PDFToText: "pdftotext", Timeout: 30 * time.Second}
}

// Available reports whether both tools are on PATH.
func (i *Inspector) Available() bool {
	_, errA := exec.LookPath(i.PDFInfo)
	_, errB := exec.LookPath(i.PDFToText)
	return errA == nil && errB == nil
}

func (i *Inspector) Inspect(ctx context.Context, pdfPath string) (*Stats, error) {
	pages, err := i.CountPages(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, i.Timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, i.PDFToText, "-enc", "UTF-8", pdfPath, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}
	st := TextStats(string(out))
	st.Pages = pages
	return st, nil
}

func (i *Inspector) CountPages(ctx context.Context, pdfPath string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, i.Timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, i.PDFInfo, pdfPath).CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w; out=%s", err, string(out))
	}
	return ParsePages(string(out))
}

// ParsePages reads the "Pages:" line of pdfinfo output.
func ParsePages(info string) (int, error) {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || n <= 0 {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo output missing Pages field")
}

var (
	praktijkRe   = regexp.MustCompile(`(?i)in de praktijk`)
	verdiepingRe = regexp.MustCompile(`(?i)verdieping`)
	subparaRe    = regexp.MustCompile(`\b\d+\.\d+\.\d+\b`)
)

// TextStats counts words, box labels and unique X.X.X numbers in extracted text.
func TextStats(text string) *Stats {
	uniq := map[string]bool{}
	for _, m := range subparaRe.FindAllString(text, -1) {
		uniq[m] = true
	}
	snippet := strings.Join(strings.Fields(text), " ")
	if r := []rune(snippet); len(r) > 600 {
		snippet = string(r[:600])
	}
	return &Stats{
		Words:               len(strings.Fields(text)),
		PraktijkBoxes:       len(praktijkRe.FindAllString(text, -1)),
		VerdiepingBoxes:     len(verdiepingRe.FindAllString(text, -1)),
		UniqueSubparagraphs: len(uniq),
		Snippet:             snippet,
	}
}
