// Package pdfrender drives the HTML to PDF backends and inspects their output.
package pdfrender

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendLocal  = "local"
	BackendHosted = "hosted"
)

type Input struct {
	// HTMLPath is the assembled document inside WorkDir; relative image
	// references resolve against WorkDir.
	HTMLPath string
	WorkDir  string
	// OutPath is where the local backend writes the PDF.
	OutPath string
}

type Output struct {
	Backend string
	PDF     []byte
	Log     string
}

type Renderer interface {
	Name() string
	Render(ctx context.Context, in Input) (Output, error)
}

// ErrBackendFailure is wrapped when the backend exits cleanly but its log or
// output shows the render failed.
type ErrBackendFailure struct {
	Backend string
	Reason  string
	Matches []string
}

func (e *ErrBackendFailure) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("%s render failed: %s", e.Backend, e.Reason)
	}
	return fmt.Sprintf("%s render failed: %s: %s", e.Backend, e.Reason, strings.Join(e.Matches, " | "))
}

var failureKeywords = map[string][]string{
	BackendLocal:  {"error:", "fatal", "cannot"},
	BackendHosted: {`"status":"failed"`, "error"},
}

// ScanLog returns the log lines that carry a failure keyword for backend.
func ScanLog(backend, log string) []string {
	keywords := failureKeywords[backend]
	var hits []string
	for _, line := range strings.Split(log, "\n") {
		low := strings.ToLower(strings.TrimSpace(line))
		if low == "" {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(low, kw) {
				hits = append(hits, strings.TrimSpace(line))
				break
			}
		}
	}
	return hits
}

// Check validates a backend result: non-empty PDF and a clean log.
func Check(out Output) error {
	if len(out.PDF) == 0 {
		return &ErrBackendFailure{Backend: out.Backend, Reason: "no pdf produced"}
	}
	if hits := ScanLog(out.Backend, out.Log); len(hits) > 0 {
		return &ErrBackendFailure{Backend: out.Backend, Reason: "log reports errors", Matches: hits}
	}
	return nil
}

// New returns the backend by name.
func New(name string, local LocalConfig, hosted HostedConfig) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendLocal:
		return NewLocal(local), nil
	case BackendHosted:
		return NewHosted(hosted)
	default:
		return nil, fmt.Errorf("unknown render backend %q", name)
	}
}
