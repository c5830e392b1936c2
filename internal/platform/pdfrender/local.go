package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

type LocalConfig struct {
	Binary    string
	ExtraArgs []string
	Timeout   time.Duration
}

// Local runs a command-line renderer: <binary> [extra...] <html> -o <pdf>.
type Local struct {
	cfg LocalConfig
}

func NewLocal(cfg LocalConfig) *Local {
	if cfg.Binary == "" {
		cfg.Binary = "prince"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Local{cfg: cfg}
}

func (l *Local) Name() string { return BackendLocal }

func (l *Local) Render(ctx context.Context, in Input) (Output, error) {
	out := Output{Backend: BackendLocal}
	if in.HTMLPath == "" || in.OutPath == "" {
		return out, fmt.Errorf("html and output paths required")
	}
	if _, err := exec.LookPath(l.cfg.Binary); err != nil {
		return out, fmt.Errorf("missing required binary %q in PATH: %w", l.cfg.Binary, err)
	}
	if err := os.MkdirAll(filepath.Dir(in.OutPath), 0o755); err != nil {
		return out, fmt.Errorf("mkdir output dir: %w", err)
	}
	_ = os.Remove(in.OutPath)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	args := append(append([]string{}, l.cfg.ExtraArgs...), in.HTMLPath, "-o", in.OutPath)
	cmd := exec.CommandContext(ctx, l.cfg.Binary, args...)
	cmd.Dir = in.WorkDir
	logBytes, runErr := cmd.CombinedOutput()
	out.Log = string(logBytes)
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%s timed out after %s", l.cfg.Binary, l.cfg.Timeout)
		}
		return out, &ErrBackendFailure{Backend: BackendLocal, Reason: runErr.Error(), Matches: ScanLog(BackendLocal, out.Log)}
	}
	pdf, err := os.ReadFile(in.OutPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return out, fmt.Errorf("read pdf: %w", err)
	}
	out.PDF = pdf
	return out, nil
}
