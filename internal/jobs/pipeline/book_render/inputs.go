package book_render

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/assets"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/pipeline"
	"github.com/yungbote/bookgen-worker/internal/pkg/joberr"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
)

const StageLoad = "load_inputs"

// loadInputs downloads every referenced input concurrently and decodes it.
// Only the canonical document is required; an optional key that is set but
// missing from storage is still an input error.
func loadInputs(ctx context.Context, backend gcp.ObjectBackend, pl jobs.RenderPayload, job *jobs.JobRun) (pipeline.Inputs, error) {
	var in pipeline.Inputs
	if backend == nil {
		return in, joberr.New(joberr.KindInternal, StageLoad, errors.New("no object storage configured"))
	}
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(key string, decode func([]byte) error) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		g.Go(func() error {
			raw, err := gcp.ReadAll(gctx, backend, key)
			if errors.Is(err, gcp.ErrObjectNotFound) {
				return joberr.Input(StageLoad, "input %s not found", key)
			}
			if err != nil {
				return joberr.New(joberr.KindTransient, StageLoad, fmt.Errorf("download %s: %w", key, err))
			}
			if err := decode(raw); err != nil {
				return joberr.Input(StageLoad, "%s: %v", key, err)
			}
			return nil
		})
	}

	fetch(pl.CanonicalKey, func(raw []byte) (err error) {
		in.Book, err = book.Decode(raw)
		return err
	})
	fetch(pl.FiguresKey, func(raw []byte) (err error) {
		in.Figures, err = book.DecodeFigures(raw)
		return err
	})
	fetch(pl.TokensKey, func(raw []byte) (err error) {
		in.Tokens, err = book.DecodeDesignTokens(raw)
		return err
	})
	fetch(pl.IndexKey, func(raw []byte) (err error) {
		in.Index, err = assets.DecodeIndex(raw)
		return err
	})
	fetch(pl.BundleKey, func(raw []byte) error {
		in.Bundle = raw
		return nil
	})
	if job != nil {
		fetch(job.OverlayRef, func(raw []byte) (err error) {
			in.Overlay, err = book.DecodeOverlay(raw)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.Inputs{}, err
	}
	if in.Book == nil {
		return in, joberr.Input(StageLoad, "canonical document is empty")
	}
	return in, nil
}
