package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yungbote/bookgen-worker/internal/app"
	"github.com/yungbote/bookgen-worker/internal/domain/jobs"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render one book or chapter from local files",
	Long: `render stages the given input files, runs a single book_render job in
this process and prints the job result. Without other storage or database
settings, artifacts land under <out>/storage and the job row in
<out>/bookgen.db.

Modes: full (rewrites through the LLM provider), render_only (assemble and
render the canonical text as is) and placeholders (render_only with every
image replaced by a placeholder).`,
	RunE: runRender,
}

func init() {
	f := renderCmd.Flags()
	f.String("canonical", "", "canonical book JSON (required)")
	f.String("figures", "", "figures JSON")
	f.String("tokens", "", "design tokens JSON")
	f.String("images-index", "", "images index JSON")
	f.String("bundle", "", "asset bundle zip")
	f.String("overlay", "", "rewrites overlay JSON")
	f.String("out", "bookgen-out", "output directory")
	f.String("book-id", "", "book id (default: canonical file name)")
	f.String("book-version", "", "book version")
	f.Int("chapter", -1, "chapter index to render; -1 renders the whole book")
	f.String("mode", jobs.ModeRenderOnly, "full, render_only or placeholders")
	f.String("provider", "", "LLM provider for full mode (default: llm.default_provider)")
	f.Bool("strict-assets", false, "fail when an image cannot be resolved")
	f.Bool("skip-hyphenation", false, "skip the hyphenation pass")
	f.Bool("skip-figures", false, "skip figure placement")
	f.Bool("skip-praktijk", false, "skip praktijk generation")
	f.Bool("keep-work-dir", false, "keep the per-job work directory")
	_ = renderCmd.MarkFlagRequired("canonical")

	rootCmd.AddCommand(renderCmd)
	bindFlag(renderCmd, "worker.keep_work_dir", "keep-work-dir")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	outDir, _ := f.GetString("out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if cfg.Storage.Mode == "" && cfg.Storage.EmulatorHost == "" {
		cfg.Storage.Mode = "local"
		cfg.Storage.LocalDir = filepath.Join(outDir, "storage")
	}
	if cfg.DB.DSN == "" {
		cfg.DB.Driver = "sqlite"
		cfg.DB.DSN = "file:" + filepath.Join(outDir, "bookgen.db") + "?_busy_timeout=5000"
		cfg.DB.AutoMigrate = true
	}
	if cfg.Worker.WorkRoot == "" {
		cfg.Worker.WorkRoot = filepath.Join(outDir, "work")
		if err := os.MkdirAll(cfg.Worker.WorkRoot, 0o755); err != nil {
			return err
		}
	}

	a, err := app.New(cmd.Context(), cfg, app.Options{Version: version, SkipServer: true})
	if err != nil {
		return err
	}
	defer a.Close()

	req := app.RenderRequest{Inputs: map[string]string{}}
	for flag, role := range map[string]string{
		"canonical":    app.InputCanonical,
		"figures":      app.InputFigures,
		"tokens":       app.InputTokens,
		"images-index": app.InputIndex,
		"bundle":       app.InputBundle,
		"overlay":      app.InputOverlay,
	} {
		if p, _ := f.GetString(flag); p != "" {
			req.Inputs[role] = p
		}
	}
	req.BookID, _ = f.GetString("book-id")
	if req.BookID == "" {
		base := filepath.Base(req.Inputs[app.InputCanonical])
		req.BookID = base[:len(base)-len(filepath.Ext(base))]
	}
	req.BookVersion, _ = f.GetString("book-version")
	if ch, _ := f.GetInt("chapter"); ch >= 0 {
		req.ChapterIndex = &ch
	}
	req.Payload.Mode, _ = f.GetString("mode")
	req.Payload.Provider, _ = f.GetString("provider")
	req.Payload.StrictAssets, _ = f.GetBool("strict-assets")
	req.Payload.SkipHyphenation, _ = f.GetBool("skip-hyphenation")
	req.Payload.SkipFigures, _ = f.GetBool("skip-figures")
	req.Payload.SkipPraktijk, _ = f.GetBool("skip-praktijk")

	out, runErr := a.RenderOnce(cmd.Context(), req)
	if out != nil {
		printOutcome(cmd, cfg, out)
	}
	return runErr
}

func printOutcome(cmd *cobra.Command, cfg app.Config, out *app.RenderOutcome) {
	w := tabwriter.NewWriter(cmd.ErrOrStderr(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "job\t%s\t%s\t%s\n", out.Job.ID, out.Job.Status, out.Job.Stage)
	for _, art := range out.Artifacts {
		loc := art.ObjectKey
		if cfg.Storage.Mode == "local" {
			loc = filepath.Join(cfg.Storage.LocalDir, filepath.FromSlash(art.ObjectKey))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", art.Kind, art.SizeBytes, loc)
	}
	_ = w.Flush()

	if len(out.Job.Result) > 0 {
		var pretty any
		if err := json.Unmarshal(out.Job.Result, &pretty); err == nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			_ = enc.Encode(pretty)
		}
	}
}
