package assets

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/bookgen-worker/internal/domain/book"
	"github.com/yungbote/bookgen-worker/internal/platform/gcp"
	"github.com/yungbote/bookgen-worker/internal/platform/imaging"
	"github.com/yungbote/bookgen-worker/internal/platform/logger"
)

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	data := zipOf(t, map[string][]byte{
		"images/Fig 1.PNG":     []byte("a"),
		"__MACOSX/._Fig 1.PNG": []byte("junk"),
	})
	got, err := ExtractZip(data, dir)
	if err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}
	if len(got) != 1 || got[0] != "images/Fig 1.PNG" {
		t.Fatalf("extracted: %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "images", "Fig 1.PNG")); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../evil.png", "a/../../evil.png", "/etc/evil.png"} {
		data := zipOf(t, map[string][]byte{name: []byte("x")})
		if _, err := ExtractZip(data, t.TempDir()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestIndexLookup(t *testing.T) {
	idx, err := DecodeIndex([]byte(`{"srcMap":{"images/Fig_2.jpg":"books/b1/img/fig2.jpg"}}`))
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if key, ok := idx.Lookup("images/Fig_2.jpg"); !ok || key != "books/b1/img/fig2.jpg" {
		t.Fatalf("exact: got=%q ok=%v", key, ok)
	}
	if key, ok := idx.Lookup("other/dir/fig_2.JPG"); !ok || key != "books/b1/img/fig2.jpg" {
		t.Fatalf("basename: got=%q ok=%v", key, ok)
	}
	if _, ok := idx.Lookup("nope.png"); ok {
		t.Fatalf("unexpected hit")
	}
	empty, err := DecodeIndex(nil)
	if err != nil || empty.SrcMap == nil {
		t.Fatalf("empty index: %v", err)
	}
}

func chapterWith(srcs ...string) []book.Chapter {
	var imgs []book.Image
	for _, s := range srcs {
		imgs = append(imgs, book.Image{Src: s})
	}
	return []book.Chapter{{
		Number: 1,
		Title:  "Hygiëne",
		Sections: []book.Section{{Title: "Handen", Blocks: []book.Block{
			{Type: book.BlockParagraph, ID: "p1", Basis: "Tekst.", Images: imgs},
		}}},
	}}
}

func TestLocalizeResolutionOrder(t *testing.T) {
	work := t.TempDir()
	store, err := gcp.NewDirBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirBackend: %v", err)
	}
	ctx := context.Background()
	if err := store.CreateIfAbsent(ctx, "books/b1/img/remote.png", pngOf(t, 4, 4), "image/png"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ExtractZip(zipOf(t, map[string][]byte{"figs/Bundle.PNG": pngOf(t, 4, 4)}), filepath.Join(work, BundleDir)); err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}
	if err := os.WriteFile(filepath.Join(work, "local.png"), pngOf(t, 2, 2), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	idx := &Index{SrcMap: map[string]string{"remote.png": "books/b1/img/remote.png", "gone.png": "books/b1/img/gone.png"}}

	r, err := NewResolver(logger.Nop(), Config{WorkDir: work}, store, idx)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	chs := chapterWith("https://cdn.example.com/a.png", "local.png", "old/path/bundle.png", "x/remote.png", "gone.png", "missing.png")
	rep, err := r.Localize(ctx, chs)
	if err != nil {
		t.Fatalf("Localize: %v", err)
	}
	got := chs[0].Sections[0].Blocks[0].Images
	want := []string{"https://cdn.example.com/a.png", "local.png", "bundle/figs/Bundle.PNG", "assets/remote.png", "gone.png", "missing.png"}
	for i, w := range want {
		if got[i].Src != w {
			t.Fatalf("image %d: want=%q got=%q", i, w, got[i].Src)
		}
	}
	if rep.Resolved != 4 || rep.FromBundle != 1 || rep.Downloaded != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if strings.Join(rep.Unresolved, ",") != "gone.png,missing.png" {
		t.Fatalf("unresolved: %v", rep.Unresolved)
	}
	if _, err := os.Stat(filepath.Join(work, "assets", "remote.png")); err != nil {
		t.Fatalf("downloaded file: %v", err)
	}
}

func TestLocalizeDownscalesLargeBundleImage(t *testing.T) {
	work := t.TempDir()
	if _, err := ExtractZip(zipOf(t, map[string][]byte{"big.png": pngOf(t, 40, 20)}), filepath.Join(work, BundleDir)); err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}
	r, err := NewResolver(logger.Nop(), Config{WorkDir: work, MaxPx: 10}, nil, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	chs := chapterWith("big.png")
	rep, err := r.Localize(context.Background(), chs)
	if err != nil {
		t.Fatalf("Localize: %v", err)
	}
	src := chs[0].Sections[0].Blocks[0].Images[0].Src
	if src != "assets/big.jpg" || rep.Downscaled != 1 {
		t.Fatalf("src=%q report=%+v", src, rep)
	}
}

func TestLocalizeKeepsSameBasenameDownloadsApart(t *testing.T) {
	work := t.TempDir()
	store, err := gcp.NewDirBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirBackend: %v", err)
	}
	ctx := context.Background()
	for key, size := range map[string]int{"books/b1/ch1/fig.png": 4, "books/b1/ch2/fig.png": 6} {
		if err := store.CreateIfAbsent(ctx, key, pngOf(t, size, size), "image/png"); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	idx := &Index{SrcMap: map[string]string{"ch1/fig.png": "books/b1/ch1/fig.png", "ch2/fig.png": "books/b1/ch2/fig.png"}}
	r, err := NewResolver(logger.Nop(), Config{WorkDir: work}, store, idx)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	chs := chapterWith("ch1/fig.png", "ch2/fig.png", "ch1/fig.png")
	if _, err := r.Localize(ctx, chs); err != nil {
		t.Fatalf("Localize: %v", err)
	}
	imgs := chs[0].Sections[0].Blocks[0].Images
	if imgs[0].Src != "assets/fig.png" || imgs[1].Src != "assets/fig__dup2.png" || imgs[2].Src != imgs[0].Src {
		t.Fatalf("srcs: %q %q %q", imgs[0].Src, imgs[1].Src, imgs[2].Src)
	}
	first, _ := os.ReadFile(filepath.Join(work, "assets", "fig.png"))
	second, _ := os.ReadFile(filepath.Join(work, "assets", "fig__dup2.png"))
	if len(first) == 0 || bytes.Equal(first, second) {
		t.Fatalf("second download overwrote the first")
	}
}

func TestLocalizeBundlePrefersFullPath(t *testing.T) {
	work := t.TempDir()
	files := map[string][]byte{"ch1/fig.png": pngOf(t, 40, 20), "ch2/fig.png": pngOf(t, 20, 40)}
	if _, err := ExtractZip(zipOf(t, files), filepath.Join(work, BundleDir)); err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}
	r, err := NewResolver(logger.Nop(), Config{WorkDir: work, MaxPx: 10}, nil, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	chs := chapterWith("ch1/fig.png", "ch2/fig.png")
	rep, err := r.Localize(context.Background(), chs)
	if err != nil {
		t.Fatalf("Localize: %v", err)
	}
	imgs := chs[0].Sections[0].Blocks[0].Images
	if imgs[0].Src != "assets/fig.jpg" || imgs[1].Src != "assets/fig__dup2.jpg" || rep.Downscaled != 2 {
		t.Fatalf("srcs: %q %q report=%+v", imgs[0].Src, imgs[1].Src, rep)
	}
	first, _ := os.ReadFile(filepath.Join(work, "assets", "fig.jpg"))
	second, _ := os.ReadFile(filepath.Join(work, "assets", "fig__dup2.jpg"))
	if len(first) == 0 || bytes.Equal(first, second) {
		t.Fatalf("downscaled bundle images collided")
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	work := t.TempDir()
	painter, err := imaging.NewPainter(imaging.PlaceholderOptions{Width: 40, Height: 30})
	if err != nil {
		t.Fatalf("NewPainter: %v", err)
	}
	chs := chapterWith("a.png", "b.jpg", "a.png")
	chs[0].Opener = &book.Image{Src: "opener.jpg"}
	n, err := SubstitutePlaceholders(chs, painter, work)
	if err != nil {
		t.Fatalf("SubstitutePlaceholders: %v", err)
	}
	if n != 3 {
		t.Fatalf("drawn: want=3 got=%d", n)
	}
	imgs := chs[0].Sections[0].Blocks[0].Images
	if imgs[0].Src != imgs[2].Src || !imgs[0].Placeholder {
		t.Fatalf("same src must share one placeholder: %+v", imgs)
	}
	for _, img := range append(imgs, *chs[0].Opener) {
		if !strings.HasPrefix(img.Src, PlaceholderDir+"/") || !strings.HasSuffix(img.Src, ".png") {
			t.Fatalf("src: %q", img.Src)
		}
		if _, err := os.Stat(filepath.Join(work, filepath.FromSlash(img.Src))); err != nil {
			t.Fatalf("placeholder file: %v", err)
		}
	}
}
