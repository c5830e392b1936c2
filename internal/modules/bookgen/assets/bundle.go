// Package assets makes every image reference of an assembled chapter
// resolvable from the job work directory.
package assets

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	BundleDir      = "bundle"
	AssetsDir      = "assets"
	PlaceholderDir = "placeholders"
	IndexFile      = "images-index.json"
)

// maxEntryBytes caps a single extracted file.
const maxEntryBytes = 256 << 20

// ExtractZip unpacks data under dir and returns the extracted paths relative
// to dir. Entries that would land outside dir are rejected.
func ExtractZip(data []byte, dir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir bundle dir: %w", err)
	}
	var out []string
	for _, f := range zr.File {
		rel, err := safeEntryPath(f.Name)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}
		dst := filepath.Join(root, rel)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := extractFile(f, dst); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

// safeEntryPath cleans a zip entry name. It returns "" for entries that
// carry nothing to extract.
func safeEntryPath(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(n, "/") || filepath.IsAbs(n) || filepath.VolumeName(n) != "" {
		return "", fmt.Errorf("bundle entry %q: absolute path", name)
	}
	clean := filepath.Clean(filepath.FromSlash(n))
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("bundle entry %q escapes destination", name)
	}
	if strings.HasPrefix(filepath.Base(clean), "._") || strings.HasPrefix(clean, "__MACOSX") {
		return "", nil
	}
	return clean, nil
}

func extractFile(f *zip.File, dst string) error {
	if f.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symlinks are not allowed")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, io.LimitReader(rc, maxEntryBytes+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > maxEntryBytes {
		return fmt.Errorf("entry larger than %d bytes", maxEntryBytes)
	}
	return nil
}

// Index maps original image names to storage keys.
type Index struct {
	SrcMap map[string]string `json:"srcMap"`
}

func DecodeIndex(data []byte) (*Index, error) {
	idx := &Index{SrcMap: map[string]string{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return idx, nil
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", IndexFile, err)
	}
	if idx.SrcMap == nil {
		idx.SrcMap = map[string]string{}
	}
	return idx, nil
}

// Lookup finds the storage key for src by exact name, then by basename
// ignoring case.
func (idx *Index) Lookup(src string) (string, bool) {
	if idx == nil || len(idx.SrcMap) == 0 {
		return "", false
	}
	if key, ok := idx.SrcMap[src]; ok && key != "" {
		return key, true
	}
	base := strings.ToLower(baseName(src))
	for name, key := range idx.SrcMap {
		if key != "" && strings.ToLower(baseName(name)) == base {
			return key, true
		}
	}
	return "", false
}

func baseName(src string) string {
	s := src
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "\\", "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
