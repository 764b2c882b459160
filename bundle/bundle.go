// Package bundle downloads and unpacks the delivery zip produced by the
// final phase.
package bundle

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxExtractSize bounds the total uncompressed size of a bundle.
const MaxExtractSize int64 = 2 << 30

// ErrUnsafePath is returned for archive entries that would escape the
// destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Downloader streams a session's bundle. stage.Client implements it.
type Downloader interface {
	DownloadBundle(ctx context.Context, session string, w io.Writer) (int64, error)
}

// FileName is the name the backend gives a session's bundle.
func FileName(session string) string {
	return fmt.Sprintf("codebasics_data_challenge_%s.zip", session)
}

// Result describes a downloaded bundle.
type Result struct {
	Archive   string
	Size      int64
	Dir       string
	Extracted []string
}

// Fetch downloads the bundle into dir and, when extract is true, unpacks
// it into a directory named after the archive. include filters extracted
// entries by doublestar pattern (e.g. "data/*.csv"); empty means all.
func Fetch(ctx context.Context, d Downloader, session, dir string, extract bool, include []string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ValidatePatterns(include); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	archive := filepath.Join(dir, FileName(session))
	tmp, err := os.CreateTemp(dir, ".bundle-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := d.DownloadBundle(ctx, session, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("download bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), archive); err != nil {
		return nil, fmt.Errorf("save bundle: %w", err)
	}
	logger.Info("Bundle downloaded", slog.String("path", archive), slog.Int64("bytes", n))

	res := &Result{Archive: archive, Size: n}
	if !extract {
		return res, nil
	}

	res.Dir = strings.TrimSuffix(archive, filepath.Ext(archive))
	res.Extracted, err = Extract(archive, res.Dir, include)
	if err != nil {
		return nil, err
	}
	logger.Info("Bundle extracted", slog.String("dir", res.Dir), slog.Int("files", len(res.Extracted)))
	return res, nil
}

// ValidatePatterns rejects malformed include patterns.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid include pattern %q", p)
		}
	}
	return nil
}

// Matches reports whether name (slash separated) matches any pattern.
// No patterns matches everything.
func Matches(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Extract unpacks the entries of archive that match include into dest and
// returns their slash-separated names.
func Extract(archive, dest string, include []string) ([]string, error) {
	if err := ValidatePatterns(include); err != nil {
		return nil, err
	}
	// Insecure names are rejected per entry by safeJoin.
	r, err := zip.OpenReader(archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer r.Close()

	var (
		written   []string
		remaining = MaxExtractSize
	)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		if !Matches(name, include) {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return written, err
		}
		n, err := extractFile(f, target, remaining)
		if err != nil {
			return written, err
		}
		remaining -= n
		written = append(written, name)
	}
	return written, nil
}

func safeJoin(dest, name string) (string, error) {
	if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	if n > limit {
		return n, fmt.Errorf("bundle exceeds %d bytes uncompressed", MaxExtractSize)
	}
	return n, nil
}
