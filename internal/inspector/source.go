package inspector

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/scope"
)

// Reasons a file is skipped instead of scanned.
var (
	ErrUnsupported = errors.New("unsupported extension")
	ErrBinary      = errors.New("binary content")
	ErrTooLarge    = errors.New("file exceeds size limit")
)

// ScanError records a file the inspector skipped. It is logged and counted,
// never treated as a failure of the scan.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string { return fmt.Sprintf("skipping %s: %v", e.Path, e.Err) }

func (e *ScanError) Unwrap() error { return e.Err }

// Source is one loaded file: its lines and scope index.
type Source struct {
	Path  string
	Lines []string
	scope scope.Index
}

// NewSource builds a Source from in-memory content. The path selects the scope
// locator; the file itself is not read.
func (in *Inspector) NewSource(path string, content []byte) (*Source, error) {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return nil, &ScanError{Path: path, Err: ErrBinary}
	}

	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	src := &Source{Path: path, Lines: lines}
	idx, err := in.scopes.Index(path, content, lines)
	if err != nil {
		in.logger.Debug("no scope index", zap.String("path", path), zap.Error(err))
	} else {
		src.scope = idx
	}
	return src, nil
}

// Load reads and indexes a file from disk.
func (in *Inspector) Load(path string) (*Source, error) {
	if !in.supported(path) {
		return nil, &ScanError{Path: path, Err: ErrUnsupported}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &ScanError{Path: path, Err: ErrUnsupported}
	}
	if in.opts.MaxFileBytes > 0 && info.Size() > in.opts.MaxFileBytes {
		return nil, &ScanError{Path: path, Err: ErrTooLarge}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &ScanError{Path: path, Err: err}
	}
	return in.NewSource(path, content)
}

func (in *Inspector) supported(path string) bool {
	if len(in.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range in.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (s *Source) line(i int) string {
	if i < 0 || i >= len(s.Lines) {
		return ""
	}
	return s.Lines[i]
}

func (s *Source) inFunction(i int) bool {
	return s.scope != nil && s.scope.InFunction(i)
}

func (s *Source) inType(i int) bool {
	return s.scope != nil && s.scope.InType(i)
}

// window returns the lines within n of line i.
func (s *Source) window(i, n int) []string {
	start := max(0, i-n)
	end := min(len(s.Lines), i+n+1)
	out := make([]string, end-start)
	copy(out, s.Lines[start:end])
	return out
}
