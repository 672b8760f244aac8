// Package inspector scans source files for defect signatures and scores how
// strongly each signature manifests at every scale.
package inspector

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/metrics"
	"github.com/dejo1307/resonance/internal/scope"
)

const (
	baseAmplitude   = 0.6
	longMatchBonus  = 0.1
	longMatchLength = 20
	contextBoost    = 0.2
	contextPenalty  = 0.5
)

// Options tune the inspector.
type Options struct {
	ContextLines int
	MaxFileBytes int64
	Workers      int
	// Extensions lists the lower-case file extensions Load accepts. Empty
	// accepts every file.
	Extensions []string
}

// Inspector scans files against the signatures of one catalog.
type Inspector struct {
	catalog    *catalog.Catalog
	classifier *scope.Classifier
	scopes     *scope.Registry
	opts       Options
	logger     *zap.Logger
}

// New creates an Inspector.
func New(cat *catalog.Catalog, classifier *scope.Classifier, scopes *scope.Registry, opts Options, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ContextLines < 0 {
		opts.ContextLines = 0
	}
	return &Inspector{
		catalog:    cat,
		classifier: classifier,
		scopes:     scopes,
		opts:       opts,
		logger:     logger.Named("inspector"),
	}
}

func (in *Inspector) signatures(sigs []*catalog.Signature) []*catalog.Signature {
	if len(sigs) == 0 {
		return in.catalog.Signatures()
	}
	return sigs
}

// ScanFile scans one file against sigs, or against every catalog signature
// when none are given. Skipped files are logged and yield no matches.
func (in *Inspector) ScanFile(path string, sigs ...*catalog.Signature) []findings.PatternMatch {
	src, err := in.Load(path)
	if err != nil {
		in.Skip(err)
		return nil
	}
	metrics.FilesScanned.Inc()
	return in.ScanSource(src, sigs...)
}

// Skip logs a skipped file and counts it by reason.
func (in *Inspector) Skip(err error) {
	var se *ScanError
	reason := "error"
	if errors.As(err, &se) {
		switch {
		case errors.Is(err, ErrUnsupported):
			reason = "unsupported"
		case errors.Is(err, ErrBinary):
			reason = "binary"
		case errors.Is(err, ErrTooLarge):
			reason = "too_large"
		default:
			reason = "unreadable"
		}
	}
	metrics.FilesSkipped.WithLabelValues(reason).Inc()
	if reason == "unsupported" {
		in.logger.Debug("file skipped", zap.Error(err))
		return
	}
	in.logger.Warn("file skipped", zap.String("reason", reason), zap.Error(err))
}

// ScanSource scans loaded content.
func (in *Inspector) ScanSource(src *Source, sigs ...*catalog.Signature) []findings.PatternMatch {
	var out []findings.PatternMatch
	for _, sig := range in.signatures(sigs) {
		out = append(out, in.matchSignature(src, sig)...)
	}
	metrics.MatchesFound.Add(float64(len(out)))
	return out
}

// Matches returns the matches of one signature in loaded content.
func (in *Inspector) Matches(src *Source, sig *catalog.Signature) []findings.PatternMatch {
	return in.matchSignature(src, sig)
}

// matchSignature returns the matches of one signature, line by line for each
// sub-pattern in catalog order. Zero-length matches are ignored.
func (in *Inspector) matchSignature(src *Source, sig *catalog.Signature) []findings.PatternMatch {
	var out []findings.PatternMatch
	for _, sp := range sig.Patterns {
		for i, line := range src.Lines {
			loc := sp.Regexp.FindStringIndex(line)
			if loc == nil || loc[0] == loc[1] {
				continue
			}
			matched := line[loc[0]:loc[1]]
			out = append(out, findings.PatternMatch{
				PatternType: sig.Type,
				SubPattern:  sp.Name,
				FilePath:    src.Path,
				LineNumber:  i + 1,
				LineContent: line,
				MatchedText: matched,
				Scale:       in.classify(src, i),
				Amplitude:   amplitude(sig, matched),
				Context:     src.window(i, in.opts.ContextLines),
			})
		}
	}
	return out
}

func amplitude(sig *catalog.Signature, matched string) float64 {
	a := baseAmplitude + sig.Severity.AmplitudeBonus()
	if len(matched) > longMatchLength {
		a += longMatchBonus
	}
	return findings.Clamp01(a)
}

// classify assigns the scale of line i: system keyword, then type header,
// then function header, then enclosing function, then enclosing type.
func (in *Inspector) classify(src *Source, i int) findings.Scale {
	line := src.line(i)
	switch {
	case in.classifier.IsSystem(line):
		return findings.ScaleMeta
	case in.classifier.IsTypeDecl(line):
		return findings.ScaleMacro
	case in.classifier.IsFuncDecl(line):
		return findings.ScaleMeso
	case src.inFunction(i):
		return findings.ScaleMeso
	case src.inType(i):
		return findings.ScaleMacro
	default:
		return findings.ScaleMicro
	}
}

// holds reports whether the scale's context condition holds at line i.
func (in *Inspector) holds(src *Source, i int, scale findings.Scale) bool {
	line := src.line(i)
	switch scale {
	case findings.ScaleMicro:
		return in.classifier.IsVarDecl(src.line(i-1)) ||
			in.classifier.IsVarDecl(line) ||
			in.classifier.IsVarDecl(src.line(i+1))
	case findings.ScaleMeso:
		return in.classifier.IsFuncDecl(line) || src.inFunction(i)
	case findings.ScaleMacro:
		return in.classifier.IsTypeDecl(line) || src.inType(i)
	case findings.ScaleMeta:
		return in.classifier.IsSystem(line)
	}
	return false
}

// ScaleAmplitude is the mean, over every match of sig in src, of the match
// amplitude raised by 0.2 where the scale's context holds and halved where it
// does not. It is 0 when sig does not match.
func (in *Inspector) ScaleAmplitude(src *Source, sig *catalog.Signature, scale findings.Scale) float64 {
	matches := in.matchSignature(src, sig)
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		a := m.Amplitude
		if in.holds(src, m.LineNumber-1, scale) {
			a += contextBoost
		} else {
			a *= contextPenalty
		}
		sum += findings.Clamp01(a)
	}
	return findings.Clamp01(sum / float64(len(matches)))
}

// ScanScale loads path and scores sig at one scale. Skipped files score 0.
func (in *Inspector) ScanScale(sig *catalog.Signature, path string, scale findings.Scale) float64 {
	src, err := in.Load(path)
	if err != nil {
		in.Skip(err)
		return 0
	}
	return in.ScaleAmplitude(src, sig, scale)
}

// Spectrum scores sig at every scale of loaded content.
func (in *Inspector) Spectrum(src *Source, sig *catalog.Signature) findings.AmplitudeSpectrum {
	var sp findings.AmplitudeSpectrum
	for _, s := range findings.Scales {
		sp.Set(s, in.ScaleAmplitude(src, sig, s))
	}
	return sp
}

// BuildSpectrum loads path once and scores sig at every scale.
func (in *Inspector) BuildSpectrum(sig *catalog.Signature, path string) findings.AmplitudeSpectrum {
	src, err := in.Load(path)
	if err != nil {
		in.Skip(err)
		return findings.AmplitudeSpectrum{}
	}
	return in.Spectrum(src, sig)
}

// FileScan is the outcome of scanning one file.
type FileScan struct {
	Path    string
	Source  *Source
	Matches []findings.PatternMatch
}

// ScanResult is the outcome of a multi-file scan, in input order.
type ScanResult struct {
	Files   []FileScan
	Skipped []*ScanError
}

// Matches returns every match of the scan in file order.
func (r *ScanResult) Matches() []findings.PatternMatch {
	var out []findings.PatternMatch
	for _, f := range r.Files {
		out = append(out, f.Matches...)
	}
	return out
}

// ScanFiles scans paths on a bounded worker pool. Skipped files are collected,
// not returned as errors; the only error is ctx cancellation.
func (in *Inspector) ScanFiles(ctx context.Context, paths []string, sigs ...*catalog.Signature) (*ScanResult, error) {
	scans := make([]*FileScan, len(paths))
	var (
		mu      sync.Mutex
		skipped []*ScanError
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := in.Load(path)
			if err != nil {
				in.Skip(err)
				var se *ScanError
				if !errors.As(err, &se) {
					se = &ScanError{Path: path, Err: err}
				}
				mu.Lock()
				skipped = append(skipped, se)
				mu.Unlock()
				return nil
			}
			metrics.FilesScanned.Inc()
			scans[i] = &FileScan{Path: path, Source: src, Matches: in.ScanSource(src, sigs...)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	res := &ScanResult{Skipped: skipped}
	for _, s := range scans {
		if s != nil {
			res.Files = append(res.Files, *s)
		}
	}
	in.logger.Debug("scan complete",
		zap.Int("files", len(res.Files)),
		zap.Int("skipped", len(skipped)))
	return res, nil
}
