// Package ocr rasterises PDF pages with pdftoppm and reads them back with tesseract.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Lang        string // default "eng"
	DPI         int    // rasterization DPI, default 300
	MaxPages    int    // 0 = no limit
	TessdataDir string

	EnableTSVConfidence bool
	PSM                 int // e.g., 6 is good for uniform block of text
	OEM                 int // 1 = LSTM; leave 0 to use default

	WorkDir string // parent for temp dirs; empty = os.TempDir()
}

// Result is the text recognised from a rasterised document.
type Result struct {
	Text       string
	Pages      int
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

// ErrNoPages is returned when rasterisation produced nothing to recognise.
var ErrNoPages = errors.New("no pages rendered")

type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewEngine(cfg Config, runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Engine{cfg: cfg, runner: runner, logger: logger}
}

// Available reports whether both binaries resolve on this host.
func (e *Engine) Available() bool {
	for _, bin := range []string{e.cfg.Pdftoppm, e.cfg.Tesseract} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}

// ExtractPDF rasterises up to maxPages pages (0 = config limit) and OCRs each one.
// lang overrides the configured tesseract language when set.
func (e *Engine) ExtractPDF(ctx context.Context, data []byte, maxPages int, lang string) (Result, error) {
	start := time.Now()
	if lang == "" {
		lang = e.cfg.Lang
	}
	if maxPages <= 0 {
		maxPages = e.cfg.MaxPages
	}
	res := Result{Language: lang}

	tmpDir, err := os.MkdirTemp(e.cfg.WorkDir, "docflow-ocr-*")
	if err != nil {
		return res, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove ocr temp dir", "path", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return res, err
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png [-l N] <in.pdf> <tmp/page>
	args := []string{"-r", strconv.Itoa(e.cfg.DPI), "-png"}
	if maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(maxPages))
	}
	args = append(args, in, prefix)
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		res.Warnings = append(res.Warnings, strings.TrimSpace(string(errb)))
		return res, fmt.Errorf("pdftoppm: %w", err)
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...); pdftoppm zero-pads
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if maxPages > 0 && len(matches) > maxPages {
		matches = matches[:maxPages]
	}
	if len(matches) == 0 {
		res.Warnings = append(res.Warnings, "pdftoppm produced no images")
		return res, ErrNoPages
	}

	var (
		b     strings.Builder
		confs []float32
	)
	for _, img := range matches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		txt, err := e.recognise(ctx, img, lang)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(txt)
		if e.cfg.EnableTSVConfidence {
			if c, err := e.tsvConfidence(ctx, img, lang); err == nil {
				confs = append(confs, c)
			} else {
				res.Warnings = append(res.Warnings, err.Error())
			}
		}
	}

	res.Text = Normalize(b.String())
	res.Pages = len(matches)
	res.Confidence = blendConfidence(confs, res.Text)
	res.Duration = time.Since(start)
	e.logger.Debug("ocr finished", "pages", res.Pages, "chars", len(res.Text), "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (e *Engine) tesseractArgs(path, lang string) []string {
	args := []string{path, "stdout", "-l", lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

func (e *Engine) recognise(ctx context.Context, path, lang string) (string, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.tesseractArgs(path, lang)...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	// minor cleanup of obvious line noise
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}
