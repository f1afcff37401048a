package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// tsvConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (e *Engine) tsvConfidence(ctx context.Context, path, lang string) (float32, error) {
	args := append(e.tesseractArgs(path, lang), "tsv")
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	lines := strings.Split(string(out), "\n")
	// conf column is the last; header line includes "conf"
	var sum, n float64
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[len(cols)-1]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float32(sum / n / 100.0), nil
}

// heuristicConfidence scores text by its share of letters and digits.
func heuristicConfidence(txt string) float32 {
	var total, good int
	for _, r := range txt {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return float32(good) / float32(total)
}

// blendConfidence weights tesseract's own mean higher when it is present.
func blendConfidence(tsv []float32, txt string) float32 {
	heur := heuristicConfidence(txt)
	if len(tsv) == 0 {
		return heur
	}
	var sum float32
	for _, c := range tsv {
		sum += c
	}
	conf := 0.7*(sum/float32(len(tsv))) + 0.3*heur
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
