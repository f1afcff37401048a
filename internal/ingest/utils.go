package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// AllowedExt checks a file extension against exts, or the default set when exts is nil.
func AllowedExt(ext string, exts map[string]struct{}) bool {
	if exts == nil {
		exts = constants.AllowedExtensions
	}
	_, ok := exts[constants.NormalizeExt(ext)]
	return ok
}

// ExtSet builds a lowercase extension set; an empty list yields nil (defaults).
func ExtSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
