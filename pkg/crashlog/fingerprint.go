// fingerprint.go generates stable hashes for grouping similar crashes.

package crashlog

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Fingerprint hashes the class and the first 3 frames of a rendered trace.
// Line numbers, file names and addresses are ignored so the same crash
// site groups across builds.
func Fingerprint(class, trace string) string {
	parts := append([]string{class}, normalizeTrace(trace)...)
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))

	// hex-encoded first 16 bytes (32 hex chars)
	return hex.EncodeToString(hash[:16])
}

// funcNamePattern matches "main.doSomething" or "pkg/subpkg.(*T).Method".
var funcNamePattern = regexp.MustCompile(`^([a-zA-Z0-9_./()*\[\]-]+\.[a-zA-Z0-9_\[\]-]+)`)

// normalizeTrace extracts the first 3 function names from the frames of a
// rendered trace ("\tat pkg.Func(file.go:12)").
func normalizeTrace(trace string) []string {
	if trace == "" {
		return nil
	}

	var frames []string
	for _, line := range strings.Split(trace, "\n") {
		line = strings.TrimSpace(line)
		fn, ok := strings.CutPrefix(line, "at ")
		if !ok {
			continue
		}
		if idx := strings.LastIndex(fn, "("); idx > 0 {
			fn = fn[:idx]
		}
		if match := funcNamePattern.FindString(fn); match != "" {
			frames = append(frames, match)
			if len(frames) >= 3 {
				break
			}
		}
	}
	return frames
}
