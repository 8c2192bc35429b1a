// fingerprint.go generates stable hashes for grouping similar records.

package jstrack

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Fingerprint generates a hash for grouping similar records.
// The fingerprint is based on:
//   - kind
//   - the resource URL for load failures
//   - the first 3 stack frames (function names, or script paths for
//     anonymous frames), with line and column numbers stripped
//   - the message, only when no frame could be extracted
//
// It ignores record IDs, timestamps, memory addresses and query strings.
func Fingerprint(r ErrorRecord) string {
	parts := []string{r.Kind.String()}

	if d, ok := r.Description.(LoadDescription); ok {
		parts = append(parts, stripQuery(d.Href))
	}

	frames := normalizeStackTrace(r.StackTrace)
	parts = append(parts, frames...)
	if len(frames) == 0 {
		if _, isLoad := r.Description.(LoadDescription); !isLoad {
			parts = append(parts, r.Message())
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:16])
}

var (
	// Go: "main.doSomething(0x1234)" or "pkg/subpkg.Function()"
	funcNamePattern = regexp.MustCompile(`^([a-zA-Z0-9_./*()\[\]]+\.[a-zA-Z0-9_]+)`)

	// V8: "at handler (http://x/app.js:10:5)" or "at http://x/app.js:10:5"
	v8FramePattern = regexp.MustCompile(`^at\s+(?:(?:async\s+)?([^\s(]+)\s+\()?([^()]*?)(?::\d+){0,2}\)?$`)

	// SpiderMonkey/JavaScriptCore: "handler@http://x/app.js:10:5"
	geckoFramePattern = regexp.MustCompile(`^([^@]*)@(.*?)(?::\d+){0,2}$`)

	memAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	offsetPattern  = regexp.MustCompile(`\+0x[0-9a-fA-F]+`)
)

// normalizeStackTrace extracts up to 3 stable frame identifiers from a Go or
// browser stack trace.
func normalizeStackTrace(trace string) []string {
	if trace == "" || trace == NoStack {
		return nil
	}

	var frames []string
	for _, line := range strings.Split(trace, "\n") {
		if strings.HasPrefix(line, "\t") {
			continue // Go file:line lines
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") {
			continue
		}

		frame := normalizeFrame(line)
		if frame == "" {
			continue
		}
		frames = append(frames, frame)
		if len(frames) >= 3 {
			break
		}
	}
	return frames
}

func normalizeFrame(line string) string {
	if m := v8FramePattern.FindStringSubmatch(line); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return stripQuery(m[2])
	}

	if strings.Contains(line, "@") && strings.Contains(line, "://") {
		if m := geckoFramePattern.FindStringSubmatch(line); m != nil {
			if m[1] != "" {
				return m[1]
			}
			return stripQuery(m[2])
		}
	}

	funcLine := offsetPattern.ReplaceAllString(line, "")
	funcLine = memAddrPattern.ReplaceAllString(funcLine, "")
	if idx := strings.LastIndex(funcLine, "("); idx > 0 {
		funcLine = funcLine[:idx]
	}
	return funcNamePattern.FindString(strings.TrimSpace(funcLine))
}

func stripQuery(u string) string {
	if idx := strings.IndexAny(u, "?#"); idx >= 0 {
		return u[:idx]
	}
	return u
}
