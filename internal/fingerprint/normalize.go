package fingerprint

import (
	"regexp"
	"strings"
)

// hexAddrPattern matches hex memory addresses (0x...) that appear in raw
// stack frames but carry no diagnostic value across processes or runs.
var hexAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// frameLocationPattern extracts file, function, and line from a single
// stack frame line in the common "function (file:line)" or
// "at function (file:line)" shapes emitted by most client SDKs.
var frameLocationPattern = regexp.MustCompile(`^\s*(?:at\s+)?([^\s(]+)\s*\(?([^():]+):(\d+)(?::\d+)?\)?\s*$`)

// NormalizeStackTrace reduces a raw, multi-line stack trace to a stable
// representation containing only file, function, and line per frame,
// dropping memory addresses and any other incidental detail (column
// numbers, native-frame markers, process-specific noise).
//
// This is the frozen contract referenced by the design notes: any change to
// this algorithm changes the fingerprint of every stored issue and must be
// treated as a breaking change to stored data.
//
// An empty input returns an empty string (events without a stack trace
// fingerprint on project_id + message + environment + level alone).
func NormalizeStackTrace(raw string) string {
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	frames := make([]string, 0, len(lines))

	for _, line := range lines {
		frame := normalizeFrame(line)
		if frame != "" {
			frames = append(frames, frame)
		}
	}

	return strings.Join(frames, "\n")
}

// normalizeFrame reduces one raw line to "function@file:line", or "" if the
// line carries no recognizable frame (blank lines, trace headers).
func normalizeFrame(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	line = hexAddrPattern.ReplaceAllString(line, "")

	match := frameLocationPattern.FindStringSubmatch(line)
	if match == nil {
		// Frame didn't parse into function/file/line; keep the
		// address-stripped text verbatim rather than dropping it, so an
		// unrecognized but stable frame still contributes to the fingerprint.
		return line
	}

	function, file, lineNo := match[1], match[2], match[3]

	return function + "@" + strings.TrimSpace(file) + ":" + lineNo
}
