package normalize

import (
	"regexp"
	"strings"
)

var (
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// CleanText canonicalizes whitespace while preserving line breaks, since
// line structure in OCR and PDF output carries layout the extractor relies
// on. Invalid UTF-8 bytes are replaced, space and tab runs collapse to a
// single space, every line is trimmed, blank-line runs collapse to one
// blank line.
func CleanText(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
