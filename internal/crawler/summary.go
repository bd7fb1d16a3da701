package crawler

import (
	"regexp"
	"strings"
)

// summaryMaxLen caps the extracted README summary.
const summaryMaxLen = 300

var (
	markdownLinkRe  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	htmlTagRe       = regexp.MustCompile(`<[^>]+>`)
	inlineCodeRe    = regexp.MustCompile("`([^`]*)`")
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// SummarizeReadme extracts the first prose paragraph from a README as a
// plain-text summary. Extraction is best-effort: badges, headings, code
// blocks, and HTML are skipped, and an empty result is not an error.
func SummarizeReadme(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	inCodeBlock := false
	var paragraph []string
	flush := func() string {
		if len(paragraph) == 0 {
			return ""
		}
		joined := strings.Join(paragraph, " ")
		paragraph = paragraph[:0]
		return cleanLine(joined)
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		if line == "" {
			if summary := flush(); summary != "" {
				return truncate(summary)
			}
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">") ||
			strings.HasPrefix(line, "|") || strings.HasPrefix(line, "---") {
			continue
		}
		paragraph = append(paragraph, line)
	}
	if summary := flush(); summary != "" {
		return truncate(summary)
	}
	return ""
}

func cleanLine(line string) string {
	line = markdownImageRe.ReplaceAllString(line, "")
	line = markdownLinkRe.ReplaceAllString(line, "$1")
	line = inlineCodeRe.ReplaceAllString(line, "$1")
	line = htmlTagRe.ReplaceAllString(line, "")
	line = strings.NewReplacer("*", "", "_", "", "#", "").Replace(line)
	line = whitespaceRe.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

func truncate(s string) string {
	if len(s) <= summaryMaxLen {
		return s
	}
	cut := s[:summaryMaxLen]
	if idx := strings.LastIndex(cut, " "); idx > summaryMaxLen/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
