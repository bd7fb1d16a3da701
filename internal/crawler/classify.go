package crawler

import "strings"

// categoryKeywords maps category labels to the keywords that select them.
// Order matters: the first matching category wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"database", []string{"database", "db", "postgres", "sqlite", "mysql", "supabase"}},
	{"browser", []string{"browser", "playwright", "puppeteer", "selenium", "web"}},
	{"filesystem", []string{"filesystem", "file", "disk", "storage", "s3"}},
	{"code", []string{"github", "gitlab", "git", "code", "repo"}},
	{"productivity", []string{"slack", "discord", "email", "gmail", "notion", "calendar"}},
	{"api", []string{"api", "rest", "http", "openapi"}},
	{"search", []string{"search", "bing", "google", "brave"}},
}

// ClassifyCategory derives a category label from topics, name, and
// description. Unmatched repositories land in "other".
func ClassifyCategory(topics []string, name, description string) string {
	parts := make([]string, 0, len(topics)+2)
	parts = append(parts, topics...)
	parts = append(parts, name, description)
	text := strings.ToLower(strings.Join(parts, " "))

	for _, entry := range categoryKeywords {
		for _, word := range entry.words {
			if containsWord(text, word) {
				return entry.category
			}
		}
	}
	return "other"
}

// containsWord reports whether text contains word as a whole token, so
// "db" does not match inside "adblock".
func containsWord(text, word string) bool {
	idx := 0
	for {
		found := strings.Index(text[idx:], word)
		if found < 0 {
			return false
		}
		start := idx + found
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
