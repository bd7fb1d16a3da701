package crawler

import "testing"

func TestClassifyCategory(t *testing.T) {
	cases := []struct {
		name        string
		topics      []string
		repoName    string
		description string
		want        string
	}{
		{"topic wins", []string{"postgres"}, "acme-server", "", "database"},
		{"name match", nil, "playwright-mcp", "", "browser"},
		{"description match", nil, "acme", "Manage files on disk", "filesystem"},
		{"order matters", []string{"postgres"}, "browser-tools", "", "database"},
		{"productivity", []string{"slack"}, "acme", "", "productivity"},
		{"search engine", nil, "brave-connector", "", "search"},
		{"fallback", nil, "mystery", "does something novel", "other"},
		{"case insensitive", []string{"POSTGRES"}, "acme", "", "database"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyCategory(tc.topics, tc.repoName, tc.description)
			if got != tc.want {
				t.Fatalf("ClassifyCategory(%v, %q, %q) = %q, want %q",
					tc.topics, tc.repoName, tc.description, got, tc.want)
			}
		})
	}
}

func TestContainsWordMatchesWholeTokensOnly(t *testing.T) {
	if containsWord("adblock tooling", "db") {
		t.Fatalf("db must not match inside adblock")
	}
	if !containsWord("local db backup", "db") {
		t.Fatalf("db should match as a standalone token")
	}
	if !containsWord("backed by sqlite.", "sqlite") {
		t.Fatalf("punctuation should terminate a token")
	}
}
