// Package parser holds the pure text transforms of the mirror job: slug
// derivation, anchor naming, notebook link rewriting, and stub rendering.
package parser

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	// ColabHost marks homework links that point at hosted notebooks.
	ColabHost = "colab.research.google.com"

	downloadTemplate = "https://docs.google.com/uc?export=download&id=%s"

	articleStubTemplate = "#VISIT WEBPAGE:\n\n[%s](%s)"
	invalidStubTemplate = "#INVALID LINK / VISIT DIRECTLY:\n\n[%s](%s)"
)

var (
	ordinalPattern = regexp.MustCompile(`^(\d+)\.\s*`)
	bracketPattern = regexp.MustCompile(`\[.*?\]`)
	gidPattern     = regexp.MustCompile(`[\w-]{26,}`)
)

// Slug derives the filesystem-safe directory name for a schedule row from
// its free-text description. A leading "N. " ordinal becomes "N-", bracketed
// annotations are dropped, whitespace runs collapse to single spaces, and
// the remainder is lowercased with slashes and spaces made path-safe.
func Slug(description string) string {
	s := ordinalPattern.ReplaceAllString(description, "$1-")
	s = bracketPattern.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ToLower(s)
}

// IsColabLink reports whether a homework link targets the notebook host.
func IsColabLink(rawURL string) bool {
	return strings.Contains(rawURL, ColabHost)
}

// RewriteColab converts a notebook viewer link into a direct-download URL.
// The link must contain exactly one token of 26+ word characters or hyphens
// (the hosted file id); anything else is an anomaly the caller should skip.
func RewriteColab(rawURL string) (string, error) {
	tokens := gidPattern.FindAllString(rawURL, -1)
	if len(tokens) != 1 {
		return "", fmt.Errorf("notebook link %q: want exactly one id token, found %d", rawURL, len(tokens))
	}
	return fmt.Sprintf(downloadTemplate, tokens[0]), nil
}

// NotebookFilename names the nth rewritten notebook of a row.
func NotebookFilename(prefix string, n int) string {
	return fmt.Sprintf("%s_Colab_%d.ipynb", prefix, n)
}

// NameFromURL infers a destination filename from an absolute URL: the URL
// path basename, with ".html" forced onto extensionless names since those
// resolve to article pages rather than downloadable assets.
func NameFromURL(absURL string) (name string, article bool, err error) {
	parsed, err := url.Parse(absURL)
	if err != nil {
		return "", false, fmt.Errorf("parse link %q: %w", absURL, err)
	}

	name = path.Base(parsed.Path)
	if name == "." || name == "/" {
		name = "index"
	}
	if path.Ext(name) == "" {
		return name + ".html", true, nil
	}
	return name, false, nil
}

// StubPath replaces a destination's extension with ".md".
func StubPath(dest string) string {
	return strings.TrimSuffix(dest, path.Ext(dest)) + ".md"
}

// ArticleStub renders the pointer file substituted for an HTML article link.
func ArticleStub(sourceURL string) []byte {
	return []byte(fmt.Sprintf(articleStubTemplate, sourceURL, sourceURL))
}

// InvalidStub renders the pointer file substituted for an unreachable link.
func InvalidStub(sourceURL string) []byte {
	return []byte(fmt.Sprintf(invalidStubTemplate, sourceURL, sourceURL))
}
