package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)                  // Pattern to replace multiple underscores with one
const maxFilenameLength = 100                                          // Max length for sanitized filenames

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")       // Replace invalid chars with underscore
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_") // Collapse multiple underscores
	sanitized = strings.Trim(sanitized, "_ ")                           // Remove leading/trailing underscores or spaces

	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// --- Content Filenames ---

// nonContentFilenameChars matches everything outside the stable filename alphabet.
var nonContentFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

const (
	indexFilename   = "index.html"
	contentFilename = ".html"
)

// ContentFilename derives the stable name under which a page body is saved.
// The path component (query and fragment ignored) is trimmed of slashes,
// every character outside [A-Za-z0-9_.-] becomes '_', runs of '_' collapse
// and ".html" is appended unless already present. The site root maps to index.html.
// Plans reference these names, so the mapping must never change.
func ContentFilename(rawURL string) string {
	p := strings.Trim(urlPath(rawURL), "/")
	if p == "" {
		return indexFilename
	}

	name := nonContentFilenameChars.ReplaceAllString(p, "_")
	name = consecutiveUnderscores.ReplaceAllString(name, "_")
	if !strings.HasSuffix(name, contentFilename) {
		name += contentFilename
	}
	return name
}

// urlPath returns the path of rawURL exactly as written: no percent decoding,
// query, fragment and last-segment ;params removed.
func urlPath(rawURL string) string {
	s, _, _ := strings.Cut(rawURL, "#")
	s, _, _ = strings.Cut(s, "?")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		j := strings.IndexByte(s, '/')
		if j < 0 {
			return ""
		}
		s = s[j:]
	} else if strings.HasPrefix(s, "//") {
		j := strings.IndexByte(s[2:], '/')
		if j < 0 {
			return ""
		}
		s = s[2+j:]
	}
	lastSlash := strings.LastIndexByte(s, '/')
	if k := strings.IndexByte(s[lastSlash+1:], ';'); k >= 0 {
		s = s[:lastSlash+1+k]
	}
	return s
}

// TruncateRunes shortens s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
