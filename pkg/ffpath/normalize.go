// Package ffpath makes filesystem paths safe to embed in ffmpeg filter arguments and concat manifests.
package ffpath

import "strings"

// Normalize converts path into the form expected inside an ffmpeg filter argument.
// Backslash separators become forward slashes, and every ':' (including the one in a
// "C:" drive designator) and every single quote is backslash-escaped. Sequences that are
// already escaped are kept, so Normalize(Normalize(p)) == Normalize(p).
//
// A path with a drive designator or any other backslash separator is taken as a Windows
// path, and all of its backslashes are separators. Only otherwise is a backslash before
// ':' or a quote read as an existing escape.
func Normalize(path string) string {
	windows := hasDrive(path) || hasSeparator(path)
	var b strings.Builder
	b.Grow(len(path) + 4)
	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '\\':
			if !windows && i+1 < len(path) && isEscapable(path[i+1]) {
				b.WriteByte('\\')
				b.WriteByte(path[i+1])
				i++
				continue
			}
			b.WriteByte('/')
		case ':', '\'':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// QuoteArg wraps a filter option value, already escaped by Normalize, in single quotes
// for the filtergraph parser. Quotes inside it are written as '\'' so the option parser
// still sees the escaped quote.
func QuoteArg(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// ManifestEntry returns path escaped for an unquoted "file" line of a concat demuxer manifest.
// It is Normalize plus escaped spaces, since the manifest tokenizer splits on whitespace.
func ManifestEntry(path string) string {
	n := Normalize(path)
	var b strings.Builder
	b.Grow(len(n) + 4)
	for i := 0; i < len(n); i++ {
		if n[i] == '\\' && i+1 < len(n) {
			b.WriteByte(n[i])
			b.WriteByte(n[i+1])
			i++
			continue
		}
		if n[i] == ' ' {
			b.WriteByte('\\')
		}
		b.WriteByte(n[i])
	}
	return b.String()
}

func hasDrive(path string) bool {
	if len(path) < 2 || path[1] != ':' {
		return false
	}
	c := path[0] | 0x20
	return c >= 'a' && c <= 'z'
}

// hasSeparator reports a backslash that cannot be an escape.
func hasSeparator(path string) bool {
	for i := 0; i < len(path); i++ {
		if path[i] == '\\' && (i+1 == len(path) || !isEscapable(path[i+1])) {
			return true
		}
	}
	return false
}

func isEscapable(ch byte) bool {
	return ch == ':' || ch == '\''
}
