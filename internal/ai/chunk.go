package ai

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into messages of at most maxLines lines and maxChars
// characters. Words longer than maxChars are cut, except links, which are
// sent whole on a line of their own.
func Chunk(text string, maxChars, maxLines int) []string {
	if maxChars <= 0 {
		maxChars = 100
	}
	if maxLines <= 0 {
		maxLines = 2
	}

	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		lines = append(lines, wrap(strings.TrimSpace(raw), maxChars)...)
	}

	var (
		chunks  []string
		current []string
		size    int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
		}
		current, size = nil, 0
	}
	for _, line := range lines {
		n := utf8.RuneCountInString(line)
		if len(current) > 0 && (len(current) >= maxLines || size+1+n > maxChars) {
			flush()
		}
		if len(current) > 0 {
			size++
		}
		current = append(current, line)
		size += n
	}
	flush()
	return chunks
}

// wrap breaks one line at word boundaries into pieces of at most max runes.
func wrap(line string, max int) []string {
	if line == "" {
		return nil
	}
	var (
		out []string
		cur []rune
	)
	for _, word := range strings.Fields(line) {
		w := []rune(word)
		if len(w) > max && isLink(word) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			out = append(out, word)
			continue
		}
		for len(w) > max {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			out = append(out, string(w[:max]))
			w = w[max:]
		}
		switch {
		case len(cur) == 0:
			cur = w
		case len(cur)+1+len(w) <= max:
			cur = append(append(cur, ' '), w...)
		default:
			out = append(out, string(cur))
			cur = w
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

func isLink(word string) bool {
	lower := strings.ToLower(word)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}
