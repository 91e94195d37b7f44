package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Splitter splits free text into child-sized pieces. It prefers paragraph
// boundaries, then sentence boundaries, then word boundaries, and only
// hard-splits at the size limit when a single word exceeds it. Consecutive
// chunks share a configurable overlap.
//
// Sentence detection skips common abbreviations (Mr., Dr., e.g., etc.),
// decimal numbers (3.14, $1.50), and recognizes CJK sentence-ending
// punctuation (。！？), which matters for the Chinese annual reports this
// module was built around.
type Splitter struct {
	maxChars     int
	overlapChars int
}

// NewSplitter creates a Splitter with the given chunk size and overlap,
// both in bytes of UTF-8 text. overlap must be smaller than max.
func NewSplitter(maxChars, overlapChars int) *Splitter {
	if maxChars <= 0 {
		maxChars = 800
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = maxChars / 8
	}
	return &Splitter{maxChars: maxChars, overlapChars: overlapChars}
}

// Split returns the chunks of text, each at most maxChars long. Input is
// NFC-normalized first so visually identical runs chunk identically.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return nil
	}
	if len(text) <= s.maxChars {
		return []string{text}
	}
	return s.mergeOverlap(s.segments(text))
}

// segments recursively cuts text into pieces no longer than maxChars,
// without overlap. Level 1: paragraphs. Level 2: sentences. Level 3: words.
func (s *Splitter) segments(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.maxChars {
		return []string{text}
	}

	if paras := strings.Split(text, "\n\n"); len(paras) > 1 {
		var segs []string
		for _, p := range paras {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if len(p) <= s.maxChars {
				segs = append(segs, p)
			} else {
				segs = append(segs, s.sentenceSegments(p)...)
			}
		}
		return segs
	}
	return s.sentenceSegments(text)
}

// sentenceSegments greedily packs whole sentences up to maxChars. A single
// sentence longer than maxChars falls through to word splitting.
func (s *Splitter) sentenceSegments(text string) []string {
	pieces := cutAt(text, sentenceBreaks(text))

	var segs []string
	var cur strings.Builder
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			segs = append(segs, t)
		}
		cur.Reset()
	}

	for _, piece := range pieces {
		if len(strings.TrimSpace(piece)) > s.maxChars {
			flush()
			segs = append(segs, s.wordSegments(piece)...)
			continue
		}
		if cur.Len()+len(piece) > s.maxChars {
			flush()
		}
		cur.WriteString(piece)
	}
	flush()
	return segs
}

// wordSegments packs words up to maxChars, hard-splitting any word that is
// itself longer than the limit.
func (s *Splitter) wordSegments(text string) []string {
	var segs []string
	var cur strings.Builder
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			segs = append(segs, t)
		}
		cur.Reset()
	}

	for _, word := range strings.Fields(text) {
		if len(word) > s.maxChars {
			flush()
			for i := 0; i < len(word); {
				end := snapToRuneStart(word, min(i+s.maxChars, len(word)))
				if end <= i {
					// maxChars smaller than the rune at i; emit it whole.
					_, size := utf8.DecodeRuneInString(word[i:])
					end = i + size
				}
				segs = append(segs, word[i:end])
				i = end
			}
			continue
		}
		needed := len(word)
		if cur.Len() > 0 {
			needed += cur.Len() + 1
		}
		if needed > s.maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	flush()
	return segs
}

// mergeOverlap joins adjacent segments into chunks up to maxChars and
// carries an overlap suffix of the previous chunk into the next one.
func (s *Splitter) mergeOverlap(segs []string) []string {
	var chunks []string
	var cur strings.Builder

	for _, seg := range segs {
		needed := len(seg)
		if cur.Len() > 0 {
			needed += cur.Len() + 1
		}
		if needed <= s.maxChars {
			if cur.Len() > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(seg)
			continue
		}

		chunk := cur.String()
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		cur.Reset()
		if ov := overlapSuffix(chunk, s.overlapChars); ov != "" && len(ov)+1+len(seg) <= s.maxChars {
			cur.WriteString(ov)
			cur.WriteByte('\n')
		}
		cur.WriteString(seg)
	}

	if t := strings.TrimSpace(cur.String()); t != "" {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// overlapSuffix returns the last n bytes of text, trimmed forward to the
// next word boundary so the overlap never starts mid-word.
func overlapSuffix(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if len(text) <= n {
		return text
	}
	start := len(text) - n
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	suffix := text[start:]
	if idx := strings.IndexAny(suffix, " \n"); idx >= 0 {
		return strings.TrimSpace(suffix[idx+1:])
	}
	return strings.TrimSpace(suffix)
}

// snapToRuneStart moves pos back to the start of the rune it falls inside.
func snapToRuneStart(s string, pos int) int {
	for pos > 0 && pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

// cutAt slices text at the given ascending byte positions, keeping every
// byte of the input across the returned pieces.
func cutAt(text string, positions []int) []string {
	if len(positions) == 0 {
		return []string{text}
	}
	var pieces []string
	start := 0
	for _, pos := range positions {
		if pos <= start || pos > len(text) {
			continue
		}
		pieces = append(pieces, text[start:pos])
		start = pos
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// abbreviations that must not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

// sentenceBreaks returns ascending byte positions where text may be split
// at a sentence boundary.
func sentenceBreaks(text string) []int {
	var breaks []int
	for i, w := 0, 0; i < len(text); i += w {
		r, size := utf8.DecodeRuneInString(text[i:])
		w = size

		// CJK sentence enders always break after the rune.
		if r == '。' || r == '！' || r == '？' {
			breaks = append(breaks, i+size)
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if r == '.' && (isDecimalDot(text, i) || isAbbreviationDot(text, i)) {
			continue
		}

		next := i + size
		if next >= len(text) {
			breaks = append(breaks, len(text))
			continue
		}
		nr, ns := utf8.DecodeRuneInString(text[next:])
		if nr == '\n' {
			breaks = append(breaks, next)
			continue
		}
		if nr == ' ' {
			after := next + ns
			if after >= len(text) {
				breaks = append(breaks, len(text))
				continue
			}
			ar, _ := utf8.DecodeRuneInString(text[after:])
			if unicode.IsUpper(ar) || unicode.Is(unicode.Han, ar) {
				breaks = append(breaks, after)
			}
		}
	}
	return breaks
}

// isDecimalDot reports whether the dot at pos sits between two digits
// (3.14, $1.50).
func isDecimalDot(text string, pos int) bool {
	if pos == 0 || pos+1 >= len(text) {
		return false
	}
	prev, next := text[pos-1], text[pos+1]
	return prev >= '0' && prev <= '9' && next >= '0' && next <= '9'
}

// isAbbreviationDot reports whether the word ending at the dot is a common
// abbreviation.
func isAbbreviationDot(text string, pos int) bool {
	start := pos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:pos])]
}
