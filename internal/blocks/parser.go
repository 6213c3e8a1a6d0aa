// Package blocks discovers runnable shell blocks inside Markdown-like text.
//
// The scanner keeps a single open/closed fence state. Structural prefixes
// (indentation, block quotes, list markers) are stripped from every line
// before it is matched, so fences nested in quotes or lists are found and
// their content normalizes to the same text as an unnested block.
package blocks

import (
	"regexp"
	"strings"

	"shellbook/internal/identity"
)

// Block is a discovered runnable region.
type Block struct {
	StartLine   int    `json:"startLine"`   // 1-based line of the opening fence
	EndLine     int    `json:"endLine"`     // 1-based line of the closing fence
	StartOffset int    `json:"startOffset"` // byte offset of the opening fence line
	EndOffset   int    `json:"endOffset"`   // byte offset just past the closing fence line
	Language    string `json:"language,omitempty"`
	Content     string `json:"content"`
	ContentHash string `json:"contentHash"`
	Identity    string `json:"identity"`
}

// Contains reports whether a 1-based line falls inside the block, fences included.
func (b Block) Contains(line int) bool {
	return line >= b.StartLine && line <= b.EndLine
}

var (
	// openFence matches a run of at least three backticks, an optional tag
	// and optional trailing attributes.
	openFence = regexp.MustCompile("^(`{3,})[ \\t]*([^\\s`]*)(?:\\s[^`]*)?$")
	// closeFence matches a bare run of backticks.
	closeFence = regexp.MustCompile("^(`{3,})\\s*$")

	quotePrefix   = regexp.MustCompile(`^>+ ?`)
	bulletPrefix  = regexp.MustCompile(`^[-*+] `)
	orderedPrefix = regexp.MustCompile(`^[0-9]+[.)] `)

	// tagPattern is the grammar of a tag that may be runnable.
	tagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)
)

// runnableTags lists the fence tags executed by a POSIX shell.
var runnableTags = map[string]bool{
	"":     true,
	"sh":   true,
	"bash": true,
}

// Runnable reports whether a fence tag marks shell content.
func Runnable(tag string) bool {
	if !tagPattern.MatchString(tag) {
		return false
	}
	return runnableTags[strings.ToLower(tag)]
}

// StripPrefixes removes structural prefixes from a line until none apply.
func StripPrefixes(line string) string {
	for {
		before := line
		line = strings.TrimLeft(line, " \t")
		if loc := quotePrefix.FindStringIndex(line); loc != nil {
			line = line[loc[1]:]
		}
		if loc := bulletPrefix.FindStringIndex(line); loc != nil {
			line = line[loc[1]:]
		}
		if loc := orderedPrefix.FindStringIndex(line); loc != nil {
			line = line[loc[1]:]
		}
		if line == before {
			return line
		}
	}
}

// openState tracks the fence currently open, if any.
type openState struct {
	fenceLen    int
	tag         string
	startLine   int
	startOffset int
	lines       []string
}

// Discover returns every runnable block in text, in document order.
// Unterminated fences and blocks with non-shell tags are not returned.
func Discover(text string) []Block {
	var (
		found  []Block
		open   *openState
		offset int
	)

	lines := strings.SplitAfter(text, "\n")
	for i, raw := range lines {
		if raw == "" {
			continue
		}
		lineNo := i + 1
		lineStart := offset
		offset += len(raw)

		line := StripPrefixes(strings.TrimRight(raw, "\r\n"))

		if open == nil {
			if m := openFence.FindStringSubmatch(line); m != nil {
				open = &openState{
					fenceLen:    len(m[1]),
					tag:         m[2],
					startLine:   lineNo,
					startOffset: lineStart,
				}
			}
			continue
		}

		if m := closeFence.FindStringSubmatch(line); m != nil && len(m[1]) >= open.fenceLen {
			if Runnable(open.tag) {
				found = append(found, newBlock(open, lineNo, offset))
			}
			open = nil
			continue
		}

		open.lines = append(open.lines, strings.TrimRight(line, " \t"))
	}

	return found
}

// At returns the block of found whose line range contains line. found
// must be in document order, as Discover returns it.
func At(found []Block, line int) (Block, bool) {
	for _, b := range found {
		if b.Contains(line) {
			return b, true
		}
		if b.StartLine > line {
			break
		}
	}
	return Block{}, false
}

// After returns the first block of found that starts after line.
func After(found []Block, line int) (Block, bool) {
	for _, b := range found {
		if b.StartLine > line {
			return b, true
		}
	}
	return Block{}, false
}

// Identities returns the set of identities of found.
func Identities(found []Block) map[string]bool {
	set := make(map[string]bool, len(found))
	for _, b := range found {
		set[b.Identity] = true
	}
	return set
}

// Normalize joins content lines into the canonical form that is hashed:
// one "\n" between lines and a single trailing "\n".
func Normalize(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}

func newBlock(open *openState, endLine, endOffset int) Block {
	content := Normalize(open.lines)
	hash := identity.Of(content)
	return Block{
		StartLine:   open.startLine,
		EndLine:     endLine,
		StartOffset: open.startOffset,
		EndOffset:   endOffset,
		Language:    open.tag,
		Content:     content,
		ContentHash: hash,
		Identity:    hash,
	}
}
