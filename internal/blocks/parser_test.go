package blocks

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// segment is one generated piece of a document: prose or a fenced block.
type segment struct {
	Prose string
	Tag   string
	Lines []string
	Fence bool
}

func (s segment) render() string {
	if !s.Fence {
		return s.Prose + "\n"
	}
	var sb strings.Builder
	sb.WriteString("```" + s.Tag + "\n")
	for _, l := range s.Lines {
		sb.WriteString(l + "\n")
	}
	sb.WriteString("```\n")
	return sb.String()
}

// genSegment generates prose lines and fenced blocks with a mix of tags.
func genSegment() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.AlphaString(),
		gen.OneConstOf("", "sh", "bash", "BASH", "python", "json"),
		gen.SliceOf(gen.Identifier()),
	).Map(func(vals []interface{}) segment {
		return segment{
			Fence: vals[0].(bool),
			Prose: vals[1].(string),
			Tag:   vals[2].(string),
			Lines: vals[3].([]string),
		}
	})
}

func genDocument() gopter.Gen {
	return gen.SliceOf(genSegment()).Map(func(segs []segment) string {
		var sb strings.Builder
		for _, s := range segs {
			sb.WriteString(s.render())
		}
		return sb.String()
	})
}

// TestDiscoverOrdering_Property: blocks come back in increasing position
// order and never overlap.
func TestDiscoverOrdering_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("blocks are ordered and disjoint", prop.ForAll(
		func(doc string) bool {
			found := Discover(doc)
			for i, b := range found {
				if b.StartLine >= b.EndLine || b.StartOffset >= b.EndOffset {
					return false
				}
				if i > 0 {
					prev := found[i-1]
					if b.StartLine <= prev.EndLine || b.StartOffset < prev.EndOffset {
						return false
					}
				}
			}
			return true
		},
		genDocument(),
	))

	properties.Property("only shell tags are surfaced", prop.ForAll(
		func(doc string) bool {
			for _, b := range Discover(doc) {
				if !Runnable(b.Language) {
					return false
				}
			}
			return true
		},
		genDocument(),
	))

	properties.TestingRun(t)
}

// TestDiscoverDeterminism_Property: re-parsing unchanged text yields the
// same identities, and any content edit changes the identity.
func TestDiscoverDeterminism_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identities are stable across parses", prop.ForAll(
		func(doc string) bool {
			first := Discover(doc)
			second := Discover(doc)
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if first[i].Identity != second[i].Identity {
					return false
				}
				if first[i].Identity != first[i].ContentHash {
					return false
				}
			}
			return true
		},
		genDocument(),
	))

	properties.Property("editing one content byte changes the identity", prop.ForAll(
		func(lines []string, idx int) bool {
			if len(lines) == 0 {
				return true
			}
			original := segment{Fence: true, Tag: "sh", Lines: lines}.render()

			edited := append([]string(nil), lines...)
			target := idx % len(edited)
			repl := byte('a')
			if edited[target][0] == 'a' {
				repl = 'b'
			}
			edited[target] = string(repl) + edited[target][1:]
			changed := segment{Fence: true, Tag: "sh", Lines: edited}.render()

			a, b := Discover(original), Discover(changed)
			return len(a) == 1 && len(b) == 1 && a[0].Identity != b[0].Identity
		},
		gen.SliceOfN(3, gen.Identifier()),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestNestedPrefixes_Property: a block under quote/list prefixes yields the
// same content as the same block without them.
func TestNestedPrefixes_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	prefixes := []string{"> ", ">> ", "- ", "* ", "+ ", "1. ", "12) ", "  > - ", "> 3. ", "    "}

	properties.Property("prefix stripping preserves content", prop.ForAll(
		func(lines []string, which int) bool {
			prefix := prefixes[which%len(prefixes)]
			plain := segment{Fence: true, Tag: "bash", Lines: lines}.render()

			var sb strings.Builder
			for _, l := range strings.SplitAfter(plain, "\n") {
				if l == "" {
					continue
				}
				sb.WriteString(prefix + l)
			}

			a, b := Discover(plain), Discover(sb.String())
			if len(a) != 1 || len(b) != 1 {
				return false
			}
			return a[0].Content == b[0].Content && a[0].Identity == b[0].Identity
		},
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestDiscover_ContentNormalization(t *testing.T) {
	doc := "# Title\n\n```bash\necho hello   \n  ls -la\t\n```\n"
	found := Discover(doc)
	if len(found) != 1 {
		t.Fatalf("len(found) = %d, want 1", len(found))
	}
	b := found[0]
	if b.Content != "echo hello\nls -la\n" {
		t.Errorf("Content = %q", b.Content)
	}
	if b.StartLine != 3 || b.EndLine != 6 {
		t.Errorf("lines = %d..%d, want 3..6", b.StartLine, b.EndLine)
	}
	if b.Language != "bash" {
		t.Errorf("Language = %q, want bash", b.Language)
	}
	if doc[b.StartOffset:b.EndOffset] != "```bash\necho hello   \n  ls -la\t\n```\n" {
		t.Errorf("offsets select %q", doc[b.StartOffset:b.EndOffset])
	}
}

func TestDiscover_TrailingWhitespaceDoesNotChangeIdentity(t *testing.T) {
	a := Discover("```sh\necho hi\n```\n")
	b := Discover("```sh\necho hi    \n```\n")
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one block each, got %d and %d", len(a), len(b))
	}
	if a[0].Identity != b[0].Identity {
		t.Error("trailing whitespace changed identity")
	}
}

func TestDiscover_SkipsOtherLanguages(t *testing.T) {
	doc := "```python\nprint('```')\n```\n\n```sh\necho ok\n```\n"
	found := Discover(doc)
	if len(found) != 1 {
		t.Fatalf("len(found) = %d, want 1", len(found))
	}
	if found[0].Content != "echo ok\n" {
		t.Errorf("Content = %q, want %q", found[0].Content, "echo ok\n")
	}
}

func TestDiscover_LongerFenceNeedsLongerClose(t *testing.T) {
	doc := "````sh\necho a\n```\necho b\n````\n"
	found := Discover(doc)
	if len(found) != 1 {
		t.Fatalf("len(found) = %d, want 1", len(found))
	}
	if found[0].Content != "echo a\n```\necho b\n" {
		t.Errorf("Content = %q", found[0].Content)
	}
}

func TestDiscover_UnterminatedFenceIsIgnored(t *testing.T) {
	doc := "```sh\necho ok\n```\n\n```bash\necho never closed\n"
	found := Discover(doc)
	if len(found) != 1 {
		t.Fatalf("len(found) = %d, want 1", len(found))
	}
}

func TestDiscover_TagCaseAndAttributes(t *testing.T) {
	doc := "```Bash {name=setup}\necho one\n```\n```SH\necho two\n```\n```c++\necho three\n```\n"
	found := Discover(doc)
	if len(found) != 2 {
		t.Fatalf("len(found) = %d, want 2", len(found))
	}
	if found[0].Language != "Bash" || found[1].Language != "SH" {
		t.Errorf("languages = %q, %q", found[0].Language, found[1].Language)
	}
}

func TestDiscover_IdenticalBlocksShareIdentity(t *testing.T) {
	doc := "```sh\necho same\n```\ntext\n```bash\necho same\n```\n"
	found := Discover(doc)
	if len(found) != 2 {
		t.Fatalf("len(found) = %d, want 2", len(found))
	}
	if found[0].Identity != found[1].Identity {
		t.Error("identical content should collide in identity")
	}
}

func TestDiscover_NoTrailingNewline(t *testing.T) {
	found := Discover("```sh\necho x\n```")
	if len(found) != 1 {
		t.Fatalf("len(found) = %d, want 1", len(found))
	}
}

func TestAt(t *testing.T) {
	doc := "intro\n```sh\necho one\n```\nmiddle\n```sh\necho two\n```\n"
	tests := []struct {
		line    int
		want    string
		wantHit bool
	}{
		{1, "", false},
		{2, "echo one\n", true},
		{3, "echo one\n", true},
		{4, "echo one\n", true},
		{5, "", false},
		{7, "echo two\n", true},
		{9, "", false},
	}
	for _, tt := range tests {
		b, ok := At(Discover(doc), tt.line)
		if ok != tt.wantHit {
			t.Errorf("At(%d) hit = %v, want %v", tt.line, ok, tt.wantHit)
			continue
		}
		if ok && b.Content != tt.want {
			t.Errorf("At(%d) = %q, want %q", tt.line, b.Content, tt.want)
		}
	}
}

func TestAfter(t *testing.T) {
	found := Discover("```sh\necho one\n```\n```sh\necho two\n```\n")
	b, ok := After(found, 2)
	if !ok || b.Content != "echo two\n" {
		t.Errorf("After(2) = %q, %v", b.Content, ok)
	}
	if b, ok := After(found, 0); !ok || b.Content != "echo one\n" {
		t.Errorf("After(0) = %q, %v", b.Content, ok)
	}
	if _, ok := After(found, 6); ok {
		t.Error("After(6) should find nothing")
	}
}

func TestIdentities(t *testing.T) {
	found := Discover("```sh\necho a\n```\n```sh\necho a\n```\n```sh\necho b\n```\n")
	set := Identities(found)
	if len(set) != 2 {
		t.Fatalf("len(Identities) = %d, want 2", len(set))
	}
	for _, b := range found {
		if !set[b.Identity] {
			t.Errorf("identity of %q missing", b.Content)
		}
	}
	if len(Identities(nil)) != 0 {
		t.Error("no blocks should give an empty set")
	}
}

func TestStripPrefixes(t *testing.T) {
	tests := map[string]string{
		"> ```sh":       "```sh",
		">>```":         "```",
		"- ```bash":     "```bash",
		"  * > 2. echo": "echo",
		"10) cd /tmp":   "cd /tmp",
		"-notalist":     "-notalist",
		"echo 1. done":  "echo 1. done",
		"\t\t```":       "```",
	}
	for in, want := range tests {
		if got := StripPrefixes(in); got != want {
			t.Errorf("StripPrefixes(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCache(t *testing.T) {
	c, err := NewCache(2)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	doc := "```sh\necho cached\n```\n"
	first := c.Discover(doc)
	first[0].Content = "mutated"
	second := c.Discover(doc)
	if second[0].Content != "echo cached\n" {
		t.Errorf("cache returned shared slice: %q", second[0].Content)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if _, ok := At(c.Discover(doc), 2); !ok {
		t.Error("At(2) should hit")
	}
}
