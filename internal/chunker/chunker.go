// Package chunker splits parsed document text into sentence-aligned nodes of
// bounded size, carrying a configurable overlap between consecutive nodes.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/54b3r/docrag/internal/rag"
)

// DefaultChunkSize is the default maximum number of characters per node.
const DefaultChunkSize = 1024

// DefaultChunkOverlap is the default number of characters carried over from
// the end of one node into the start of the next.
const DefaultChunkOverlap = 200

// Chunker splits text into nodes. Sizes are measured in characters (runes).
type Chunker struct {
	chunkSize int
	overlap   int
	newID     func() string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum node size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive nodes in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithIDFunc replaces the node ID generator. Tests use it for stable IDs.
func WithIDFunc(f func() string) Option {
	return func(c *Chunker) {
		if f != nil {
			c.newID = f
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Overlap must leave room for new text in every node.
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split cuts text into nodes attributed to docName. Sentences are kept whole
// where they fit; a sentence longer than the chunk size is cut into windows.
// Empty or whitespace-only text yields no nodes.
func (c *Chunker) Split(docName, text string) []rag.Node {
	pieces := c.pieces(splitSentences(text))
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	var cur []string
	curLen := 0
	for _, p := range pieces {
		l := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+1+l > c.chunkSize {
			chunks = append(chunks, strings.Join(cur, " "))
			cur, curLen = c.tail(cur)
			if curLen > 0 && curLen+1+l > c.chunkSize {
				cur, curLen = nil, 0
			}
		}
		if curLen > 0 {
			curLen++
		}
		cur = append(cur, p)
		curLen += l
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}

	nodes := make([]rag.Node, len(chunks))
	for i, t := range chunks {
		nodes[i] = rag.Node{ID: c.newID(), DocName: docName, Index: i, Text: t}
	}
	return nodes
}

// tail returns the trailing sentences of cur whose joined length fits the
// overlap. It never returns all of cur.
func (c *Chunker) tail(cur []string) ([]string, int) {
	n, total := 0, 0
	for i := len(cur) - 1; i > 0; i-- {
		l := utf8.RuneCountInString(cur[i])
		add := l
		if n > 0 {
			add++
		}
		if total+add > c.overlap {
			break
		}
		total += add
		n++
	}
	if n == 0 {
		return nil, 0
	}
	out := make([]string, n)
	copy(out, cur[len(cur)-n:])
	return out, total
}

// pieces cuts any sentence longer than the chunk size into overlapping
// windows so every piece fits in a node on its own.
func (c *Chunker) pieces(sentences []string) []string {
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		r := []rune(s)
		if len(r) <= c.chunkSize {
			out = append(out, s)
			continue
		}
		step := c.chunkSize - c.overlap
		for start := 0; start < len(r); start += step {
			end := min(start+c.chunkSize, len(r))
			if w := strings.TrimSpace(string(r[start:end])); w != "" {
				out = append(out, w)
			}
			if end == len(r) {
				break
			}
		}
	}
	return out
}

// splitSentences breaks text after terminal punctuation followed by
// whitespace, and at blank lines. Whitespace inside a sentence is collapsed.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	emit := func(end int) {
		if s := strings.Join(strings.Fields(string(runes[start:end])), " "); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range runes {
		switch r {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				emit(i + 1)
			}
		case '\n':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				emit(i + 1)
			}
		}
	}
	emit(len(runes))
	return out
}
