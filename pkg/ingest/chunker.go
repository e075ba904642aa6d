package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/types"
)

// chunkNamespace seeds deterministic chunk ids. The id of a chunk is a
// function of (document id, chunk index, content hash), so re-running an
// interrupted ingest produces the same rows instead of duplicates.
var chunkNamespace = uuid.MustParse("8f8e7c6a-2b1d-4e3f-9a5c-d4b6e8f0a1c2")

// Chunker splits extracted text into embedding-sized pieces. Splits land on
// sentence boundaries; consecutive chunks share a configurable overlap so
// retrieval never loses context at a cut.
type Chunker struct {
	targetTokens  int
	overlapTokens int
}

// NewChunker creates a chunker. Non-positive arguments fall back to
// defaults that suit common embedding models.
func NewChunker(targetTokens, overlapTokens int) *Chunker {
	if targetTokens <= 0 {
		targetTokens = 512
	}
	if overlapTokens < 0 || overlapTokens >= targetTokens {
		overlapTokens = targetTokens / 8
	}
	return &Chunker{targetTokens: targetTokens, overlapTokens: overlapTokens}
}

// Chunk splits an extraction into chunks for doc. Chunk indexes are
// monotonic across sections; the first chunk carries the document's
// extracted images. Embeddings are left empty for the caller to fill.
func (c *Chunker) Chunk(doc *types.Document, ex *Extraction, modelID string) []*types.Chunk {
	var chunks []*types.Chunk
	for _, section := range ex.Sections {
		for _, content := range c.split(section.Text) {
			if section.Heading != "" {
				content = section.Heading + "\n\n" + content
			}
			hash := hashString(content)
			index := len(chunks)
			chunk := &types.Chunk{
				ID:          chunkID(doc.ID, index, hash),
				DocumentID:  doc.ID,
				OrgID:       doc.OrgID,
				DomainID:    doc.DomainID,
				Index:       index,
				Content:     content,
				ContentHash: hash,
				ModelID:     modelID,
				TokenCount:  estimateTokens(content),
				Metadata: types.ChunkMetadata{
					Page:    section.Page,
					Heading: section.Heading,
					Anchor:  headingAnchor(section.Heading),
					Steps:   extractSteps(content),
				},
			}
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) > 0 && len(ex.Images) > 0 {
		chunks[0].Metadata.Images = ex.Images
	}
	return chunks
}

// split breaks text into pieces of roughly targetTokens, carrying
// overlapTokens of trailing sentences into the next piece.
func (c *Chunker) split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if estimateTokens(text) <= c.targetTokens {
		return []string{text}
	}

	sentences := splitSentences(text)
	var (
		out     []string
		current []string
		tokens  int
	)
	flush := func() {
		piece := strings.TrimSpace(strings.Join(current, ""))
		if piece != "" {
			out = append(out, piece)
		}
		current, tokens = c.carryOverlap(current)
	}
	for _, sentence := range sentences {
		n := estimateTokens(sentence)
		if n > c.targetTokens {
			// A single run-on sentence larger than a whole chunk; cut it
			// on rune boundaries.
			if len(current) > 0 {
				flush()
				current, tokens = nil, 0
			}
			out = append(out, hardSplit(sentence, c.targetTokens)...)
			continue
		}
		if tokens+n > c.targetTokens && len(current) > 0 {
			flush()
		}
		current = append(current, sentence)
		tokens += n
	}
	if piece := strings.TrimSpace(strings.Join(current, "")); piece != "" {
		out = append(out, piece)
	}
	return out
}

// carryOverlap returns the trailing sentences of an emitted chunk that seed
// the next one, at most half the chunk so overlap never dominates.
func (c *Chunker) carryOverlap(sentences []string) ([]string, int) {
	if c.overlapTokens <= 0 || len(sentences) == 0 {
		return nil, 0
	}
	var (
		carried []string
		tokens  int
	)
	for i := len(sentences) - 1; i >= 0 && len(carried) < len(sentences)/2+1; i-- {
		n := estimateTokens(sentences[i])
		if tokens+n > c.overlapTokens && len(carried) > 0 {
			break
		}
		carried = append([]string{sentences[i]}, carried...)
		tokens += n
		if tokens >= c.overlapTokens {
			break
		}
	}
	if len(carried) == len(sentences) {
		return nil, 0
	}
	return carried, tokens
}

// splitSentences cuts text after sentence-ending punctuation followed by
// whitespace, and at line breaks. Each piece keeps its trailing whitespace
// so joining pieces reproduces the original layout.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		boundary := r == '\n' ||
			((r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])))
		if !boundary {
			continue
		}
		// Absorb the whitespace run into this sentence.
		end := i + 1
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		out = append(out, string(runes[start:end]))
		start = end
		i = end - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// hardSplit cuts an oversized sentence into rune windows of about
// targetTokens each.
func hardSplit(sentence string, targetTokens int) []string {
	runes := []rune(sentence)
	window := targetTokens * charsPerToken
	var out []string
	for start := 0; start < len(runes); start += window {
		end := min(start+window, len(runes))
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// charsPerToken is the usual rough ratio for English text and code.
const charsPerToken = 4

func estimateTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

var stepRe = regexp.MustCompile(`^\s*(?:\d{1,3}[.)]|[-*•])\s+(.+?)\s*$`)

// maxSteps bounds how much procedure text a chunk's metadata repeats.
const maxSteps = 15

// extractSteps pulls ordered or bulleted step lists out of chunk content.
// A lone bullet is prose, not a procedure; two or more items count.
func extractSteps(content string) []string {
	var steps []string
	for _, line := range strings.Split(content, "\n") {
		if m := stepRe.FindStringSubmatch(line); m != nil {
			steps = append(steps, m[1])
			if len(steps) == maxSteps {
				break
			}
		}
	}
	if len(steps) < 2 {
		return nil
	}
	return steps
}

// headingAnchor renders a heading the way documentation sites slug them,
// so citations can deep-link into the source page.
func headingAnchor(heading string) string {
	if heading == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToLower(heading) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func chunkID(documentID uuid.UUID, index int, contentHash string) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%d/%s", documentID, index, contentHash)))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
