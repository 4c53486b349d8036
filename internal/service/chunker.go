package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// tokenEncoding is a lazily-initialised, process-wide cl100k_base encoder
// used to count tokens exactly rather than approximate by word count — the
// teacher's words×1.3 heuristic is kept only as a fallback if the encoding
// table fails to load (see estimateTokens).
var (
	tokenEncodingOnce sync.Once
	tokenEncoding     *tiktoken.Tiktoken
)

func getTokenEncoding() *tiktoken.Tiktoken {
	tokenEncodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenEncoding = enc
		}
	})
	return tokenEncoding
}

// ChunkerService splits normalised document text into overlapping chunks
// using the size-adaptive policy of spec.md §4.2, generalising the
// teacher's single fixed-size ChunkerService.
type ChunkerService struct {
	overlapTokens int // default 400, tunable via CHUNK_OVERLAP
	hierarchical  bool
}

// NewChunkerService creates a ChunkerService. overlapTokens <= 0 falls back
// to the spec default of 400.
func NewChunkerService(overlapTokens int, hierarchical bool) *ChunkerService {
	if overlapTokens <= 0 {
		overlapTokens = 400
	}
	return &ChunkerService{overlapTokens: overlapTokens, hierarchical: hierarchical}
}

// ChunkResult is one produced chunk before persistence assigns IDs and
// adjacency links.
type ChunkResult struct {
	Content          string
	TokenCount       int
	SectionHierarchy []string
	HeadingContext   string
	DocumentPosition float64
	Level            model.ChunkLevel
	ParentIndex      *int // index into the sibling ChunkResult slice, same level group
}

// targetTokens returns the target chunk size for a flat (non-hierarchical)
// chunk given the document's total word count, per spec.md §4.2's table.
func targetTokens(wordCount int) int {
	switch model.ClassifySize(wordCount) {
	case model.SizeVerySmall:
		return 4000
	case model.SizeSmall:
		return 1500
	case model.SizeMedium:
		return 800
	default:
		return 512
	}
}

// Chunk splits text into chunks according to the adaptive size policy.
// wordCount is the whole document's word count (drives the size band).
// No heading annotations are passed in; headings are detected from markdown
// "#" lines in the text itself.
func (s *ChunkerService) Chunk(ctx context.Context, text string, wordCount int) ([]ChunkResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("service.Chunk: text is empty")
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, fmt.Errorf("service.Chunk: no content after splitting")
	}

	if s.hierarchical {
		return s.chunkHierarchical(paragraphs, len(text))
	}
	return s.chunkFlat(paragraphs, targetTokens(wordCount), len(text))
}

func (s *ChunkerService) chunkFlat(paragraphs []string, target int, totalLen int) ([]ChunkResult, error) {
	segments := buildSegments(paragraphs, target)
	segments = applyOverlap(segments, s.overlapTokens)

	chunks := make([]ChunkResult, 0, len(segments))
	offset := 0
	for _, seg := range segments {
		content := strings.TrimSpace(seg.content)
		if content == "" {
			continue
		}
		pos := positionOf(offset, totalLen)
		offset += len(seg.content)

		chunks = append(chunks, ChunkResult{
			Content:          content,
			TokenCount:       estimateTokens(content),
			SectionHierarchy: seg.sectionPath,
			HeadingContext:   headingContextOf(seg.sectionPath),
			DocumentPosition: pos,
			Level:            model.ChunkLevelFlat,
		})
	}
	return chunks, nil
}

// chunkHierarchical builds ~2000-token parents, then splits each into
// ~600-token children carrying a ParentIndex back to their parent's
// position in the returned slice (spec.md §4.2 optional hierarchical mode).
func (s *ChunkerService) chunkHierarchical(paragraphs []string, totalLen int) ([]ChunkResult, error) {
	parentSegments := buildSegments(paragraphs, 2000)

	var out []ChunkResult
	offset := 0
	for _, pseg := range parentSegments {
		parentContent := strings.TrimSpace(pseg.content)
		if parentContent == "" {
			continue
		}
		parentPos := positionOf(offset, totalLen)
		offset += len(pseg.content)

		parentIdx := len(out)
		out = append(out, ChunkResult{
			Content:          parentContent,
			TokenCount:       estimateTokens(parentContent),
			SectionHierarchy: pseg.sectionPath,
			HeadingContext:   headingContextOf(pseg.sectionPath),
			DocumentPosition: parentPos,
			Level:            model.ChunkLevelParent,
		})

		childParas := splitParagraphs(parentContent)
		childSegments := buildSegments(childParas, 600)
		childOffset := offset - len(pseg.content)
		for _, cseg := range childSegments {
			childContent := strings.TrimSpace(cseg.content)
			if childContent == "" {
				continue
			}
			childPos := positionOf(childOffset, totalLen)
			childOffset += len(cseg.content)
			pIdx := parentIdx
			out = append(out, ChunkResult{
				Content:          childContent,
				TokenCount:       estimateTokens(childContent),
				SectionHierarchy: pseg.sectionPath,
				HeadingContext:   headingContextOf(pseg.sectionPath),
				DocumentPosition: childPos,
				Level:            model.ChunkLevelChild,
				ParentIndex:      &pIdx,
			})
		}
	}
	return out, nil
}

func positionOf(offset, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(1, float64(offset)/float64(total))
}

func headingContextOf(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

type segment struct {
	content     string
	sectionPath []string
}

// buildSegments merges small paragraphs and splits large ones to fit the
// target token count, tracking an ordered heading path as it goes.
func buildSegments(paragraphs []string, target int) []segment {
	var segments []segment
	var current strings.Builder
	var path []string

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, segment{content: current.String(), sectionPath: append([]string{}, path...)})
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if level, title := extractHeading(para); title != "" {
			path = pushHeading(path, level, title)
		}

		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(current.String())

		if currentTokens > 0 && currentTokens+paraTokens > target {
			flush()
		}

		if paraTokens > target {
			flush()
			for _, sub := range splitLargeParagraph(para, target) {
				segments = append(segments, segment{content: sub, sectionPath: append([]string{}, path...)})
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return segments
}

// pushHeading maintains an ordered root-to-here heading path, truncating
// deeper levels when a shallower heading is seen again.
func pushHeading(path []string, level int, title string) []string {
	if level <= 0 || level > len(path)+1 {
		level = len(path) + 1
	}
	next := append([]string{}, path[:min(level-1, len(path))]...)
	return append(next, title)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func applyOverlap(segments []segment, overlapTokens int) []segment {
	if len(segments) <= 1 {
		return segments
	}

	result := make([]segment, len(segments))
	result[0] = segments[0]

	for i := 1; i < len(segments); i++ {
		prevContent := segments[i-1].content
		overlapWords := int(math.Ceil(float64(overlapTokens) / 1.3))
		tail := lastNWords(prevContent, overlapWords)

		if tail != "" {
			result[i] = segment{content: tail + "\n\n" + segments[i].content, sectionPath: segments[i].sectionPath}
		} else {
			result[i] = segments[i]
		}
	}

	return result
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var result []string
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func splitLargeParagraph(para string, target int) []string {
	sentences := splitSentences(para)
	var chunks []string
	var current strings.Builder

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)
		currentTokens := estimateTokens(current.String())

		if currentTokens > 0 && currentTokens+sentTokens > target {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	if len(chunks) == 0 && len(para) > 0 {
		chunks = splitByWords(para, target)
	}

	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	current := strings.Builder{}

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}

func splitByWords(text string, target int) []string {
	words := strings.Fields(text)
	wordsPerChunk := int(float64(target) / 1.3)
	if wordsPerChunk <= 0 {
		wordsPerChunk = 1
	}

	var chunks []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// extractHeading detects markdown-style headers (# Title, ## Section, ...)
// and returns their nesting level (1-based) and title text.
func extractHeading(para string) (int, string) {
	trimmed := strings.TrimSpace(para)
	if !strings.HasPrefix(trimmed, "#") {
		return 0, ""
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	title := strings.TrimSpace(trimmed[level:])
	return level, title
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := getTokenEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

func lastNWords(text string, n int) string {
	words := strings.Fields(text)
	if n >= len(words) {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}
