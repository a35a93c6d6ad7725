// Package chunking implements the hierarchical, section-aware chunker
// (C2): it turns a document's pages plus the structural analysis from C1
// into an ordered list of chunks ready for embedding and indexing.
//
// The splitting technique — walking backwards through already-consumed
// text to build an overlap buffer of a target size — generalizes the
// line-accumulation approach used for source-code chunking into a
// plain-text, character-counted variant suitable for prose.
package chunking

import (
	"fmt"
	"strings"

	"github.com/kpekel-labs/scholarag/internal/structural"
	"github.com/kpekel-labs/scholarag/pkg/ragdoc"
)

// Page is one page of extracted PDF text.
type Page struct {
	Number int // 1-based page number
	Text   string
}

// Chunk splits a document's pages into ragdoc.Chunk values, attaching the
// paper metadata, citations, and figures/tables detected over the whole
// document text.
func Chunk(pages []Page, source string, paper ragdoc.PaperMetadata, cfg Config) []ragdoc.Chunk {
	cfg.SetDefaults()

	fullText, lineToPage := concatenate(pages)
	sections := structural.DetectSections(fullText)
	citations := structural.ExtractCitations(fullText)
	figuresTables := toRagdocFiguresTables(structural.ExtractFiguresTables(fullText))

	var chunks []ragdoc.Chunk
	globalIndex := 0

	if len(sections) == 0 {
		for _, page := range pages {
			pieces := splitText(page.Text, cfg.ChunkSizeDefault, cfg.ChunkOverlapDefault)
			for _, piece := range pieces {
				chunks = append(chunks, ragdoc.Chunk{
					ID:            ragdoc.ChunkID(source, page.Number, globalIndex),
					Text:          piece,
					Source:        source,
					Page:          page.Number,
					ChunkType:     ragdoc.ChunkTypeContent,
					Citations:     citations,
					FiguresTables: figuresTables,
					Paper:         paper,
				})
				globalIndex++
			}
		}
	} else {
		lines := strings.Split(fullText, "\n")
		for i, sec := range sections {
			start := sec.Line
			end := len(lines)
			if i+1 < len(sections) {
				end = sections[i+1].Line
			}
			if start >= end {
				continue
			}
			body := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
			page := pageForLine(lineToPage, start)

			if len(body) <= cfg.SectionSplitThreshold {
				chunks = append(chunks, ragdoc.Chunk{
					ID:            ragdoc.ChunkID(source, page, globalIndex),
					Text:          sectionPrefix(sec.Name) + body,
					Source:        source,
					Page:          page,
					Section:       sec.Name,
					ChunkType:     ragdoc.ChunkTypeSectionContent,
					Citations:     citations,
					FiguresTables: figuresTables,
					Paper:         paper,
				})
				globalIndex++
			} else {
				for _, piece := range splitText(body, cfg.SectionSplitSize, cfg.SectionSplitOverlap) {
					chunks = append(chunks, ragdoc.Chunk{
						ID:            ragdoc.ChunkID(source, page, globalIndex),
						Text:          sectionPrefix(sec.Name) + piece,
						Source:        source,
						Page:          page,
						Section:       sec.Name,
						ChunkType:     ragdoc.ChunkTypeSectionContent,
						Citations:     citations,
						FiguresTables: figuresTables,
						Paper:         paper,
					})
					globalIndex++
				}
			}
		}
	}

	for _, ft := range structural.ExtractFiguresTables(fullText) {
		chunkType := ragdoc.ChunkTypeFigure
		if ft.Type == "table" {
			chunkType = ragdoc.ChunkTypeTable
		}
		page := pages[0].Number
		if len(pages) > 0 {
			page = pages[len(pages)/2].Number // best-effort: attribution by line isn't tracked per-caption
		}
		chunks = append(chunks, ragdoc.Chunk{
			ID:            ragdoc.ChunkID(source, page, globalIndex),
			Text:          fmt.Sprintf("[Figure|Table: %s] %s", ft.Label, ft.Caption),
			Source:        source,
			Page:          page,
			Section:       "Figures/Tables",
			ChunkType:     chunkType,
			FigureLabel:   ft.Label,
			Citations:     citations,
			FiguresTables: figuresTables,
			Paper:         paper,
		})
		globalIndex++
	}

	return chunks
}

func sectionPrefix(name string) string {
	return fmt.Sprintf("[Section: %s]\n", name)
}

func toRagdocFiguresTables(in []structural.FigureTable) []ragdoc.FigureTable {
	out := make([]ragdoc.FigureTable, 0, len(in))
	for _, ft := range in {
		out = append(out, ragdoc.FigureTable{Type: ft.Type, Label: ft.Label, Caption: ft.Caption})
	}
	return out
}

// concatenate joins page texts with newlines into one full-document
// string, and returns a parallel slice mapping each resulting line index
// to the page number it originated from, so that a detected section's
// start line can be attributed to a page.
func concatenate(pages []Page) (string, []int) {
	var sb strings.Builder
	var lineToPage []int
	for i, page := range pages {
		if i > 0 {
			sb.WriteString("\n")
		}
		lines := strings.Split(page.Text, "\n")
		for j, l := range lines {
			sb.WriteString(l)
			if j < len(lines)-1 {
				sb.WriteString("\n")
			}
			lineToPage = append(lineToPage, page.Number)
		}
	}
	return sb.String(), lineToPage
}

func pageForLine(lineToPage []int, line int) int {
	if line < 0 {
		line = 0
	}
	if line >= len(lineToPage) {
		if len(lineToPage) == 0 {
			return 1
		}
		return lineToPage[len(lineToPage)-1]
	}
	return lineToPage[line]
}

// splitText performs length-bounded splitting with a backward overlap
// walk: once a target-sized piece is emitted, the next piece begins by
// walking back through the just-consumed text until at least `overlap`
// characters have been reclaimed, then continues forward.
func splitText(text string, size, overlap int) []string {
	if text == "" {
		return []string{""}
	}
	if len(text) <= size {
		return []string{text}
	}

	var pieces []string
	pos := 0
	for pos < len(text) {
		end := pos + size
		if end > len(text) {
			end = len(text)
		}
		piece := text[pos:end]
		pieces = append(pieces, piece)
		if end >= len(text) {
			break
		}
		next := end - overlap
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}
	return pieces
}
