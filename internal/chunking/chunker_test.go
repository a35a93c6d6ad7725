package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpekel-labs/scholarag/pkg/ragdoc"
)

func TestChunk_NoSections_FallsBackToLengthBounded(t *testing.T) {
	pages := []Page{{Number: 1, Text: strings.Repeat("word ", 400)}}
	chunks := Chunk(pages, "paper.pdf", ragdoc.PaperMetadata{PaperID: "paper"}, DefaultConfig())

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, ragdoc.ChunkTypeContent, c.ChunkType)
		assert.Equal(t, "", c.Section)
		assert.Equal(t, 1, c.Page)
	}
}

func TestChunk_WithSections_ShortSectionIsSingleChunk(t *testing.T) {
	text := "Abstract\nA short abstract.\nIntroduction\nA short introduction.\nConclusion\nThe end.\n"
	pages := []Page{{Number: 1, Text: text}}
	chunks := Chunk(pages, "paper.pdf", ragdoc.PaperMetadata{PaperID: "paper"}, DefaultConfig())

	var sectionChunks int
	for _, c := range chunks {
		if c.ChunkType == ragdoc.ChunkTypeSectionContent {
			sectionChunks++
			assert.NotEmpty(t, c.Section)
			assert.Contains(t, c.Text, "[Section: ")
		}
	}
	assert.Equal(t, 3, sectionChunks)
}

func TestChunk_LongSectionSplitsIntoMultiple(t *testing.T) {
	longBody := strings.Repeat("a sentence about methodology. ", 100) // well over 1200 chars
	text := "Methodology\n" + longBody + "\nConclusion\nshort.\n"
	pages := []Page{{Number: 1, Text: text}}
	chunks := Chunk(pages, "paper.pdf", ragdoc.PaperMetadata{PaperID: "paper"}, DefaultConfig())

	var methodologyChunks int
	for _, c := range chunks {
		if c.Section == "Methodology" {
			methodologyChunks++
			assert.Contains(t, c.Text, "[Section: Methodology]")
		}
	}
	assert.GreaterOrEqual(t, methodologyChunks, 2)
}

func TestChunk_FigureAndTableCaptions(t *testing.T) {
	text := "Introduction\nSome text.\nFigure 1. An architecture diagram.\nTable 1: Benchmark results.\n"
	pages := []Page{{Number: 1, Text: text}}
	chunks := Chunk(pages, "paper.pdf", ragdoc.PaperMetadata{PaperID: "paper"}, DefaultConfig())

	var figures, tables int
	for _, c := range chunks {
		switch c.ChunkType {
		case ragdoc.ChunkTypeFigure:
			figures++
			assert.Equal(t, "Figures/Tables", c.Section)
		case ragdoc.ChunkTypeTable:
			tables++
		}
	}
	assert.Equal(t, 1, figures)
	assert.Equal(t, 1, tables)
}

func TestChunk_MetadataMirrorsText(t *testing.T) {
	pages := []Page{{Number: 1, Text: "Introduction\nSome content here.\n"}}
	chunks := Chunk(pages, "paper.pdf", ragdoc.PaperMetadata{PaperID: "paper"}, DefaultConfig())
	for _, c := range chunks {
		md := c.Metadata()
		assert.Equal(t, c.Text, md["text"])
		assert.Equal(t, c.Text, md["text_content"])
	}
}
