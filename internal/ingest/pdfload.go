package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kpekel-labs/scholarag/internal/chunking"
)

// loadPages extracts per-page plain text from a PDF file, matching the
// teacher's page-by-page pdf.Reader walk.
func loadPages(ctx context.Context, path string) ([]chunking.Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open pdf: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("ingest: stat pdf: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("ingest: parse pdf: %w", err)
	}

	total := reader.NumPage()
	pages := make([]chunking.Page, 0, total)

	for pageNum := 1; pageNum <= total; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		pages = append(pages, chunking.Page{Number: pageNum, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("ingest: no extractable text in %s", path)
	}
	return pages, nil
}
