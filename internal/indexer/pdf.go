// Package indexer turns the source manual into embedded, searchable chunks.
package indexer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/alqutdigital/finance-chat/pkg/logger"
)

// MinParagraphLen drops blocks that are this short or shorter (headers, page numbers).
const MinParagraphLen = 30

// Paragraph is a text block and the 1-based page it was found on.
type Paragraph struct {
	Text string `json:"text"`
	Page int    `json:"page"`
}

// Extractor reads paragraphs out of a PDF.
type Extractor struct {
	log *logger.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Default()
	}
	return &Extractor{log: log.WithComponent("pdf-extractor")}
}

// ExtractParagraphs opens pdfPath and returns its paragraphs in page order.
func (e *Extractor) ExtractParagraphs(ctx context.Context, pdfPath string) ([]Paragraph, error) {
	if !IsValidPDF(pdfPath) {
		return nil, fmt.Errorf("%s is not a PDF", pdfPath)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	e.log.Info("PDF opened", "path", pdfPath, "total_pages", total)

	// Pages are read sequentially; a fitz document is not safe for concurrent access.
	var paragraphs []Paragraph
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, err := doc.Text(i)
		if err != nil {
			e.log.WithError(err).Warn("failed to extract page text", "page", i+1)
			continue
		}
		paragraphs = append(paragraphs, SplitParagraphs(text, i+1)...)
	}

	e.log.Info("paragraphs extracted", "count", len(paragraphs))
	return paragraphs, nil
}

// SplitParagraphs splits one page of text on blank lines and keeps blocks
// longer than MinParagraphLen.
func SplitParagraphs(pageText string, page int) []Paragraph {
	var out []Paragraph
	for _, block := range strings.Split(cleanText(pageText), "\n\n") {
		block = strings.TrimSpace(block)
		if len(block) > MinParagraphLen {
			out = append(out, Paragraph{Text: block, Page: page})
		}
	}
	return out
}

var (
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reSpaces   = regexp.MustCompile(`[ \t]+`)
)

// cleanText normalises line endings and whitespace without merging paragraphs.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = reSpaces.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	return reNewlines.ReplaceAllString(text, "\n\n")
}

// IsValidPDF checks the file's magic number.
func IsValidPDF(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	header := make([]byte, 5)
	if _, err := file.Read(header); err != nil {
		return false
	}
	return string(header) == "%PDF-"
}
