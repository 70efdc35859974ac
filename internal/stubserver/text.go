package stubserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	chunkSize    = 1500
	chunkOverlap = 200
)

var errUnsupportedType = errors.New("unsupported file type")

// extractText returns the plain text of a .txt or .pdf upload.
func extractText(name string, data []byte) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".txt":
		return string(data), nil
	case ".pdf":
		return pdfText(data)
	default:
		return "", fmt.Errorf("%w: %s", errUnsupportedType, ext)
	}
}

func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}
	if r.NumPage() < 1 {
		return "", fmt.Errorf("reading pdf: no pages")
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return string(b), nil
}

// chunkText splits text into windows of chunkSize runes, each overlapping
// the previous by chunkOverlap runes.
func chunkText(text string) []string {
	runes := []rune(text)
	if len(runes) <= chunkSize {
		if len(runes) == 0 {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for start := 0; start < len(runes); start += step {
		end := min(start+chunkSize, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
