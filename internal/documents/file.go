package documents

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxFileSize matches the backend's multipart limit.
const MaxFileSize = 10 << 20

var (
	// ErrNoFile is returned by Upload when no file was selected.
	ErrNoFile = errors.New("no file selected")

	ErrUnsupportedType = errors.New("only .pdf and .txt files are supported")
	ErrTooLarge        = errors.New("file is larger than 10 MB")
	ErrEmptyFile       = errors.New("file is empty")
	ErrUnreadablePDF   = errors.New("file is not a readable PDF")
)

// File is a document selected for upload.
type File struct {
	Name string
	Data []byte
}

// NewFile validates name and data the way the upload form does.
func NewFile(name string, data []byte) (*File, error) {
	name = filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".pdf" && ext != ".txt" {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyFile)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%s: %w", name, ErrTooLarge)
	}
	if ext == ".pdf" {
		if err := checkPDF(data); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return &File{Name: name, Data: data}, nil
}

// OpenFile reads and validates a file from disk. Oversized files are
// rejected before they are read.
func OpenFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrTooLarge)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFile(path, data)
}

// checkPDF requires at least one page. The parser panics on some malformed
// input, so that is reported as unreadable too.
func checkPDF(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnreadablePDF, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	if r.NumPage() < 1 {
		return fmt.Errorf("%w: no pages", ErrUnreadablePDF)
	}
	return nil
}
