package stubserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxUploadSize is the largest accepted document.
const MaxUploadSize = 10 << 20

type chatRequest struct {
	DocumentID string `json:"documentId"`
	Query      string `json:"query"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), userID(r.Context()))
	if err != nil {
		s.logger.Error("listing documents", zap.Error(err))
		http.Error(w, "Failed to retrieve documents.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(docs)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		http.Error(w, "File is too large.", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		http.Error(w, "Invalid file key 'document'.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > MaxUploadSize {
		http.Error(w, "File is too large.", http.StatusBadRequest)
		return
	}
	name := filepath.Base(header.Filename)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt":
	default:
		http.Error(w, "Only .pdf and .txt files are supported.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Could not read file.", http.StatusInternalServerError)
		return
	}

	text, err := extractText(name, data)
	if err != nil {
		s.logger.Warn("text extraction failed", zap.String("file", name), zap.Error(err))
		http.Error(w, "File uploaded, but failed to extract text content.", http.StatusInternalServerError)
		return
	}
	chunks := chunkText(text)

	doc, err := s.store.SaveDocument(r.Context(), Document{
		UserID:    uid,
		FileName:  name,
		SizeBytes: len(data),
		CharCount: utf8.RuneCountInString(text),
	}, chunks)
	if err != nil {
		s.logger.Error("saving document", zap.Error(err))
		http.Error(w, "Failed to save document metadata.", http.StatusInternalServerError)
		return
	}
	s.logger.Info("document stored",
		zap.String("id", doc.ID),
		zap.String("file", name),
		zap.Int("chunks", len(chunks)),
	)

	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, "File uploaded and processed successfully!")
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Document ID is required.", http.StatusBadRequest)
		return
	}
	err := s.store.DeleteDocument(r.Context(), userID(r.Context()), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Document not found or you do not have permission to delete it.", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("deleting document", zap.String("id", id), zap.Error(err))
		http.Error(w, "Failed to delete document metadata.", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Document deleted successfully.")
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		http.Error(w, "Document ID is required.", http.StatusBadRequest)
		return
	}

	doc, err := s.store.GetDocument(r.Context(), uid, req.DocumentID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Document not found.", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("loading document", zap.Error(err))
		http.Error(w, "Failed to generate AI insight.", http.StatusInternalServerError)
		return
	}
	chunks, err := s.store.Chunks(r.Context(), doc.ID)
	if err != nil {
		s.logger.Error("loading chunks", zap.Error(err))
		http.Error(w, "Failed to generate AI insight.", http.StatusInternalServerError)
		return
	}

	reply := cannedAnswer(doc, chunks, req.Query)
	if err := s.store.SaveExchange(r.Context(), uid, doc.ID, req.Query, reply); err != nil {
		s.logger.Warn("saving chat history", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"response": reply})
}

// cannedAnswer describes the document and quotes the first section that
// mentions a word from the query. No analysis happens here.
func cannedAnswer(doc Document, chunks []string, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s contains %d characters in %d section(s).", doc.FileName, doc.CharCount, len(chunks))

	if excerpt := findExcerpt(chunks, query); excerpt != "" {
		fmt.Fprintf(&b, "\n\nRelevant passage:\n> %s", excerpt)
	}
	return b.String()
}

func findExcerpt(chunks []string, query string) string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, c := range chunks {
		lower := strings.ToLower(c)
		for _, w := range words {
			if utf8.RuneCountInString(w) < 4 {
				continue
			}
			if i := strings.Index(lower, w); i >= 0 {
				return excerptAround(c, i)
			}
		}
	}
	return ""
}

func excerptAround(text string, byteIdx int) string {
	const radius = 100
	byteIdx = min(byteIdx, len(text))
	start := max(byteIdx-radius, 0)
	end := min(byteIdx+radius, len(text))
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return strings.Join(strings.Fields(text[start:end]), " ")
}
