package stub

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/capitalize-ai/docchat/internal/model"
)

// cannedDoc is one synthetic document with per-page text.
type cannedDoc struct {
	meta  model.PDFMetadata
	pages []string
}

// DocLibrary serves a canned set of documents so the full PDF surface
// works against the stub. Uploads are registered with synthesized
// pages; no files are written.
type DocLibrary struct {
	mu   sync.RWMutex
	docs map[string]*cannedDoc
}

// NewDocLibrary creates a library seeded with the built-in documents.
func NewDocLibrary() *DocLibrary {
	lib := &DocLibrary{docs: make(map[string]*cannedDoc)}
	for _, doc := range builtinDocs() {
		lib.docs[doc.meta.Filename] = doc
	}
	return lib
}

func builtinDocs() []*cannedDoc {
	manual := newCannedDoc("product-manual.pdf", "Product Manual", 24, 482133, map[int]string{
		1: "Product Manual. Model DCX-400 Document Camera. This manual describes" +
			" installation, operation, and care of the DCX-400. Read the safety" +
			" section before first use.",
		12: "Section 7: Warranty. " + warrantySnippet + " Extended coverage adds" +
			" accidental damage protection and runs for 48 months. Claims require" +
			" proof of purchase and the unit serial number.",
	})
	report := newCannedDoc("quarterly-report.pdf", "Q2 2025 Financial Report", 8, 164980, map[int]string{
		1: "Q2 2025 Financial Report. Revenue grew 14% quarter over quarter," +
			" driven by subscription renewals. Operating margin improved to 21%.",
	})
	guide := newCannedDoc("onboarding-guide.pdf", "Onboarding Guide", 5, 88214, map[int]string{
		1: "Onboarding Guide. Welcome aboard. This guide walks new team members" +
			" through accounts, tooling, and the first-week checklist.",
	})
	return []*cannedDoc{manual, report, guide}
}

func newCannedDoc(filename, title string, pageCount int, size int64, pages map[int]string) *cannedDoc {
	doc := &cannedDoc{
		meta: model.PDFMetadata{
			Filename:  filename,
			Title:     title,
			PageCount: pageCount,
			SizeBytes: size,
		},
		pages: make([]string, pageCount),
	}
	for i := range doc.pages {
		if text, ok := pages[i+1]; ok {
			doc.pages[i] = text
		} else {
			doc.pages[i] = fillerPage(filename, i+1)
		}
	}
	return doc
}

func fillerPage(filename string, n int) string {
	return fmt.Sprintf("Page %d of %s. This section continues the document body"+
		" with procedures, reference tables, and notes used for development"+
		" testing.", n, filename)
}

// List returns metadata for every document, sorted by filename.
func (l *DocLibrary) List() []model.PDFMetadata {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := make([]model.PDFMetadata, 0, len(l.docs))
	for _, doc := range l.docs {
		list = append(list, doc.meta)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Filename < list[j].Filename })
	return list
}

// Upload registers a document with pages synthesized from its size.
// On a filename collision the name gets a unique suffix, mirroring the
// real backend.
func (l *DocLibrary) Upload(filename string, size int64) model.UploadResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.docs[filename]; exists {
		ext := filepath.Ext(filename)
		base := strings.TrimSuffix(filename, ext)
		u := uuid.New()
		filename = fmt.Sprintf("%s_%x%s", base, u[:4], ext)
	}

	pageCount := int(size/2048) + 1
	if pageCount > 200 {
		pageCount = 200
	}

	doc := newCannedDoc(filename, strings.TrimSuffix(filename, ".pdf"), pageCount, size, nil)
	l.docs[filename] = doc

	return model.UploadResult{
		Status:    "success",
		Message:   fmt.Sprintf("PDF '%s' uploaded successfully", filename),
		Filename:  filename,
		PageCount: pageCount,
		SizeBytes: size,
	}
}

// Delete removes a document. It reports whether the document existed.
func (l *DocLibrary) Delete(filename string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.docs[filename]; !ok {
		return false
	}
	delete(l.docs, filename)
	return true
}

// Page returns the text of one page, 1-based.
func (l *DocLibrary) Page(filename string, n int) (model.PDFPage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	doc, ok := l.docs[filename]
	if !ok || n < 1 || n > len(doc.pages) {
		return model.PDFPage{}, false
	}

	text := doc.pages[n-1]
	return model.PDFPage{
		Filename:   filename,
		PageNumber: n,
		Text:       text,
		WordCount:  len(strings.Fields(text)),
	}, true
}

// Search finds case-insensitive matches of query in the document,
// returning surrounding context and character positions per match.
func (l *DocLibrary) Search(filename, query string, maxResults int) (model.SearchResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	doc, ok := l.docs[filename]
	if !ok {
		return model.SearchResult{}, false
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	result := model.SearchResult{
		Filename: filename,
		Query:    query,
		Results:  []model.SearchMatch{},
	}
	needle := strings.ToLower(query)

	for pageIdx, text := range doc.pages {
		lower := strings.ToLower(text)
		offset := 0
		for len(result.Results) < maxResults {
			idx := strings.Index(lower[offset:], needle)
			if idx < 0 {
				break
			}
			start := offset + idx
			end := start + len(needle)
			result.Results = append(result.Results, model.SearchMatch{
				PageNumber:    pageIdx + 1,
				Context:       contextWindow(text, start, end),
				StartPosition: start,
				EndPosition:   end,
			})
			offset = end
		}
		if len(result.Results) >= maxResults {
			break
		}
	}
	return result, true
}

func contextWindow(text string, start, end int) string {
	const margin = 60
	lo := start - margin
	if lo < 0 {
		lo = 0
	}
	hi := end + margin
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}
