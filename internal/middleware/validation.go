package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateChatMessage validates a chat message body.
func ValidateChatMessage(message string) error {
	if len(message) == 0 {
		return errors.New("message cannot be empty")
	}
	if len(message) > 100000 { // ~100KB limit
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(message) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates an optional conversation ID.
func ValidateConversationID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateFilename validates a PDF filename. Path separators are
// rejected outright rather than stripped so traversal attempts fail
// loudly.
func ValidateFilename(filename string) error {
	if len(filename) == 0 {
		return errors.New("no filename provided")
	}
	if len(filename) > 255 {
		return errors.New("filename exceeds maximum length")
	}
	if strings.ContainsAny(filename, "/\\") || filename == "." || filename == ".." {
		return errors.New("filename must not contain path separators")
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return errors.New("only PDF files are allowed")
	}
	return nil
}

// ValidateSearchQuery validates a document search query.
func ValidateSearchQuery(query string) error {
	if len(strings.TrimSpace(query)) == 0 {
		return errors.New("query cannot be empty")
	}
	if len(query) > 1024 {
		return errors.New("query exceeds maximum length")
	}
	if !utf8.ValidString(query) {
		return errors.New("query must be valid UTF-8")
	}
	return nil
}
