package middleware

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

const (
	// MaxImageBytes caps one upload; bigger files are rejected before any
	// blob-store or queue work happens.
	MaxImageBytes = 20 << 20

	// MaxQueryChars caps the free-text query length.
	MaxQueryChars = 500
)

// ValidateImageUpload checks the uploaded file's name, size and declared type
func ValidateImageUpload(filename string, size int64, contentType string) error {
	if filename == "" {
		return fmt.Errorf("image filename cannot be empty")
	}
	if size <= 0 {
		return fmt.Errorf("image file is empty")
	}
	if size > MaxImageBytes {
		return fmt.Errorf("image exceeds maximum size of %d bytes", int64(MaxImageBytes))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	allowed := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".webp": true,
	}
	if !allowed[ext] {
		return fmt.Errorf("unsupported image type: %s (allowed: jpg, jpeg, png, gif, webp)", ext)
	}

	if contentType != "" && !strings.HasPrefix(contentType, "image/") &&
		contentType != "application/octet-stream" {
		return fmt.Errorf("unsupported content type: %s", contentType)
	}

	// Block dangerous patterns in the filename
	dangerous := []string{"../", "..", "$(", "`", "&", "|", ";", "\n", "\r"}
	for _, d := range dangerous {
		if strings.Contains(filename, d) {
			return fmt.Errorf("invalid characters in filename")
		}
	}

	return nil
}

// ValidateQueryText bounds and sanitizes the optional free-text query
func ValidateQueryText(query string) (string, error) {
	query = SanitizeString(query)
	if len(query) > MaxQueryChars {
		return "", fmt.Errorf("query text exceeds %d characters", MaxQueryChars)
	}
	return query, nil
}

// ValidateJobID validates job handle format
func ValidateJobID(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}

	// Allow alphanumeric, dash, underscore (max 64 chars)
	pattern := `^[a-zA-Z0-9_-]{1,64}$`
	matched, _ := regexp.MatchString(pattern, jobID)
	if !matched {
		return fmt.Errorf("invalid job ID format")
	}

	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}
