package document

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var disallowedChar = regexp.MustCompile(`[^A-Za-z0-9._-]`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// sanitizeFilename implements the upload-prepare contract's exact rule:
// basename, keep [A-Za-z0-9._-], collapse repeated underscores, strip
// leading/trailing underscores, reject if the result is empty.
func sanitizeFilename(name string) (string, error) {
	base := filepath.Base(name)
	cleaned := disallowedChar.ReplaceAllString(base, "_")
	cleaned = repeatedUnderscore.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "", fmt.Errorf("filename sanitizes to empty string")
	}
	return cleaned, nil
}

func storagePath(workspaceID, documentID, sanitizedFilename string) string {
	return fmt.Sprintf("%s/%s/%s", workspaceID, documentID, sanitizedFilename)
}
