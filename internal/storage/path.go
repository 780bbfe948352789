package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeRunPattern     = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// SanitizeComponent maps an arbitrary identifier, such as a chat thread key,
// onto a single safe path component.
func SanitizeComponent(value string) string {
	cleaned := unsafeRunPattern.ReplaceAllString(strings.TrimSpace(value), "_")
	cleaned = strings.ReplaceAll(cleaned, "..", "_")
	cleaned = strings.TrimLeft(cleaned, "._-")
	if len(cleaned) > 96 {
		cleaned = cleaned[:96]
	}
	if cleaned == "" {
		return "conversation"
	}
	return cleaned
}

// ExportsPrefix is the key prefix every archived export lives under.
const ExportsPrefix = "exports/"

// BuildExportID names one export. runID distinguishes process lifetimes so
// a restarted bot never reuses the name of an earlier archive.
func BuildExportID(conversationKey, runID string, sequence uint64) string {
	return fmt.Sprintf("%s-%s-%06d", SanitizeComponent(conversationKey), SanitizeComponent(runID), sequence)
}

func BuildExportPath(exportID, extension string, createdAt time.Time) (string, error) {
	if err := validatePathComponent(exportID, "export id"); err != nil {
		return "", err
	}
	extension = strings.TrimPrefix(strings.TrimSpace(extension), ".")
	if err := validatePathComponent(extension, "extension"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		"exports",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		exportID+"."+extension,
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

var contentTypes = map[string]string{
	".csv":     "text/csv",
	".xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".parquet": "application/vnd.apache.parquet",
}

func ContentTypeForKey(key string) string {
	if contentType, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return contentType
	}
	return "application/octet-stream"
}
