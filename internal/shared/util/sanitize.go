package util

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var errInvalidFileName = errors.New("invalid file name")

// ErrInvalidDeviceID is returned by ValidateDeviceID.
var ErrInvalidDeviceID = errors.New("invalid device id")

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errInvalidFileName
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "", errInvalidFileName
	}
	return s, nil
}

// ValidateDeviceID accepts 1-64 characters of letters, digits, '-', '_' or '.'.
func ValidateDeviceID(id string) error {
	if id == "" || len(id) > 64 || strings.Contains(id, "..") {
		return ErrInvalidDeviceID
	}
	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.':
		default:
			return ErrInvalidDeviceID
		}
	}
	return nil
}

// Truncate caps s at max characters without splitting a multi-byte rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
