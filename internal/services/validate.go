package services

import (
	"strings"
	"unicode/utf8"
)

const (
	maxIDLen     = 64
	maxStatusLen = 32
)

func cleanID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIDLen {
		return "", ErrInvalidID
	}
	return id, nil
}

// cleanStatus trims s; an empty s falls back to def, and an empty result is
// rejected.
func cleanStatus(s, def string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = def
	}
	if s == "" || utf8.RuneCountInString(s) > maxStatusLen {
		return "", ErrInvalidStatus
	}
	return s, nil
}
