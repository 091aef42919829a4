// Package utils provides small, generic helpers shared across layers. They
// carry no domain knowledge.
package utils

import (
	"math"
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int and returns def when s is empty or not a
// number.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads 1-based page and size query values. Missing or invalid
// values fall back to page 1 and defSize; size is capped at maxSize.
func ParsePage(pageStr, sizeStr string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(strings.TrimSpace(pageStr), 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(strings.TrimSpace(sizeStr), defSize)
	if size < 1 {
		size = defSize
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return page, size
}

// Offset returns the number of items before page (1-based). It saturates at
// math.MaxInt instead of wrapping, so absurd pages land past the end.
func Offset(page, size int) int {
	if page < 1 || size < 1 {
		return 0
	}
	if page-1 > math.MaxInt/size {
		return math.MaxInt
	}
	return (page - 1) * size
}

// HasMore reports whether items remain after a window that started at
// offset and returned got items out of total.
func HasMore(offset, got int, total int64) bool {
	if int64(offset) >= total {
		return false
	}
	return int64(offset)+int64(got) < total
}
