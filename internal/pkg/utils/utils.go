package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUID generates a UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

// ConvertPersianToEnglish converts Persian/Arabic numerals to English.
func ConvertPersianToEnglish(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case r >= '۰' && r <= '۹':
			result.WriteRune(r - '۰' + '0')
		case r >= '٠' && r <= '٩':
			result.WriteRune(r - '٠' + '0')
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseDigits normalizes numerals and parses a strict digit sequence.
// Signs, spaces inside the number and separators are rejected.
func ParseDigits(s string) (int64, bool) {
	s = strings.TrimSpace(ConvertPersianToEnglish(s))
	if !IsDigits(s) {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseInt64 safely converts string to int64.
func ParseInt64(s string, defaultVal int64) int64 {
	s = strings.TrimSpace(ConvertPersianToEnglish(s))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

// ParseIDList parses a comma separated list of numeric ids.
// The second return value holds the entries that failed to parse.
func ParseIDList(s string) ([]int64, []string) {
	var ids []int64
	var bad []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			bad = append(bad, part)
			continue
		}
		ids = append(ids, v)
	}
	return ids, bad
}

// FormatNumber adds comma separators to a number.
func FormatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var result strings.Builder
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(c)
	}
	if neg {
		return "-" + result.String()
	}
	return result.String()
}

// FormatTime renders a timestamp for chat messages.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
