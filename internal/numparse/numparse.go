// Package numparse handles numeric strings as emitted by Chinese market data
// feeds: thousand separators, 亿/万 unit suffixes and the usual placeholder
// sentinels.
package numparse

import (
	"strconv"
	"strings"
)

// Number parses a numeric string, applying unit suffixes 亿 (1e8) and
// 万 (1e4). Sentinels ("", "-", "--", "nan") and non-numeric input yield nil.
func Number(s string) *float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "-", "--", "nan", "none", "null":
		return nil
	}

	multiplier := 1.0
	if strings.HasSuffix(s, "亿") {
		multiplier = 1e8
		s = strings.TrimSuffix(s, "亿")
	} else if strings.HasSuffix(s, "万") {
		multiplier = 1e4
		s = strings.TrimSuffix(s, "万")
	}

	s = strings.ReplaceAll(s, ",", "")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v *= multiplier
	return &v
}

// Percent parses a percentage string ("12.5%" or "12.5") to its numeric value.
func Percent(s string) *float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	return Number(s)
}
