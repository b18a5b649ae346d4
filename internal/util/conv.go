package util

import (
	"math"
	"strconv"
	"strings"
)

// MustParseUint 将字符串转换为无符号整数，解析失败时返回 0
func MustParseUint(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 32)
	return uint(id)
}

// LenientFloat 宽松解析分数：无法解析、NaN、Inf 均视为 0
func LenientFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Clamp 将 v 限制在 [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// DisplayLabel 1 -> A, 2 -> B ... 27 -> AA
func DisplayLabel(order int) string {
	label := ""
	for order > 0 {
		order--
		label = string(rune('A'+order%26)) + label
		order /= 26
	}
	return label
}
