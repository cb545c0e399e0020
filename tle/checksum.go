package tle

import "strings"

// ChecksumDigit computes the mod-10 checksum of an element line body (the
// line without its trailing checksum digit). Digits count their value,
// each '-' counts one, everything else counts zero.
func ChecksumDigit(body string) int {
	sum := 0
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// Checksum reports whether the trailing digit of line matches the checksum
// of the characters before it. Trailing whitespace is ignored.
func Checksum(line string) bool {
	line = strings.TrimRight(line, " \t\r\n")
	if len(line) < 2 {
		return false
	}
	last := line[len(line)-1]
	if last < '0' || last > '9' {
		return false
	}
	return ChecksumDigit(line[:len(line)-1]) == int(last-'0')
}
