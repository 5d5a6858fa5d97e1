/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"net"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// foldTable is a 256-entry byte->byte case map, built once per CaseMapping
// value. Building it as a table lets Fold/FoldString stay branch-free in
// the hot path (every nick/channel comparison and hashmap lookup in C3
// goes through it), per spec.md 4.1.
type foldTable [256]byte

var (
	rfc1459Fold       foldTable
	asciiFold         foldTable
	strictRFC1459Fold foldTable
)

func init() {
	for i := 0; i < 256; i++ {
		b := byte(i)
		rfc1459Fold[i] = b
		asciiFold[i] = b
		strictRFC1459Fold[i] = b
	}
	for c := byte('A'); c <= byte('Z'); c++ {
		lower := c + ('a' - 'A')
		rfc1459Fold[c] = lower
		asciiFold[c] = lower
		strictRFC1459Fold[c] = lower
	}
	// rfc1459 additionally folds {}|^ onto []\~
	rfc1459Fold['{'] = '['
	rfc1459Fold['}'] = ']'
	rfc1459Fold['|'] = '\\'
	rfc1459Fold['^'] = '~'
	// strict-rfc1459 folds {}| but not ^
	strictRFC1459Fold['{'] = '['
	strictRFC1459Fold['}'] = ']'
	strictRFC1459Fold['|'] = '\\'
}

var unicodeCaser = cases.Fold()

// tableFor returns the byte-fold table for casemaps that are pure 1:1 byte
// remaps. permissive-unicode has no fixed byte table and is handled
// separately in FoldString.
func tableFor(cm CaseMapping) *foldTable {
	switch cm {
	case CaseMapASCII:
		return &asciiFold
	case CaseMapStrictRFC1459:
		return &strictRFC1459Fold
	default:
		return &rfc1459Fold
	}
}

// Fold case-folds a single byte under the given casemap.
func Fold(cm CaseMapping, b byte) byte {
	return tableFor(cm)[b]
}

// FoldString case-folds an entire string under the given casemap. This is
// the key-normalization function used by the entity store (C3) for every
// nick/channel/server index.
func FoldString(cm CaseMapping, s string) string {
	if cm == CaseMapPermissiveUnicode {
		return unicodeCaser.String(s)
	}
	table := tableFor(cm)
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = table[s[i]]
	}
	return string(out)
}

// EqualFold reports whether a and b are equal under the given casemap.
func EqualFold(cm CaseMapping, a, b string) bool {
	if cm == CaseMapPermissiveUnicode {
		return unicodeCaser.String(a) == unicodeCaser.String(b)
	}
	if len(a) != len(b) {
		return false
	}
	table := tableFor(cm)
	for i := 0; i < len(a); i++ {
		if table[a[i]] != table[b[i]] {
			return false
		}
	}
	return true
}

const nickSpecials = "-[]\\`_^{|}"

func isNickLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isNickSpecial(b byte) bool {
	return strings.IndexByte(nickSpecials, b) >= 0
}

// IsValidNick checks the nickname grammar from spec.md 4.1: first byte in
// the letter class, subsequent bytes in letter|digit|-|special, bounded by
// maxLen.
func IsValidNick(s string, maxLen int) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	if !isNickLetter(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		b := s[i]
		if !isNickLetter(b) && !isDigit(b) && b != '-' && !isNickSpecial(b) {
			return false
		}
	}
	return true
}

// IsValidChannel checks the channel-name grammar from spec.md 4.1: begins
// with a configured sigil, no space/comma/control bytes, bounded length.
func IsValidChannel(s string, sigils string, maxLen int) bool {
	if len(s) < 2 || len(s) > maxLen {
		return false
	}
	if strings.IndexByte(sigils, s[0]) < 0 {
		return false
	}
	for i := 1; i < len(s); i++ {
		b := s[i]
		if b == ' ' || b == ',' || b == '\x07' || b < 0x20 {
			return false
		}
	}
	return true
}

// GlobMatch reports whether text matches pattern, where '*' matches any
// run of bytes and '?' matches exactly one byte. Matching is linear and
// greedy, backtracking over '*' by iteration rather than recursion, per
// spec.md 4.1. '/' is never treated specially. If cm is non-nil, bytes
// are compared under that casemap's fold.
func GlobMatch(text, pattern string, cm *CaseMapping) bool {
	var table *foldTable
	if cm != nil {
		table = tableFor(*cm)
	}
	eq := func(a, b byte) bool {
		if table != nil {
			return table[a] == table[b]
		}
		return a == b
	}

	ti, pi := 0, 0
	starTi, starPi := -1, -1

	for ti < len(text) {
		if pi < len(pattern) && (pattern[pi] == '?' || eq(pattern[pi], text[ti])) {
			ti++
			pi++
			continue
		}
		if pi < len(pattern) && pattern[pi] == '*' {
			starPi = pi
			starTi = ti
			pi++
			continue
		}
		if starPi >= 0 {
			pi = starPi + 1
			starTi++
			ti = starTi
			continue
		}
		return false
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}

	return pi == len(pattern)
}

// CIDRMatch reports whether addr falls within the network described by
// mask, a CIDR string such as "10.0.0.0/8" or "2001:db8::/32".
func CIDRMatch(addr, mask string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	_, network, err := net.ParseCIDR(mask)
	if err != nil {
		// Not a CIDR mask; fall back to exact address comparison.
		other := net.ParseIP(mask)
		return other != nil && other.Equal(ip)
	}
	return network.Contains(ip)
}
