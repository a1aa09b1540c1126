// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package ifheader

import "unicode"

// Special tokens returned by the lexer.
const (
	tokEOF = -(iota + 1)
	tokNot
)

type lex struct {
	input []rune
	pos   int
	last  rune
}

func newLex(s string) *lex {
	return &lex{input: []rune(s), pos: -1}
}

func (l *lex) at(num int) rune {
	np := l.pos + num
	if np < 0 || np >= len(l.input) {
		return tokEOF
	}
	return l.input[np]
}

func (l *lex) skipWhitespace() {
	for unicode.IsSpace(l.at(1)) {
		l.pos++
	}
}

// peek returns the next significant token without consuming it. The
// three-letter keyword "Not" collapses into a single token.
func (l *lex) peek() rune {
	l.skipWhitespace()
	p := l.at(1)
	if p == 'N' && l.at(2) == 'o' && l.at(3) == 't' {
		p = tokNot
	}
	l.last = p
	return p
}

func (l *lex) consume() {
	if l.last == tokNot {
		l.pos += 3
	} else if l.last != tokEOF {
		l.pos++
	}
}

// until consumes runes up to and including stop, returning the text before
// it. Reaching the end of input before stop is an error for every caller,
// signalled by ok=false.
func (l *lex) until(stop rune) (string, bool) {
	res := make([]rune, 0, 16)
	for {
		v := l.at(1)
		if v == tokEOF {
			return string(res), false
		}
		l.pos++
		if v == stop {
			return string(res), true
		}
		res = append(res, v)
	}
}
