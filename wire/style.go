// Copyright (c) Liam Stanley <me@liamstanley.io>. All rights reserved. Use
// of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package wire

import "strings"

const (
	codeBold          = '\x02'
	codeColor         = '\x03'
	codeHexColor      = '\x04'
	codeReset         = '\x0f'
	codeMonospace     = '\x11'
	codeReverse       = '\x16'
	codeItalic        = '\x1d'
	codeStrikethrough = '\x1e'
	codeUnderline     = '\x1f'
)

var styles = map[string]string{}

func init() {
	for _, s := range []struct {
		aliases []string
		val     string
	}{
		{aliases: []string{"white"}, val: "\x0300"},
		{aliases: []string{"black"}, val: "\x0301"},
		{aliases: []string{"blue", "navy"}, val: "\x0302"},
		{aliases: []string{"green"}, val: "\x0303"},
		{aliases: []string{"red"}, val: "\x0304"},
		{aliases: []string{"brown", "maroon"}, val: "\x0305"},
		{aliases: []string{"purple"}, val: "\x0306"},
		{aliases: []string{"orange", "olive", "gold"}, val: "\x0307"},
		{aliases: []string{"yellow"}, val: "\x0308"},
		{aliases: []string{"lightgreen", "lime"}, val: "\x0309"},
		{aliases: []string{"teal"}, val: "\x0310"},
		{aliases: []string{"cyan"}, val: "\x0311"},
		{aliases: []string{"lightblue", "royal"}, val: "\x0312"},
		{aliases: []string{"lightpurple", "pink", "fuchsia"}, val: "\x0313"},
		{aliases: []string{"grey", "gray"}, val: "\x0314"},
		{aliases: []string{"lightgrey", "silver"}, val: "\x0315"},
		{aliases: []string{"bold", "b"}, val: string(codeBold)},
		{aliases: []string{"italic", "i"}, val: string(codeItalic)},
		{aliases: []string{"reset", "r"}, val: string(codeReset)},
		{aliases: []string{"clear", "c"}, val: string(codeColor)},
		{aliases: []string{"reverse"}, val: string(codeReverse)},
		{aliases: []string{"underline", "ul"}, val: string(codeUnderline)},
		{aliases: []string{"strike", "s"}, val: string(codeStrikethrough)},
		{aliases: []string{"mono", "m"}, val: string(codeMonospace)},
	} {
		for _, alias := range s.aliases {
			styles[alias] = s.val
		}
	}
}

// replaceStyles calls repl for every known "{name}" tag in text.
func replaceStyles(text string, repl func(code string) string) string {
	if !strings.Contains(text, "{") {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	for {
		start := strings.IndexByte(text, '{')
		if start < 0 {
			break
		}

		end := strings.IndexByte(text[start:], '}')
		if end < 0 {
			break
		}
		end += start

		code, ok := styles[text[start+1:end]]
		if !ok {
			out.WriteString(text[:start+1])
			text = text[start+1:]
			continue
		}

		out.WriteString(text[:start])
		out.WriteString(repl(code))
		text = text[end+1:]
	}

	out.WriteString(text)
	return out.String()
}

// Fmt takes style tags like "{red}" or "{b}" and turns them into the IRC
// formatting codes they stand for. Unknown tags are left as-is.
func Fmt(text string) string {
	return replaceStyles(text, func(code string) string { return code })
}

// StripFmt removes all style tags understood by Fmt from text.
func StripFmt(text string) string {
	return replaceStyles(text, func(string) string { return "" })
}

// StripCodes removes IRC formatting codes (as sent by other clients, or
// produced by Fmt) from text, including the color numbers following a
// color code and the rrggbb following a hex color code.
func StripCodes(text string) string {
	if strings.IndexFunc(text, isStyleCode) < 0 {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case codeBold, codeReset, codeMonospace, codeReverse, codeItalic, codeStrikethrough, codeUnderline:
			continue
		case codeHexColor:
			i += min(6, len(text)-i-1)
			continue
		case codeColor:
			n := skipDigits(text[i+1:])
			if n > 0 && i+1+n+1 < len(text) && text[i+1+n] == ',' {
				if bg := skipDigits(text[i+1+n+1:]); bg > 0 {
					n += 1 + bg
				}
			}
			i += n
			continue
		}

		out.WriteByte(text[i])
	}

	return out.String()
}

func isStyleCode(r rune) bool {
	switch r {
	case codeBold, codeColor, codeHexColor, codeReset, codeMonospace, codeReverse,
		codeItalic, codeStrikethrough, codeUnderline:
		return true
	}

	return false
}

// skipDigits returns how many (at most two) leading digits s has.
func skipDigits(s string) int {
	n := 0
	for n < 2 && n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}

	return n
}
