package processor

import (
	"strconv"
	"strings"
)

// ContentStreamText pulls the string operands of the text-showing operators
// (Tj, TJ, ', ") out of a decoded page content stream. Line-moving operators
// become newlines. Glyphs from fonts with custom encodings are not mapped.
func ContentStreamText(content []byte) string {
	lx := &contentLexer{src: content}
	var (
		sb       strings.Builder
		operands []string
		inArray  bool
		arrayStr strings.Builder
	)
	newline := func() {
		s := sb.String()
		if len(s) > 0 && !strings.HasSuffix(s, "\n") {
			sb.WriteByte('\n')
		}
	}

	for {
		tok, kind := lx.next()
		if kind == tokEOF {
			break
		}
		switch kind {
		case tokString:
			if inArray {
				arrayStr.WriteString(tok)
			} else {
				operands = append(operands, tok)
			}
		case tokNumber:
			// Large negative kerning inside TJ arrays is a word gap.
			if inArray {
				if n, err := strconv.ParseFloat(tok, 64); err == nil && n < -200 {
					arrayStr.WriteByte(' ')
				}
			}
		case tokArrayStart:
			inArray = true
			arrayStr.Reset()
		case tokArrayEnd:
			inArray = false
			operands = append(operands, arrayStr.String())
		case tokOperator:
			switch tok {
			case "Tj", "TJ":
				if len(operands) > 0 {
					sb.WriteString(operands[len(operands)-1])
				}
			case "'", "\"":
				newline()
				if len(operands) > 0 {
					sb.WriteString(operands[len(operands)-1])
				}
			case "T*", "Td", "TD":
				newline()
			case "ET":
				newline()
			case "BI":
				lx.skipInlineImage()
			}
			operands = operands[:0]
		}
	}
	return strings.TrimSpace(sb.String())
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokNumber
	tokArrayStart
	tokArrayEnd
	tokOperator
	tokOther
)

type contentLexer struct {
	src []byte
	pos int
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *contentLexer) next() (string, tokenKind) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isPDFWhitespace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return l.literalString(), tokString
		case c == '<':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '<' {
				l.pos += 2
				return "<<", tokOther
			}
			l.pos++
			return l.hexString(), tokString
		case c == '>':
			l.pos++
			if l.pos < len(l.src) && l.src[l.pos] == '>' {
				l.pos++
			}
			return ">>", tokOther
		case c == '[':
			l.pos++
			return "[", tokArrayStart
		case c == ']':
			l.pos++
			return "]", tokArrayEnd
		case c == '/':
			l.pos++
			start := l.pos
			for l.pos < len(l.src) && !isPDFWhitespace(l.src[l.pos]) && !isPDFDelimiter(l.src[l.pos]) {
				l.pos++
			}
			return string(l.src[start:l.pos]), tokOther
		default:
			start := l.pos
			for l.pos < len(l.src) && !isPDFWhitespace(l.src[l.pos]) && !isPDFDelimiter(l.src[l.pos]) {
				l.pos++
			}
			if l.pos == start {
				// stray delimiter such as '{' or ')'
				l.pos++
				return string(l.src[start:l.pos]), tokOther
			}
			word := string(l.src[start:l.pos])
			if _, err := strconv.ParseFloat(word, 64); err == nil {
				return word, tokNumber
			}
			return word, tokOperator
		}
	}
	return "", tokEOF
}

func (l *contentLexer) literalString() string {
	var sb strings.Builder
	depth := 1
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.src) {
				return sb.String()
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r':
				if l.pos < len(l.src) && l.src[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
						v = v*8 + int(l.src[l.pos]-'0')
						l.pos++
					}
					writeByteAsRune(&sb, byte(v))
				} else {
					sb.WriteByte(e)
				}
			}
		case '(':
			depth++
			sb.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		default:
			writeByteAsRune(&sb, c)
		}
	}
	return sb.String()
}

func (l *contentLexer) hexString() string {
	var digits []byte
	for l.pos < len(l.src) && l.src[l.pos] != '>' {
		c := l.src[l.pos]
		if !isPDFWhitespace(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // '>'
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		raw = append(raw, byte(v))
	}
	// Two-byte CIDs with a zero high byte are common for simple Identity-H text.
	if len(raw) >= 2 && len(raw)%2 == 0 && raw[0] == 0 {
		var sb strings.Builder
		for i := 0; i+1 < len(raw); i += 2 {
			sb.WriteRune(rune(raw[i])<<8 | rune(raw[i+1]))
		}
		return sb.String()
	}
	var sb strings.Builder
	for _, b := range raw {
		writeByteAsRune(&sb, b)
	}
	return sb.String()
}

// skipInlineImage jumps past the binary payload between ID and EI.
func (l *contentLexer) skipInlineImage() {
	for l.pos+1 < len(l.src) {
		if l.src[l.pos] == 'I' && l.src[l.pos+1] == 'D' {
			l.pos += 2
			break
		}
		l.pos++
	}
	for l.pos+2 < len(l.src) {
		if isPDFWhitespace(l.src[l.pos]) && l.src[l.pos+1] == 'E' && l.src[l.pos+2] == 'I' {
			l.pos += 3
			return
		}
		l.pos++
	}
	l.pos = len(l.src)
}

// writeByteAsRune maps a PDFDocEncoding/Latin-1 byte to its rune; control bytes are dropped.
func writeByteAsRune(sb *strings.Builder, b byte) {
	if b < 0x20 && b != '\n' && b != '\t' {
		return
	}
	sb.WriteRune(rune(b))
}
