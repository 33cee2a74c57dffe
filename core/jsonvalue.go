package core

// jsonvalue.go implements the deterministic JSON codec (§4.2): the typed
// value bridge crossing the host<->contract boundary. Canonical encoding is
// what makes event args, ABI returns, and system.print output
// byte-reproducible across independently executing engines.

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrNestedTable is returned when the encoder revisits a table it has
// already visited in the current encode call (§4.2.6).
var ErrNestedTable = fmt.Errorf("nested table error")

// ValueKind tags the script value union crossing the host boundary (§3).
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindNumber
	KindString
	KindArray
	KindObject
	KindBignum
)

// Value is the tagged union of script values that can cross the host
// boundary: null, bool, 64-bit signed integer, IEEE-754 double, byte
// string, ordered array, string-keyed object, or an opaque bignum handle.
type Value struct {
	Kind ValueKind
	Bool bool
	Int  int64
	Num  float64
	Str  string
	Arr  []*Value
	Obj  map[string]*Value
	Big  *Bignum
}

func Null() *Value             { return &Value{Kind: KindNull} }
func Bool(b bool) *Value       { return &Value{Kind: KindBool, Bool: b} }
func Int(i int64) *Value       { return &Value{Kind: KindInt, Int: i} }
func Number(f float64) *Value  { return &Value{Kind: KindNumber, Num: f} }
func Str(s string) *Value      { return &Value{Kind: KindString, Str: s} }
func Array(v ...*Value) *Value { return &Value{Kind: KindArray, Arr: v} }
func Object(m map[string]*Value) *Value {
	return &Value{Kind: KindObject, Obj: m}
}
func BignumValue(b *Bignum) *Value { return &Value{Kind: KindBignum, Big: b} }

//---------------------------------------------------------------------
// Encoding
//---------------------------------------------------------------------

// GasPerValue is the GAS_MID per-value charge figure (§4.2.8). Encode and
// Decode do not charge it, and no caller deducts an instruction-budget
// amount for the output length.
const GasPerValue = 10

// Encode renders v as canonical JSON. The hardfork argument is passed
// through the encoder but not consulted, so the output is the same at
// every hardfork.
func Encode(v *Value, hardfork int) (string, error) {
	var sb strings.Builder
	visited := make(map[*Value]bool)
	if err := encodeValue(&sb, v, hardfork, visited); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func encodeValue(sb *strings.Builder, v *Value, hardfork int, visited map[*Value]bool) error {
	if v == nil {
		sb.WriteString("null")
		return nil
	}
	switch v.Kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.Bool {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return fmt.Errorf("json: NaN/Inf not encodable")
		}
		sb.WriteString(formatDouble(v.Num))
	case KindString:
		encodeString(sb, v.Str)
	case KindBignum:
		sb.WriteString(`{"_bignum":"`)
		sb.WriteString(v.Big.String())
		sb.WriteString(`"}`)
	case KindArray:
		if visited[v] {
			return ErrNestedTable
		}
		visited[v] = true
		defer delete(visited, v)
		sb.WriteByte('[')
		for i, e := range v.Arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodeValue(sb, e, hardfork, visited); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case KindObject:
		if visited[v] {
			return ErrNestedTable
		}
		visited[v] = true
		defer delete(visited, v)
		return encodeObject(sb, v, hardfork, visited)
	default:
		return fmt.Errorf("json: unknown value kind %d", v.Kind)
	}
	return nil
}

// encodeObject implements rule 2: a string-keyed object whose key set is
// exactly the decimal strings "1".."N" (dense, 1-based) emits as a JSON
// array; otherwise emits as an object with lexicographically sorted keys
// (numeric keys included, stringified).
func encodeObject(sb *strings.Builder, v *Value, hardfork int, visited map[*Value]bool) error {
	if isDenseIntKeyed(v.Obj) {
		n := len(v.Obj)
		sb.WriteByte('[')
		for i := 1; i <= n; i++ {
			if i > 1 {
				sb.WriteByte(',')
			}
			if err := encodeValue(sb, v.Obj[strconv.Itoa(i)], hardfork, visited); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil
	}

	keys := make([]string, 0, len(v.Obj))
	for k := range v.Obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return escapedKeyLess(keys[i], keys[j]) })

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		encodeString(sb, k)
		sb.WriteByte(':')
		if err := encodeValue(sb, v.Obj[k], hardfork, visited); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

// escapedKeyLess orders keys by their escaped byte representation,
// lexicographically, ties broken by length (§4.2.1) — which is exactly
// Go's default string ordering (a byte-for-byte prefix comparison), so we
// escape first and compare the escaped forms.
func escapedKeyLess(a, b string) bool {
	return escapeForCompare(a) < escapeForCompare(b)
}

func escapeForCompare(s string) string {
	var sb strings.Builder
	encodeString(&sb, s)
	return sb.String()
}

func isDenseIntKeyed(m map[string]*Value) bool {
	if len(m) == 0 {
		return false
	}
	for i := 1; i <= len(m); i++ {
		if _, ok := m[strconv.Itoa(i)]; !ok {
			return false
		}
	}
	return true
}

// formatDouble renders a double with 14 significant digits, integers
// without a fractional part (§4.2.3).
func formatDouble(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', 14, 64)
}

// encodeString writes s as a JSON string literal, escaping control
// characters as \u00XX and the standard JSON escapes (§4.2.4).
func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

//---------------------------------------------------------------------
// Decoding
//---------------------------------------------------------------------

// Decode parses a canonical (or merely well-formed) JSON document back into
// a *Value tree. At hardfork >= 2 an integral double decodes as KindInt
// (§4.2.7).
func Decode(data string, hardfork int) (*Value, error) {
	p := &jsonParser{s: data, hf: hardfork}
	p.skipWS()
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipWS()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("json: trailing data")
	}
	return v, nil
}

type jsonParser struct {
	s   string
	pos int
	hf  int
}

func (p *jsonParser) skipWS() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *jsonParser) parseValue() (*Value, error) {
	if p.pos >= len(p.s) {
		return nil, fmt.Errorf("json: unexpected end of input")
	}
	switch c := p.s[p.pos]; {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return nil, err
		}
		return Str(s), nil
	case c == 't':
		return p.parseLiteral("true", Bool(true))
	case c == 'f':
		return p.parseLiteral("false", Bool(false))
	case c == 'n':
		return p.parseLiteral("null", Null())
	default:
		return p.parseNumber()
	}
}

func (p *jsonParser) parseLiteral(lit string, v *Value) (*Value, error) {
	if p.pos+len(lit) > len(p.s) || p.s[p.pos:p.pos+len(lit)] != lit {
		return nil, fmt.Errorf("json: invalid literal at %d", p.pos)
	}
	p.pos += len(lit)
	return v, nil
}

func (p *jsonParser) parseNumber() (*Value, error) {
	start := p.pos
	isFloat := false
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
		}
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		break
	}
	raw := p.s[start:p.pos]
	if raw == "" {
		return nil, fmt.Errorf("json: invalid number at %d", start)
	}
	if !isFloat {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return Int(n), nil
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("json: invalid number %q", raw)
	}
	if p.hf >= 2 && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return Int(int64(f)), nil
	}
	return Number(f), nil
}

func (p *jsonParser) parseString() (string, error) {
	if p.s[p.pos] != '"' {
		return "", fmt.Errorf("json: expected string at %d", p.pos)
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == '"':
			p.pos++
			return sb.String(), nil
		case c == '\\':
			p.pos++
			if p.pos >= len(p.s) {
				return "", fmt.Errorf("json: unterminated escape")
			}
			switch p.s[p.pos] {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case '/':
				sb.WriteByte('/')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'u':
				r, err := p.parseUnicodeEscape()
				if err != nil {
					return "", err
				}
				sb.WriteRune(r)
				continue
			default:
				return "", fmt.Errorf("json: invalid escape \\%c", p.s[p.pos])
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("json: unterminated string")
}

// parseUnicodeEscape handles \uXXXX, including surrogate pairs, converting
// to UTF-8 via Go's 1-4 byte rune encoder (§4.2.7). p.pos points at the 'u'
// of the current escape on entry and is left just past the consumed
// escape(s) on return.
func (p *jsonParser) parseUnicodeEscape() (rune, error) {
	read4 := func() (rune, error) {
		if p.pos+4 >= len(p.s) {
			return 0, fmt.Errorf("json: truncated \\u escape")
		}
		hex := p.s[p.pos+1 : p.pos+5]
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("json: invalid \\u escape %q", hex)
		}
		p.pos += 5
		return rune(n), nil
	}
	r1, err := read4()
	if err != nil {
		return 0, err
	}
	if utf16.IsSurrogate(r1) && p.pos+1 < len(p.s) && p.s[p.pos] == '\\' && p.s[p.pos+1] == 'u' {
		save := p.pos
		p.pos++ // skip over the backslash so read4 sees 'u' at p.pos
		r2, err := read4()
		if err != nil {
			p.pos = save
			return r1, nil
		}
		if combined := utf16.DecodeRune(r1, r2); combined != utf8.RuneError {
			return combined, nil
		}
		p.pos = save
	}
	return r1, nil
}

func (p *jsonParser) parseArray() (*Value, error) {
	p.pos++ // '['
	arr := make([]*Value, 0)
	p.skipWS()
	if p.pos < len(p.s) && p.s[p.pos] == ']' {
		p.pos++
		return Array(arr...), nil
	}
	for {
		p.skipWS()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
		p.skipWS()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("json: unterminated array")
		}
		if p.s[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.s[p.pos] == ']' {
			p.pos++
			return Array(arr...), nil
		}
		return nil, fmt.Errorf("json: expected ',' or ']' at %d", p.pos)
	}
}

func (p *jsonParser) parseObject() (*Value, error) {
	p.pos++ // '{'
	obj := make(map[string]*Value)
	var keyOrder []string
	p.skipWS()
	if p.pos < len(p.s) && p.s[p.pos] == '}' {
		p.pos++
		return Object(obj), nil
	}
	for {
		p.skipWS()
		k, err := p.parseString()
		if err != nil {
			return nil, err
		}
		p.skipWS()
		if p.pos >= len(p.s) || p.s[p.pos] != ':' {
			return nil, fmt.Errorf("json: expected ':' at %d", p.pos)
		}
		p.pos++
		p.skipWS()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		obj[k] = v
		keyOrder = append(keyOrder, k)
		p.skipWS()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("json: unterminated object")
		}
		if p.s[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.s[p.pos] == '}' {
			p.pos++
			break
		}
		return nil, fmt.Errorf("json: expected ',' or '}' at %d", p.pos)
	}

	// Recognize the single-field bignum envelope; reject any trailing key
	// (§4.2.5).
	if len(keyOrder) == 1 && keyOrder[0] == "_bignum" {
		bv, ok := obj["_bignum"]
		if ok && bv.Kind == KindString {
			b, err := NewBignumString(bv.Str, p.hf)
			if err != nil {
				return nil, err
			}
			return BignumValue(b), nil
		}
	}
	return Object(obj), nil
}
