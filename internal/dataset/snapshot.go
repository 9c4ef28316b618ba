package dataset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Scraped CSVs store the snapshot column in whatever shape the exporter
// produced: strict JSON, JSON with single quotes, or a Python-style dict
// literal. ParseSnapshot tries each strategy in order; the first success
// wins. The literal strategy is a real grammar, not an eval.
var snapshotStrategies = []struct {
	name  string
	parse func(string) (map[string]any, error)
}{
	{"json", parseStrictJSON},
	{"quoted-json", parseQuoteSwapped},
	{"literal", parsePythonLiteral},
}

// ParseSnapshot decodes a serialized snapshot mapping. It returns an error
// only when every strategy fails.
func ParseSnapshot(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty snapshot")
	}

	var lastErr error
	for _, s := range snapshotStrategies {
		m, err := s.parse(raw)
		if err == nil {
			return m, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("snapshot unparsable by all strategies: %w", lastErr)
}

func parseStrictJSON(raw string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseQuoteSwapped(raw string) (map[string]any, error) {
	return parseStrictJSON(strings.ReplaceAll(raw, "'", `"`))
}

// parsePythonLiteral parses the subset of Python literal syntax that scraped
// snapshots actually use: dicts, lists, quoted strings, numbers, True, False
// and None. Anything else is rejected.
func parsePythonLiteral(raw string) (map[string]any, error) {
	p := &literalParser{src: raw}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("trailing data at offset %d", p.pos)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("literal is not a mapping")
	}
	return m, nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *literalParser) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *literalParser) expect(c byte) error {
	ch, ok := p.peek()
	if !ok || ch != c {
		return fmt.Errorf("expected %q at offset %d", string(c), p.pos)
	}
	p.pos++
	return nil
}

func (p *literalParser) value() (any, error) {
	ch, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of input")
	}
	switch {
	case ch == '{':
		return p.dict()
	case ch == '[':
		return p.list()
	case ch == '\'' || ch == '"':
		return p.str()
	case ch == '-' || ch == '+' || (ch >= '0' && ch <= '9'):
		return p.number()
	default:
		return p.keyword()
	}
}

func (p *literalParser) dict() (map[string]any, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	m := make(map[string]any)
	p.skipSpace()
	if ch, ok := p.peek(); ok && ch == '}' {
		p.pos++
		return m, nil
	}
	for {
		p.skipSpace()
		key, err := p.str()
		if err != nil {
			return nil, fmt.Errorf("dict key: %w", err)
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		m[key] = val
		p.skipSpace()
		ch, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated dict")
		}
		if ch == ',' {
			p.pos++
			p.skipSpace()
			// tolerate trailing comma
			if ch, ok := p.peek(); ok && ch == '}' {
				p.pos++
				return m, nil
			}
			continue
		}
		if ch == '}' {
			p.pos++
			return m, nil
		}
		return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
	}
}

func (p *literalParser) list() ([]any, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	var items []any
	p.skipSpace()
	if ch, ok := p.peek(); ok && ch == ']' {
		p.pos++
		return items, nil
	}
	for {
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		ch, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated list")
		}
		if ch == ',' {
			p.pos++
			p.skipSpace()
			if ch, ok := p.peek(); ok && ch == ']' {
				p.pos++
				return items, nil
			}
			continue
		}
		if ch == ']' {
			p.pos++
			return items, nil
		}
		return nil, fmt.Errorf("expected ',' or ']' at offset %d", p.pos)
	}
}

func (p *literalParser) str() (string, error) {
	quote, ok := p.peek()
	if !ok || (quote != '\'' && quote != '"') {
		return "", fmt.Errorf("expected string at offset %d", p.pos)
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == quote {
			p.pos++
			return sb.String(), nil
		}
		if ch == '\\' && p.pos+1 < len(p.src) {
			p.pos++
			esc := p.src[p.pos]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'u':
				if p.pos+4 < len(p.src) {
					if code, err := strconv.ParseUint(p.src[p.pos+1:p.pos+5], 16, 32); err == nil {
						sb.WriteRune(rune(code))
						p.pos += 4
						break
					}
				}
				sb.WriteByte(esc)
			default:
				sb.WriteByte(esc)
			}
			p.pos++
			continue
		}
		sb.WriteByte(ch)
		p.pos++
	}
	return "", fmt.Errorf("unterminated string")
}

func (p *literalParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == '-' || ch == '+' || ch == 'e' || ch == 'E' {
			p.pos++
			continue
		}
		break
	}
	n, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number at offset %d", start)
	}
	return n, nil
}

func (p *literalParser) keyword() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && (unicode.IsLetter(rune(p.src[p.pos]))) {
		p.pos++
	}
	switch p.src[start:p.pos] {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected token at offset %d", start)
}
