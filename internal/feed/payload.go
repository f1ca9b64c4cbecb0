package feed

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotObject is returned when a JSON payload is not a top-level object.
var ErrNotObject = errors.New("payload is not an object")

// Member is one top-level key of a decoded payload, in document order.
type Member struct {
	Key   string
	Value any
}

// Members is an ordered view of a payload's top-level object.
type Members []Member

// Find returns the first member whose value satisfies match.
func (m Members) Find(match func(Member) bool) (Member, bool) {
	for _, mem := range m {
		if match(mem) {
			return mem, true
		}
	}
	return Member{}, false
}

// Get returns the value stored under key.
func (m Members) Get(key string) (any, bool) {
	mem, ok := m.Find(func(mem Member) bool { return mem.Key == key })
	return mem.Value, ok
}

// KeyContains matches members whose key contains sub, ignoring case.
func KeyContains(sub string) func(Member) bool {
	sub = strings.ToLower(sub)
	return func(m Member) bool {
		return strings.Contains(strings.ToLower(m.Key), sub)
	}
}

// HasRows matches members whose value is a row container.
func HasRows(m Member) bool {
	_, ok := Rows(m.Value)
	return ok
}

// DecodeJSON decodes a top-level JSON object keeping key order. Nested values
// decode as map[string]any / []any with float64 numbers.
func DecodeJSON(data []byte) (Members, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	var members Members
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", key, err)
		}
		members = append(members, Member{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("closing payload: %w", err)
	}
	return members, nil
}

// DecodeXML decodes an XML document into a single member named after the
// root element. Leaf elements become trimmed strings, elements with children
// become map[string]any and repeated siblings collapse into []any.
// Attributes are ignored.
func DecodeXML(data []byte) (Members, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	// Provider documents declare UTF-8; tolerate other declared charsets.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("empty xml document")
			}
			return nil, fmt.Errorf("reading xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			v, err := decodeElement(dec)
			if err != nil {
				return nil, err
			}
			return Members{{Key: start.Name.Local, Value: v}}, nil
		}
	}
}

func decodeElement(dec *xml.Decoder) (any, error) {
	var (
		text     strings.Builder
		children map[string]any
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec)
			if err != nil {
				return nil, err
			}
			if children == nil {
				children = make(map[string]any)
			}
			name := t.Name.Local
			switch existing := children[name].(type) {
			case nil:
				children[name] = child
			case []any:
				children[name] = append(existing, child)
			default:
				children[name] = []any{existing, child}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if children != nil {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}
