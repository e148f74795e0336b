package patch

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPointer = errors.New("invalid json pointer")
	ErrPathNotFound   = errors.New("path does not resolve")
	ErrIndexRange     = errors.New("array index out of range")
)

// Pointer is a parsed RFC 6901 JSON pointer. The empty pointer addresses the
// whole document.
type Pointer []string

func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, errors.Wrapf(ErrInvalidPointer, "%q must start with /", s)
	}
	raw := strings.Split(s[1:], "/")
	ret := make(Pointer, 0, len(raw))
	for _, tok := range raw {
		if strings.Contains(strings.ReplaceAll(strings.ReplaceAll(tok, "~0", ""), "~1", ""), "~") {
			return nil, errors.Wrapf(ErrInvalidPointer, "bad escape in %q", s)
		}
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")
		ret = append(ret, tok)
	}
	return ret, nil
}

func (p Pointer) String() string {
	if len(p) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, tok := range p {
		sb.WriteByte('/')
		tok = strings.ReplaceAll(tok, "~", "~0")
		tok = strings.ReplaceAll(tok, "/", "~1")
		sb.WriteString(tok)
	}
	return sb.String()
}

// HasPrefix reports whether p starts with the given reference tokens.
func (p Pointer) HasPrefix(tokens ...string) bool {
	if len(tokens) > len(p) {
		return false
	}
	for i, t := range tokens {
		if p[i] != t {
			return false
		}
	}
	return true
}

func (p Pointer) parent() (Pointer, string) {
	return p[:len(p)-1], p[len(p)-1]
}

// parseIndex parses an array reference token. Leading zeros, signs and
// anything but decimal digits are rejected.
func parseIndex(tok string, length int, allowEnd bool) (int, error) {
	if tok == "-" {
		if allowEnd {
			return length, nil
		}
		return 0, errors.Wrap(ErrIndexRange, "'-' not allowed here")
	}
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, errors.Wrapf(ErrInvalidPointer, "bad array index %q", tok)
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrInvalidPointer, "bad array index %q", tok)
		}
	}
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPointer, "bad array index %q", tok)
	}
	limit := length - 1
	if allowEnd {
		limit = length
	}
	if idx > limit {
		return 0, errors.Wrapf(ErrIndexRange, "index %d, length %d", idx, length)
	}
	return idx, nil
}

// resolve walks the pointer from doc and returns the addressed value.
func resolve(doc any, p Pointer) (any, error) {
	cur := doc
	for i, tok := range p {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, errors.Wrapf(ErrPathNotFound, "missing field %q at %s", tok, p[:i+1].String())
			}
			cur = v
		case []any:
			idx, err := parseIndex(tok, len(node), false)
			if err != nil {
				return nil, err
			}
			cur = node[idx]
		default:
			return nil, errors.Wrapf(ErrPathNotFound, "cannot descend into scalar at %s", p[:i].String())
		}
	}
	return cur, nil
}
