package flags

import (
	"fmt"
	"strconv"
	"strings"
)

// Table is a one-to-one mapping between flag names and integer flag codes,
// as described by the CF flag_values / flag_meanings attribute pair.
// A Table is immutable once built.
type Table struct {
	names  []string
	codes  []int
	byName map[string]int
	byCode map[int]string
}

// NewTable builds a table from names and codes aligned positionally.
func NewTable(names []string, codes []int) (*Table, error) {
	if len(names) != len(codes) {
		return nil, &MalformedFlagTableError{
			Reason: fmt.Sprintf("%d flag names for %d flag values", len(names), len(codes)),
		}
	}

	t := &Table{
		names:  append([]string(nil), names...),
		codes:  append([]int(nil), codes...),
		byName: make(map[string]int, len(names)),
		byCode: make(map[int]string, len(codes)),
	}
	for i, name := range names {
		if name == "" {
			return nil, &MalformedFlagTableError{Reason: fmt.Sprintf("empty name for flag value %d", codes[i])}
		}
		if _, dup := t.byName[name]; dup {
			return nil, &MalformedFlagTableError{Reason: fmt.Sprintf("duplicate flag name %q", name)}
		}
		if other, dup := t.byCode[codes[i]]; dup {
			return nil, &MalformedFlagTableError{
				Reason: fmt.Sprintf("flag value %d used by both %q and %q", codes[i], other, name),
			}
		}
		t.byName[name] = codes[i]
		t.byCode[codes[i]] = name
	}
	return t, nil
}

// ParseTable builds a table from a whitespace-joined flag_meanings string and
// a whitespace-separated flag_values string.
func ParseTable(meanings, values string) (*Table, error) {
	fields := strings.Fields(values)
	codes := make([]int, len(fields))
	for i, f := range fields {
		c, err := strconv.Atoi(f)
		if err != nil {
			return nil, &MalformedFlagTableError{Reason: fmt.Sprintf("flag value %q is not an integer", f)}
		}
		codes[i] = c
	}
	return NewTable(strings.Fields(meanings), codes)
}

// Code returns the code of the named flag.
func (t *Table) Code(name string) (int, error) {
	if t == nil {
		return 0, &UnknownFlagNameError{Name: name}
	}
	c, ok := t.byName[name]
	if !ok {
		return 0, &UnknownFlagNameError{Name: name, Known: t.Names()}
	}
	return c, nil
}

// Codes resolves several names at once; it fails on the first unknown name.
func (t *Table) Codes(names ...string) ([]int, error) {
	codes := make([]int, 0, len(names))
	for _, name := range names {
		c, err := t.Code(name)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, nil
}

// Name returns the name of code.
func (t *Table) Name(code int) (string, bool) {
	if t == nil {
		return "", false
	}
	n, ok := t.byCode[code]
	return n, ok
}

// Contains reports whether code is a known flag value.
func (t *Table) Contains(code int) bool {
	if t == nil {
		return false
	}
	_, ok := t.byCode[code]
	return ok
}

// Names returns the flag names in table order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.names...)
}

// Values returns the flag codes in table order.
func (t *Table) Values() []int {
	if t == nil {
		return nil
	}
	return append([]int(nil), t.codes...)
}

// Len returns the number of flags.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.codes)
}
