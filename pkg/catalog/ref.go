package catalog

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/d70-t/how-to-eurec4a/pkg/fetch"
)

// templatePattern matches {{ name }} and {name} placeholders
var templatePattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}|\{(\w+)\}`)

func templateName(placeholder string) string {
	m := templatePattern.FindStringSubmatch(placeholder)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// Ref names a catalog entry and the parameters to open it with.
//
// The text form is a dotted path optionally followed by either a bracketed
// value for the entry's first parameter or a parenthesised list of
// name=value pairs:
//
//	HALO.WALES.cloudparameter
//	HALO.WALES.cloudparameter[HALO-0205]
//	Meteor.LIMRAD94.ACTRIS(version=1.1,date=2020-02-05)
type Ref struct {
	Path   []string          `json:"path"`
	Params map[string]string `json:"params,omitempty"`
	// Key is the bracketed value; it binds to the first parameter.
	Key string `json:"key,omitempty"`
}

// ParseRef parses the text form of a Ref
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	var ref Ref

	switch {
	case strings.HasSuffix(s, "]"):
		open := strings.LastIndex(s, "[")
		if open < 0 {
			return Ref{}, invalidRef(s, "unbalanced brackets")
		}
		ref.Key = strings.Trim(s[open+1:len(s)-1], `"' `)
		if ref.Key == "" {
			return Ref{}, invalidRef(s, "empty key")
		}
		s = s[:open]
	case strings.HasSuffix(s, ")"):
		open := strings.Index(s, "(")
		if open < 0 {
			return Ref{}, invalidRef(s, "unbalanced parentheses")
		}
		params, err := parseParams(s[open+1 : len(s)-1])
		if err != nil {
			return Ref{}, invalidRef(s, err.Error())
		}
		ref.Params = params
		s = s[:open]
	}

	if s == "" {
		return Ref{}, fmt.Errorf("empty reference: %w", ErrInvalidRef)
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return Ref{}, invalidRef(s, "empty path element")
		}
		ref.Path = append(ref.Path, part)
	}
	return ref, nil
}

func invalidRef(s, reason string) error {
	return fmt.Errorf("reference %q: %s: %w", s, reason, ErrInvalidRef)
}

func parseParams(s string) (map[string]string, error) {
	params := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return params, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q is not name=value", strings.TrimSpace(pair))
		}
		params[name] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return params, nil
}

// String renders the ref in its canonical text form
func (r Ref) String() string {
	s := strings.Join(r.Path, ".")
	if r.Key != "" {
		s += "[" + r.Key + "]"
	}
	if len(r.Params) > 0 {
		names := make([]string, 0, len(r.Params))
		for name := range r.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		pairs := make([]string, len(names))
		for i, name := range names {
			pairs[i] = name + "=" + r.Params[name]
		}
		s += "(" + strings.Join(pairs, ",") + ")"
	}
	return s
}

// ParameterError reports an invalid or missing entry parameter
type ParameterError struct {
	Entry  string
	Name   string
	Value  string
	Reason string
}

func (e *ParameterError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: parameter %s: %s", e.Entry, e.Name, e.Reason)
	}
	return fmt.Sprintf("%s: parameter %s=%q: %s", e.Entry, e.Name, e.Value, e.Reason)
}

// Resolved is a catalog entry bound to concrete parameter values
type Resolved struct {
	Ref    Ref
	Entry  *Entry
	Params map[string]string
	// URL of the data, with placeholders expanded and made absolute
	URL string
}

// Resolve looks up the entry named by ref, fills in parameter defaults,
// validates the values and expands the entry's urlpath.
func (c *Catalog) Resolve(ref Ref) (*Resolved, error) {
	node, err := c.Lookup(ref.Path...)
	if err != nil {
		return nil, err
	}
	name := strings.Join(ref.Path, ".")
	if node.Entry == nil {
		return nil, fmt.Errorf("%s is a catalog, not an entry: %w", name, ErrNotFound)
	}
	entry := node.Entry

	given := make(map[string]string, len(ref.Params)+1)
	for k, v := range ref.Params {
		given[k] = v
	}
	if ref.Key != "" {
		if len(entry.Parameters) == 0 {
			return nil, fmt.Errorf("%s takes no parameters, got [%s]: %w", name, ref.Key, ErrInvalidRef)
		}
		given[entry.Parameters[0].Name] = ref.Key
	}

	params := make(map[string]string, len(entry.Parameters))
	for _, p := range entry.Parameters {
		value, ok := given[p.Name]
		delete(given, p.Name)
		if !ok {
			if p.Default == nil {
				return nil, &ParameterError{Entry: name, Name: p.Name, Reason: "no value and no default"}
			}
			value = formatValue(p.Default)
		}
		normalized, err := p.validate(value)
		if err != nil {
			return nil, &ParameterError{Entry: name, Name: p.Name, Value: value, Reason: err.Error()}
		}
		params[p.Name] = normalized
	}
	if len(given) > 0 {
		unknown := make([]string, 0, len(given))
		for k := range given {
			unknown = append(unknown, k)
		}
		sort.Strings(unknown)
		return nil, &ParameterError{Entry: name, Name: unknown[0], Value: given[unknown[0]], Reason: "unknown parameter"}
	}

	expanded, err := expand(entry.URLPath, node.Location, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	url, err := fetch.Resolve(node.Location, expanded)
	if err != nil {
		return nil, err
	}

	return &Resolved{Ref: ref, Entry: entry, Params: params, URL: url}, nil
}

// expand substitutes placeholders in urlpath
func expand(urlpath, location string, params map[string]string) (string, error) {
	var missing []string
	out := templatePattern.ReplaceAllStringFunc(urlpath, func(m string) string {
		name := templateName(m)
		if name == catalogDir {
			return "."
		}
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("urlpath refers to undeclared parameters %s", strings.Join(missing, ", "))
	}
	return strings.TrimPrefix(out, "./"), nil
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not a datetime")
}

// validate checks value against the parameter's type and bounds and returns
// it in normalized form.
func (p Parameter) validate(value string) (string, error) {
	switch p.Type {
	case "int", "integer":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "", fmt.Errorf("not an integer")
		}
		return value, p.checkNumber(float64(n))
	case "float", "double":
		x, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(x) {
			return "", fmt.Errorf("not a number")
		}
		return value, p.checkNumber(x)
	case "datetime":
		t, err := parseDatetime(value)
		if err != nil {
			return "", err
		}
		return value, p.checkTime(t)
	default:
		return value, p.checkString(value)
	}
}

func (p Parameter) checkNumber(x float64) error {
	if len(p.Allowed) > 0 {
		for _, a := range p.Allowed {
			if y, ok := toFloat(a); ok && y == x {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", p.allowedList())
	}
	if lo, ok := toFloat(p.Min); ok && x < lo {
		return fmt.Errorf("below minimum %s", formatValue(p.Min))
	}
	if hi, ok := toFloat(p.Max); ok && x > hi {
		return fmt.Errorf("above maximum %s", formatValue(p.Max))
	}
	return nil
}

func (p Parameter) checkTime(t time.Time) error {
	if len(p.Allowed) > 0 {
		for _, a := range p.Allowed {
			if at, ok := toTime(a); ok && at.Equal(t) {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", p.allowedList())
	}
	if lo, ok := toTime(p.Min); ok && t.Before(lo) {
		return fmt.Errorf("before minimum %s", formatValue(p.Min))
	}
	if hi, ok := toTime(p.Max); ok && t.After(hi) {
		return fmt.Errorf("after maximum %s", formatValue(p.Max))
	}
	return nil
}

func (p Parameter) checkString(s string) error {
	if len(p.Allowed) == 0 {
		return nil
	}
	for _, a := range p.Allowed {
		if formatValue(a) == s {
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", p.allowedList())
}

func (p Parameter) allowedList() string {
	vals := make([]string, len(p.Allowed))
	for i, a := range p.Allowed {
		vals[i] = formatValue(a)
	}
	return strings.Join(vals, ", ")
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case string:
		t, err := parseDatetime(x)
		return t, err == nil
	}
	return time.Time{}, false
}

// formatValue renders a YAML scalar the way it is substituted into urlpaths
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		x = x.UTC()
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02T15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
