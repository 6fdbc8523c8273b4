// Package catalog reads intake style YAML catalogs and opens the netCDF
// datasets they describe as time series.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/d70-t/how-to-eurec4a/pkg/fetch"
)

// ErrNotFound is returned for unknown catalog paths and variables.
var ErrNotFound = errors.New("not found")

// ErrInvalidRef is returned for malformed dataset references.
var ErrInvalidRef = errors.New("invalid catalog reference")

// maxIncludeDepth bounds nested catalog files.
const maxIncludeDepth = 16

// catalogDir is the template variable naming the directory of the catalog
// file a source is defined in.
const catalogDir = "CATALOG_DIR"

// Fetcher reads a location
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Parameter is a user parameter of a catalog entry
type Parameter struct {
	Name        string        `yaml:"-" json:"name"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Type        string        `yaml:"type" json:"type,omitempty"`
	Default     interface{}   `yaml:"default" json:"default,omitempty"`
	Allowed     []interface{} `yaml:"allowed" json:"allowed,omitempty"`
	Min         interface{}   `yaml:"min" json:"min,omitempty"`
	Max         interface{}   `yaml:"max" json:"max,omitempty"`
}

// Entry is an openable data source
type Entry struct {
	Driver     string                 `json:"driver,omitempty"`
	URLPath    string                 `json:"urlpath"`
	Parameters []Parameter            `json:"parameters,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Parameter returns the parameter called name
func (e *Entry) Parameter(name string) (Parameter, bool) {
	for _, p := range e.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ParameterNames lists the parameter names in declaration order
func (e *Entry) ParameterNames() []string {
	names := make([]string, len(e.Parameters))
	for i, p := range e.Parameters {
		names[i] = p.Name
	}
	return names
}

// Node is a catalog tree node: either a nested catalog or an entry.
type Node struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Entry       *Entry  `json:"entry,omitempty"`
	Children    []*Node `json:"children,omitempty"`
	// Location of the catalog file the node is defined in
	Location string `json:"-"`
}

// Child returns the direct child called name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Catalog is a loaded catalog tree
type Catalog struct {
	Location string
	Root     *Node
}

// Lookup returns the node at path; an empty path is the root.
func (c *Catalog) Lookup(path ...string) (*Node, error) {
	n := c.Root
	for i, name := range path {
		n = n.Child(name)
		if n == nil {
			return nil, fmt.Errorf("catalog path %q: %w", strings.Join(path[:i+1], "."), ErrNotFound)
		}
	}
	return n, nil
}

// Walk calls fn for every node below the root in depth first order.
func (c *Catalog) Walk(fn func(path []string, n *Node)) {
	var walk func(prefix []string, n *Node)
	walk = func(prefix []string, n *Node) {
		for _, child := range n.Children {
			path := append(append([]string(nil), prefix...), child.Name)
			fn(path, child)
			walk(path, child)
		}
	}
	walk(nil, c.Root)
}

// Entries lists the dotted paths of all entries
func (c *Catalog) Entries() []string {
	var out []string
	c.Walk(func(path []string, n *Node) {
		if n.Entry != nil {
			out = append(out, strings.Join(path, "."))
		}
	})
	return out
}

type rawSource struct {
	Description string `yaml:"description"`
	Driver      string `yaml:"driver"`
	Args        struct {
		URLPath string `yaml:"urlpath"`
		Path    string `yaml:"path"`
	} `yaml:"args"`
	Parameters yaml.Node              `yaml:"parameters"`
	Sources    yaml.Node              `yaml:"sources"`
	Metadata   map[string]interface{} `yaml:"metadata"`
}

// isInclude reports whether the source refers to another catalog file.
func (s *rawSource) isInclude() bool {
	switch s.Driver {
	case "yaml_file_cat", "intake.catalog.local.YAMLFileCatalog":
		return true
	}
	return false
}

type loader struct {
	fetcher Fetcher
}

// Load reads the catalog at location, following included catalog files.
func Load(ctx context.Context, f Fetcher, location string) (*Catalog, error) {
	l := &loader{fetcher: f}
	root := &Node{Location: location}
	if err := l.loadFile(ctx, root, location, 0); err != nil {
		return nil, err
	}
	return &Catalog{Location: location, Root: root}, nil
}

// Parse decodes a single catalog file without following includes.
func Parse(data []byte, location string) (*Catalog, error) {
	root := &Node{Location: location}
	if err := (&loader{}).decode(context.Background(), root, data, location, 0); err != nil {
		return nil, err
	}
	return &Catalog{Location: location, Root: root}, nil
}

func (l *loader) loadFile(ctx context.Context, into *Node, location string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("catalog %s: includes nested deeper than %d", location, maxIncludeDepth)
	}
	data, err := l.fetcher.Fetch(ctx, location)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	return l.decode(ctx, into, data, location, depth)
}

func (l *loader) decode(ctx context.Context, into *Node, data []byte, location string, depth int) error {
	var top rawSource
	if err := yaml.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("catalog %s: %w", location, err)
	}
	if into.Description == "" {
		into.Description = top.Description
	}
	return l.addSources(ctx, into, &top.Sources, location, depth)
}

func (l *loader) addSources(ctx context.Context, parent *Node, sources *yaml.Node, location string, depth int) error {
	if sources.Kind == 0 {
		return nil
	}
	if sources.Kind != yaml.MappingNode {
		return fmt.Errorf("catalog %s line %d: sources must be a mapping", location, sources.Line)
	}

	for i := 0; i+1 < len(sources.Content); i += 2 {
		name := sources.Content[i].Value
		var raw rawSource
		if err := sources.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("catalog %s source %s: %w", location, name, err)
		}

		node := &Node{Name: name, Description: raw.Description, Location: location}
		switch {
		case raw.isInclude():
			if l.fetcher == nil {
				return fmt.Errorf("catalog %s source %s: includes need a fetcher", location, name)
			}
			sub, err := resolveRelative(location, raw.Args.Path)
			if err != nil {
				return err
			}
			node.Location = sub
			if err := l.loadFile(ctx, node, sub, depth+1); err != nil {
				return err
			}
		case raw.Args.URLPath != "":
			params, err := decodeParameters(&raw.Parameters)
			if err != nil {
				return fmt.Errorf("catalog %s source %s: %w", location, name, err)
			}
			node.Entry = &Entry{
				Driver:     raw.Driver,
				URLPath:    raw.Args.URLPath,
				Parameters: params,
				Metadata:   raw.Metadata,
			}
		default:
			if err := l.addSources(ctx, node, &raw.Sources, location, depth); err != nil {
				return err
			}
		}
		parent.Children = append(parent.Children, node)
	}
	return nil
}

// decodeParameters keeps the declaration order of the parameter mapping.
func decodeParameters(params *yaml.Node) ([]Parameter, error) {
	if params.Kind == 0 {
		return nil, nil
	}
	if params.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: parameters must be a mapping", params.Line)
	}
	var out []Parameter
	for i := 0; i+1 < len(params.Content); i += 2 {
		var p Parameter
		if err := params.Content[i+1].Decode(&p); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", params.Content[i].Value, err)
		}
		p.Name = params.Content[i].Value
		out = append(out, p)
	}
	return out, nil
}

// resolveRelative resolves a path of a catalog file, which may start with
// the {{CATALOG_DIR}} template, against the file's location.
func resolveRelative(location, path string) (string, error) {
	path = templatePattern.ReplaceAllStringFunc(path, func(m string) string {
		if templateName(m) == catalogDir {
			return "."
		}
		return m
	})
	path = strings.TrimPrefix(path, "./")
	return fetch.Resolve(location, path)
}
