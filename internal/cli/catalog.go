package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/d70-t/how-to-eurec4a/pkg/catalog"
)

// catalogEntry is the JSON form of one catalog entry
type catalogEntry struct {
	Path        string              `json:"path"`
	Description string              `json:"description,omitempty"`
	Driver      string              `json:"driver,omitempty"`
	URLPath     string              `json:"urlpath"`
	Parameters  []catalog.Parameter `json:"parameters,omitempty"`
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the intake catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "tree",
		Short:         "Print the catalog hierarchy with entry parameters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogTree(rootOpts, cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "describe [path]",
		Short: "Describe the entries below a dotted catalog path",
		Long: `Describe the entries directly below a dotted catalog path, or the entry
itself, listing every parameter with its range or allowed values and its
default.`,
		Example:       "  eurec4a catalog describe HALO.WALES",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path []string
			if len(args) == 1 && args[0] != "" {
				path = strings.Split(args[0], ".")
			}
			return runCatalogDescribe(rootOpts, path, cmd)
		},
	})

	return cmd
}

func runCatalogTree(opts *RootOptions, cmd *cobra.Command) error {
	if err := opts.textOrJSON("catalog tree"); err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	cat, err := svc.Catalog(cmd.Context())
	if err != nil {
		return classify("loading catalog", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), catalogEntries(cat))
	}
	return cat.Tree(cmd.OutOrStdout())
}

func catalogEntries(cat *catalog.Catalog) []catalogEntry {
	entries := make([]catalogEntry, 0)
	cat.Walk(func(path []string, n *catalog.Node) {
		if n.Entry == nil {
			return
		}
		entries = append(entries, catalogEntry{
			Path:        strings.Join(path, "."),
			Description: n.Description,
			Driver:      n.Entry.Driver,
			URLPath:     n.Entry.URLPath,
			Parameters:  n.Entry.Parameters,
		})
	})
	return entries
}

func runCatalogDescribe(opts *RootOptions, path []string, cmd *cobra.Command) error {
	if err := opts.textOrJSON("catalog describe"); err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	cat, err := svc.Catalog(cmd.Context())
	if err != nil {
		return classify("loading catalog", err)
	}

	if opts.Format == "json" {
		return describeJSON(cmd.OutOrStdout(), cat, path)
	}
	return classify("describing catalog", cat.Describe(cmd.OutOrStdout(), path...))
}

func describeJSON(w io.Writer, cat *catalog.Catalog, path []string) error {
	node, err := cat.Lookup(path...)
	if err != nil {
		return classify("describing catalog", err)
	}

	children := node.Children
	if node.Entry != nil {
		children = []*catalog.Node{node}
		path = path[:len(path)-1]
	}

	out := make([]catalogEntry, 0, len(children))
	for _, child := range children {
		if child.Entry == nil {
			continue
		}
		out = append(out, catalogEntry{
			Path:        strings.Join(append(append([]string(nil), path...), child.Name), "."),
			Description: child.Description,
			Driver:      child.Entry.Driver,
			URLPath:     child.Entry.URLPath,
			Parameters:  child.Entry.Parameters,
		})
	}
	return writeJSON(w, out)
}
