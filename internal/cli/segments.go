package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/d70-t/how-to-eurec4a/pkg/segments"
)

const timeLayout = "2006-01-02 15:04:05"

// SegmentsOptions narrows the listed segments
type SegmentsOptions struct {
	Kind     string
	Platform string
	Flight   string
	Date     string
}

func (o *SegmentsOptions) selector() (segments.Selector, error) {
	if o.Date != "" {
		if _, err := time.Parse("2006-01-02", o.Date); err != nil {
			return segments.Selector{}, NewExitError(ExitUsage, fmt.Sprintf("invalid --date %q, use YYYY-MM-DD", o.Date))
		}
	}
	return segments.Selector{Kind: o.Kind, Platform: o.Platform, Flight: o.Flight, Date: o.Date}, nil
}

func (o *SegmentsOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Kind, "kind", "", "segment kind, e.g. circle")
	cmd.Flags().StringVar(&o.Platform, "platform", "", "platform id, e.g. HALO")
	cmd.Flags().StringVar(&o.Flight, "flight", "", "flight id, e.g. HALO-0205")
	cmd.Flags().StringVar(&o.Date, "date", "", "UTC day the segment starts on (YYYY-MM-DD)")
}

// NewSegmentsCommand creates the segments command.
func NewSegmentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "Query the flight phase segmentation",
	}

	listOpts := &SegmentsOptions{}
	list := &cobra.Command{
		Use:           "list",
		Short:         "List segments ordered by start time",
		Example:       "  eurec4a segments list --kind circle --date 2020-02-05",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegmentsList(rootOpts, listOpts, cmd)
		},
	}
	listOpts.bind(list)

	kindsOpts := &SegmentsOptions{}
	kinds := &cobra.Command{
		Use:           "kinds",
		Short:         "List segment kinds with their segments and total time",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegmentsKinds(rootOpts, kindsOpts, cmd)
		},
	}
	kindsOpts.bind(kinds)

	var flightDate string
	flights := &cobra.Command{
		Use:           "flights",
		Short:         "List flight ids",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegmentsFlights(rootOpts, flightDate, cmd)
		},
	}
	flights.Flags().StringVar(&flightDate, "date", "", "only flights on this day (YYYY-MM-DD)")

	var quality string
	sondes := &cobra.Command{
		Use:           "sondes <segment-id>",
		Short:         "List the dropsondes launched in a segment",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegmentsSondes(rootOpts, args[0], quality, cmd)
		},
	}
	sondes.Flags().StringVar(&quality, "quality", "GOOD", "sonde quality flag")

	cmd.AddCommand(list, kinds, flights, sondes)
	cmd.AddCommand(&cobra.Command{
		Use:           "show <segment-id>",
		Short:         "Show one segment",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegmentsShow(rootOpts, args[0], cmd)
		},
	})

	return cmd
}

func runSegmentsList(opts *RootOptions, segOpts *SegmentsOptions, cmd *cobra.Command) error {
	if err := opts.textOrJSON("segments list"); err != nil {
		return err
	}
	sel, err := segOpts.selector()
	if err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	segs, err := svc.Segments(cmd.Context(), sel)
	if err != nil {
		return classify("listing segments", err)
	}

	if opts.Format == "json" {
		if segs == nil {
			segs = []segments.Segment{}
		}
		return writeJSON(cmd.OutOrStdout(), segs)
	}
	return writeSegmentTable(cmd.OutOrStdout(), segs)
}

func writeSegmentTable(w io.Writer, segs []segments.Segment) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tPLATFORM\tKINDS\tSTART\tEND\tDURATION")
	for _, s := range segs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.SegmentID, s.PlatformID, strings.Join(s.Kinds, ","),
			s.Start.UTC().Format(timeLayout), s.End.UTC().Format(timeLayout), s.Duration())
	}
	return tw.Flush()
}

func runSegmentsShow(opts *RootOptions, id string, cmd *cobra.Command) error {
	if err := opts.textOrJSON("segments show"); err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	seg, err := svc.Segment(cmd.Context(), id)
	if err != nil {
		return classify("looking up segment", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), seg)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "segment_id:\t%s\n", seg.SegmentID)
	if seg.Name != "" {
		fmt.Fprintf(tw, "name:\t%s\n", seg.Name)
	}
	fmt.Fprintf(tw, "platform:\t%s\n", seg.PlatformID)
	fmt.Fprintf(tw, "flight:\t%s\n", seg.FlightID)
	fmt.Fprintf(tw, "kinds:\t%s\n", strings.Join(seg.Kinds, ", "))
	fmt.Fprintf(tw, "start:\t%s\n", seg.Start.UTC().Format(timeLayout))
	fmt.Fprintf(tw, "end:\t%s\n", seg.End.UTC().Format(timeLayout))
	fmt.Fprintf(tw, "duration:\t%s\n", seg.Duration())
	qualities := make([]string, 0, len(seg.Dropsondes))
	for q := range seg.Dropsondes {
		qualities = append(qualities, q)
	}
	sort.Strings(qualities)
	for _, q := range qualities {
		fmt.Fprintf(tw, "sondes %s:\t%s\n", q, strings.Join(seg.Sondes(q), ", "))
	}
	return tw.Flush()
}

// kindSummary is one row of the kinds listing
type kindSummary struct {
	Kind     string        `json:"kind"`
	Segments []string      `json:"segments"`
	Total    time.Duration `json:"total_ns"`
}

func runSegmentsKinds(opts *RootOptions, segOpts *SegmentsOptions, cmd *cobra.Command) error {
	if err := opts.textOrJSON("segments kinds"); err != nil {
		return err
	}
	sel, err := segOpts.selector()
	if err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	segs, err := svc.Segments(cmd.Context(), sel)
	if err != nil {
		return classify("listing segments", err)
	}

	byKind := segments.IDsByKind(segs)
	summaries := make([]kindSummary, 0, len(byKind))
	for _, kind := range segments.Kinds(segs) {
		summaries = append(summaries, kindSummary{
			Kind:     kind,
			Segments: byKind[kind],
			Total:    segments.TotalDuration(segs, kind),
		})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), summaries)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSEGMENTS\tTOTAL")
	for _, k := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", k.Kind, len(k.Segments), k.Total)
	}
	return tw.Flush()
}

func runSegmentsFlights(opts *RootOptions, date string, cmd *cobra.Command) error {
	if err := opts.textOrJSON("segments flights"); err != nil {
		return err
	}
	var day time.Time
	if date != "" {
		var err error
		if day, err = time.Parse("2006-01-02", date); err != nil {
			return NewExitError(ExitUsage, fmt.Sprintf("invalid --date %q, use YYYY-MM-DD", date))
		}
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	snap, err := svc.SegmentSnapshot(cmd.Context())
	if err != nil {
		return classify("loading flight segments", err)
	}

	ids := segments.FlightIDs(snap.Meta)
	if date != "" {
		ids = segments.FlightIDsOn(snap.Meta, day)
	}

	if opts.Format == "json" {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(cmd.OutOrStdout(), ids)
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runSegmentsSondes(opts *RootOptions, id, quality string, cmd *cobra.Command) error {
	if err := opts.textOrJSON("segments sondes"); err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	seg, err := svc.Segment(cmd.Context(), id)
	if err != nil {
		return classify("looking up segment", err)
	}

	ids := seg.Sondes(quality)
	if opts.Format == "json" {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(cmd.OutOrStdout(), ids)
	}
	for _, s := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), s)
	}
	return nil
}
