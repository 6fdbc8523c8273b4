package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/d70-t/how-to-eurec4a/internal/app"
	"github.com/d70-t/how-to-eurec4a/pkg/report"
)

// FractionOptions holds the flags of the fraction command.
type FractionOptions struct {
	Ref      string
	Variable string
	Segment  string
	Start    string
	End      string
	Flags    []string
	Codes    []int
	Above    float64
	AtMost   float64
	Preset   string
	Window   time.Duration
	Offset   time.Duration
	Output   string
}

// NewFractionCommand creates the fraction command.
func NewFractionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FractionOptions{}

	cmd := &cobra.Command{
		Use:   "fraction",
		Short: "Compute the fraction of hits of a variable over a segment or interval",
		Long: `Compute the fraction of samples selected as hits among the valid samples
of a dataset variable. Missing samples count neither as hits nor as valid.

Hits are selected by flag names (--flags), raw flag codes (--codes), a
threshold (--above, --at-most) or a --preset. With --window the fraction is
also reported per window, windows aligned to multiples of the window length
and labelled with window start plus --offset.`,
		Example: `  eurec4a fraction --ref 'HALO.WALES.cloudparameter[HALO-0205]' \
    --variable cloud_mask --segment HALO-0205_c1 \
    --flags probably_cloudy,most_likely_cloudy --window 1m --offset 30s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFraction(rootOpts, opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Ref, "ref", "", "catalog reference of the dataset")
	f.StringVar(&opts.Variable, "variable", "", "variable to aggregate")
	f.StringVar(&opts.Segment, "segment", "", "flight segment id")
	f.StringVar(&opts.Start, "start", "", "interval start (RFC 3339)")
	f.StringVar(&opts.End, "end", "", "interval end, exclusive (RFC 3339)")
	f.StringSliceVar(&opts.Flags, "flags", nil, "flag names counted as hits")
	f.IntSliceVar(&opts.Codes, "codes", nil, "flag codes counted as hits")
	f.Float64Var(&opts.Above, "above", 0, "count values greater than this")
	f.Float64Var(&opts.AtMost, "at-most", 0, "count values less than or equal to this")
	f.StringVar(&opts.Preset, "preset", "", "named selection: "+strings.Join(app.Presets(), ", "))
	f.DurationVar(&opts.Window, "window", 0, "resampling window, e.g. 1m")
	f.DurationVar(&opts.Offset, "offset", 0, "window label offset, e.g. 30s")
	f.StringVarP(&opts.Output, "output", "o", "", "write the report to this file instead of stdout")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("variable")

	return cmd
}

// parseTime accepts RFC 3339 and the plain forms used in the segmentation
func parseTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", timeLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, NewExitError(ExitUsage, fmt.Sprintf("invalid %s %q", name, value))
}

func (o *FractionOptions) request(cmd *cobra.Command) (app.Request, error) {
	req := app.Request{
		Ref:      o.Ref,
		Variable: o.Variable,
		Segment:  o.Segment,
		Flags:    o.Flags,
		Codes:    o.Codes,
		Window:   o.Window,
		Offset:   o.Offset,
	}

	var err error
	if req.Start, err = parseTime("--start", o.Start); err != nil {
		return req, err
	}
	if req.End, err = parseTime("--end", o.End); err != nil {
		return req, err
	}
	if cmd.Flags().Changed("above") {
		above := o.Above
		req.Above = &above
	}
	if cmd.Flags().Changed("at-most") {
		atMost := o.AtMost
		req.AtMost = &atMost
	}
	if o.Preset != "" {
		if err := req.ApplyPreset(o.Preset); err != nil {
			return req, classify("applying preset", err)
		}
	}
	return req, classify("invalid request", req.Validate())
}

func runFraction(rootOpts *RootOptions, opts *FractionOptions, cmd *cobra.Command) error {
	req, err := opts.request(cmd)
	if err != nil {
		return err
	}
	svc, _, err := rootOpts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.CloudFraction(cmd.Context(), req)
	if err != nil {
		return classify("computing fraction", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		file, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitFailure, "creating report", err)
		}
		defer file.Close()
		w = file
	}

	if err := report.Write(w, rootOpts.Format, result.Rows()); err != nil {
		return WrapExitError(ExitFailure, "writing report", err)
	}
	return nil
}
