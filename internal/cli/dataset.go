package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/d70-t/how-to-eurec4a/internal/logger"
	"github.com/d70-t/how-to-eurec4a/pkg/catalog"
	"github.com/d70-t/how-to-eurec4a/pkg/flags"
	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// variableInfo is one row of the variable listing
type variableInfo struct {
	Name     string   `json:"name"`
	LongName string   `json:"long_name,omitempty"`
	Units    string   `json:"units,omitempty"`
	Valid    int      `json:"valid"`
	Total    int      `json:"total"`
	Flags    []string `json:"flags,omitempty"`
}

// NewDatasetCommand creates the dataset command.
func NewDatasetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Open catalog entries",
		Long: `Open catalog entries. A reference is a dotted catalog path, optionally
followed by the value of its first parameter in brackets or by name=value
pairs in parentheses:

  HALO.WALES.cloudparameter[HALO-0205]
  Meteor.LIMRAD94.ACTRIS(date=2020-02-05,version=1.1)`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "vars <ref>",
		Short:         "List the time series variables of a dataset",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetVars(rootOpts, args[0], cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "sample <ref> <variable> <time>",
		Short:         "Print the sample closest to a time, e.g. a sonde launch",
		Example:       "  eurec4a dataset sample 'HALO.WALES.cloudparameter[HALO-0205]' cloud_mask 2020-02-05T12:31:10Z",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetSample(rootOpts, args[0], args[1], args[2], cmd)
		},
	})

	var segment string
	export := &cobra.Command{
		Use:           "export <ref> <file>",
		Short:         "Write a dataset, or one segment of it, as classic netCDF",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetExport(rootOpts, args[0], args[1], segment, cmd)
		},
	}
	export.Flags().StringVar(&segment, "segment", "", "only samples inside this flight segment")
	cmd.AddCommand(export)

	return cmd
}

func describeVariable(s types.Series) variableInfo {
	info := variableInfo{
		Name:     s.Metric.Name,
		LongName: s.Attr("long_name"),
		Units:    s.Attr("units"),
		Valid:    s.ValidCount(),
		Total:    len(s.Samples),
	}
	if meanings := s.Attr(flags.AttrFlagMeanings); meanings != "" {
		if table, err := flags.ParseTable(meanings, s.Attr(flags.AttrFlagValues)); err == nil {
			for _, name := range table.Names() {
				code, _ := table.Code(name)
				info.Flags = append(info.Flags, fmt.Sprintf("%d=%s", code, name))
			}
		}
	}
	return info
}

func runDatasetVars(opts *RootOptions, ref string, cmd *cobra.Command) error {
	if err := opts.textOrJSON("dataset vars"); err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	ds, err := svc.Dataset(cmd.Context(), ref)
	if err != nil {
		return classify("opening dataset", err)
	}

	infos := make([]variableInfo, len(ds.Series))
	for i, s := range ds.Series {
		infos[i] = describeVariable(s)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), infos)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tVALID\tTOTAL\tUNITS\tFLAGS")
	for _, v := range infos {
		units, flagList := v.Units, "-"
		if units == "" {
			units = "-"
		}
		if len(v.Flags) > 0 {
			flagList = fmt.Sprint(v.Flags)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", v.Name, v.Valid, v.Total, units, flagList)
	}
	return tw.Flush()
}

// nearestSample is the JSON form of a sample lookup
type nearestSample struct {
	Variable  string    `json:"variable"`
	Requested time.Time `json:"requested"`
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
	Flag      string    `json:"flag,omitempty"`
}

func runDatasetSample(opts *RootOptions, ref, variable, at string, cmd *cobra.Command) error {
	if err := opts.textOrJSON("dataset sample"); err != nil {
		return err
	}
	t, err := parseTime("time", at)
	if err != nil {
		return err
	}
	svc, _, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	ds, err := svc.Dataset(cmd.Context(), ref)
	if err != nil {
		return classify("opening dataset", err)
	}
	series, err := ds.Variable(variable)
	if err != nil {
		return classify("opening dataset", err)
	}
	sample, ok := series.Nearest(t)
	if !ok {
		return NewExitError(ExitBadData, fmt.Sprintf("%s has no samples", variable))
	}

	out := nearestSample{Variable: variable, Requested: t, Timestamp: sample.Timestamp}
	if sample.Valid {
		v := sample.Value
		out.Value = &v
		if fs, err := ds.Flags(variable); err == nil && fs.Table != nil {
			out.Flag, _ = fs.Table.Name(int(v))
		}
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	value := "missing"
	if out.Value != nil {
		value = fmt.Sprintf("%g", *out.Value)
		if out.Flag != "" {
			value += " (" + out.Flag + ")"
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", sample.Timestamp.UTC().Format(timeLayout), variable, value)
	return err
}

func runDatasetExport(opts *RootOptions, ref, file, segment string, cmd *cobra.Command) error {
	svc, log, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	ds, err := svc.Dataset(cmd.Context(), ref)
	if err != nil {
		return classify("opening dataset", err)
	}

	series := ds.Series
	if segment != "" {
		seg, err := svc.Segment(cmd.Context(), segment)
		if err != nil {
			return classify("looking up segment", err)
		}
		series = make([]types.Series, len(ds.Series))
		for i, s := range ds.Series {
			series[i] = s.Slice(seg.Start, seg.End)
		}
	}

	data, err := catalog.Encode(series)
	if err != nil {
		return classify("encoding netCDF", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return WrapExitError(ExitFailure, "writing "+file, err)
	}

	log.WithComponent("cli").WithFields(logger.Fields{
		"ref":       ds.Ref.String(),
		"file":      file,
		"variables": len(series),
	}).Info("exported dataset")
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d variables of %s to %s\n", len(series), ds.Ref, file)
	return err
}
