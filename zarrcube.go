// Command zarrcube converts directories of NetCDF, GeoTIFF and HDF5 rasters
// into chunked, compressed Zarr stores.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtm0/zarrcube/internal/convert"
	"github.com/rtm0/zarrcube/internal/dashboard"
	"github.com/rtm0/zarrcube/internal/source"
	"github.com/rtm0/zarrcube/internal/vm"
)

// Version is the version of zarrcube.
const Version = "0.3.0"

var logger = logrus.New()

func main() {
	if err := Root.Execute(); err != nil {
		entry := logger.WithError(err)
		var se *convert.StageError
		if errors.As(err, &se) {
			entry = entry.WithField("stage", se.Stage)
		}
		entry.Error("zarrcube failed")
		os.Exit(1)
	}
}

func setLogger(cmd *cobra.Command) {
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	if Cfg.GetBool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "zarrcube",
	Short: "Convert raster datasets into Zarr stores.",
	Long: `zarrcube converts a directory of NetCDF, GeoTIFF or HDF5 files that
make up one dataset into a single Zarr v2 store with consolidated metadata.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'ZARRCUBE_var' where 'var'
is the name of the flag with dashes replaced by underscores.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := setConfig(); err != nil {
			return err
		}
		setLogger(cmd)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "zarrcube v%s\n", Version)
	},
	DisableAutoGenTag: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known datasets",
	Long: `list prints every dataset of the built-in catalog and of the
--catalog file with its format and default locations. GDAL is "yes" for
datasets whose tiles can only be read by a binary built with -tags gdal.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFORMAT\tGDAL\tINPUT\tOUTPUT\tDESCRIPTION")
		for _, name := range cat.Names() {
			d, err := cat.Lookup(name)
			if err != nil {
				return err
			}
			gdal := "no"
			if source.NeedsGDAL(d) != "" {
				gdal = "yes"
				if !source.HasGDAL() {
					gdal = "yes, not in this build"
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Name, d.Format, gdal, d.InputDir, d.Output, d.Description)
		}
		return tw.Flush()
	},
	DisableAutoGenTag: true,
}

var convertCmd = &cobra.Command{
	Use:   "convert <dataset> [input_directory] [output]",
	Short: "Convert a dataset into a Zarr store",
	Long: `convert reads every input file of a dataset, orders the time steps
chronologically and writes them as one Zarr store. The input directory and the
output location default to those of the catalog entry. The output is a
directory path or a blob URL such as gs://bucket/path.zarr or
s3://bucket/path.zarr. Nothing is visible at the output before the whole store
is written.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		d, err := cat.Lookup(args[0])
		if err != nil {
			return err
		}
		chunks, err := parseChunks(Cfg.Get("chunks"))
		if err != nil {
			return err
		}
		opts := convert.Options{
			Workers:     Cfg.GetInt("workers"),
			MemoryLimit: int64(Cfg.GetInt("memory-limit")) << 20,
			Chunks:      chunks,
			Overwrite:   Cfg.GetBool("overwrite"),
			DryRun:      Cfg.GetBool("dry-run"),
		}
		if len(args) > 1 {
			opts.InputDir = args[1]
		}
		if len(args) > 2 {
			opts.Output = args[2]
		}
		if Cfg.GetBool("progress") {
			opts.Progress = cmd.ErrOrStderr()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := convert.New(logger, opts, nil)
		if addr := Cfg.GetString("dashboard"); addr != "" {
			srv, err := dashboard.Start(addr, c.Status(), logger)
			if err != nil {
				return err
			}
			defer srv.Shutdown(context.Background())
			fmt.Fprintf(cmd.OutOrStdout(), "status dashboard: %s\n", srv.URL())
			logger.WithField("url", srv.URL()).Debug("dashboard listening")
		}

		res, err := c.Run(ctx, d)
		if err != nil {
			return err
		}
		if res.DryRun {
			return res.Plan.Summary(cmd.OutOrStdout())
		}
		if url := Cfg.GetString("vm-insert-url"); url != "" {
			pushStats(ctx, url, res)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

func init() {
	Root.AddCommand(versionCmd, listCmd, convertCmd)
}

// pushStats sends the statistics of res to Victoria Metrics. Failures are
// logged; the store is already published.
func pushStats(ctx context.Context, url string, res *convert.Result) {
	cli, err := vm.NewClient(logger, url, 1, Cfg.GetString("vm-metric-prefix"))
	if err != nil {
		logger.WithError(err).Warn("could not create Victoria Metrics client")
		return
	}
	if err := cli.Insert(ctx, statsRecords(res, time.Now())); err != nil {
		logger.WithError(err).Warn("could not push statistics")
		return
	}
	logger.WithField("records", len(res.Stats)).Debug("pushed statistics")
}

func statsRecords(res *convert.Result, at time.Time) []vm.Record {
	recs := make([]vm.Record, len(res.Stats))
	for i, s := range res.Stats {
		recs[i] = vm.Record{
			Timestamp: at.UnixMilli(),
			Dataset:   res.Dataset,
			Var:       s.Name,
			Valid:     int64(s.Valid),
			Missing:   int64(s.Missing),
			Min:       s.Min,
			Max:       s.Max,
			Mean:      s.Mean,
			Seconds:   res.Elapsed.Seconds(),
		}
	}
	return recs
}
