package main

import (
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rtm0/zarrcube/internal/catalog"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             any
	flagsets               []*pflag.FlagSet
}

func init() {
	options = []struct {
		name, usage, shorthand string
		defaultVal             any
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "catalog",
			usage: `
              catalog is a TOML file with [[dataset]] tables that add to or
              replace the built-in datasets.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "verbose",
			usage: `
              verbose enables debug logging.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "workers",
			usage: `
              workers is the number of time blocks loaded, compressed and
              written concurrently. 1 converts sequentially.`,
			shorthand:  "w",
			defaultVal: runtime.NumCPU(),
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "memory-limit",
			usage: `
              memory-limit is the approximate memory in MiB that blocks
              being converted may hold at once. The number of workers is
              lowered to fit. 0 disables the limit.`,
			defaultVal: 8192,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "chunks",
			usage: `
              chunks overrides the dataset's chunk sizes as three integers
              time,x,y (time, longitude, latitude).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "overwrite",
			usage: `
              overwrite replaces an existing store at the output location.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "dry-run",
			usage: `
              dry-run prints the layout of the store without writing it.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "progress",
			usage: `
              progress draws a progress bar on stderr instead of logging
              progress lines.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "dashboard",
			usage: `
              dashboard is the listen address of the status endpoint, for
              example localhost:7171. Empty disables it.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "vm-insert-url",
			usage: `
              vm-insert-url is the Victoria Metrics insert API URL that run
              statistics are pushed to, for example
              http://localhost:8428/write. Empty disables the push.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "vm-metric-prefix",
			usage: `
              vm-metric-prefix is the metric name of pushed statistics.`,
			defaultVal: "zarrcube",
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("ZARRCUBE")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 {
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return errors.Wrap(err, "problem reading configuration file")
		}
	}
	return nil
}

// parseChunks reads a time,x,y chunk descriptor. An empty value means no
// override.
func parseChunks(v any) (*catalog.Chunks, error) {
	var parts []string
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		parts = strings.Split(s, ",")
	default:
		var err error
		if parts, err = cast.ToStringSliceE(v); err != nil {
			return nil, errors.Wrap(err, "chunks")
		}
	}
	if len(parts) != 3 {
		return nil, errors.Errorf("chunks: want three sizes time,x,y, got %d", len(parts))
	}
	n := make([]int, 3)
	for i, p := range parts {
		var err error
		if n[i], err = cast.ToIntE(strings.TrimSpace(p)); err != nil {
			return nil, errors.Wrapf(err, "chunks: size %q", p)
		}
		if n[i] < 1 {
			return nil, errors.Errorf("chunks: size %d is not positive", n[i])
		}
	}
	return &catalog.Chunks{Time: n[0], X: n[1], Y: n[2]}, nil
}

// loadCatalog returns the built-in datasets plus those of the --catalog
// file.
func loadCatalog() (*catalog.Catalog, error) {
	path := Cfg.GetString("catalog")
	if path == "" {
		return catalog.New(), nil
	}
	extra, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return catalog.New(extra...), nil
}
