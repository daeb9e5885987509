package catalog

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type file struct {
	Datasets []Dataset `toml:"dataset"`
}

// LoadFile reads dataset definitions from a TOML file with one [[dataset]]
// table per dataset.
func LoadFile(path string) ([]Dataset, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer r.Close()
	ds, err := Load(r)
	return ds, errors.Wrap(err, path)
}

// Load is LoadFile for an already open reader.
func Load(r io.Reader) ([]Dataset, error) {
	var f file
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	return check(f, md)
}

func check(f file, md toml.MetaData) ([]Dataset, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown catalog keys: %v", undecoded)
	}
	for i, d := range f.Datasets {
		if err := d.WithDefaults().Validate(); err != nil {
			return nil, errors.Wrapf(err, "catalog entry %d", i)
		}
	}
	return f.Datasets, nil
}
