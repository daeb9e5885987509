package convert

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
	"github.com/rtm0/zarrcube/internal/pool"
	"github.com/rtm0/zarrcube/internal/source"
)

// Entry is one time step of the output: the file holding it, the step's
// position within that file, and its timestamp.
type Entry struct {
	File int
	Step int
	Time time.Time
}

// Index lists every time step of a dataset's files. All files share Grid
// and the variables in Vars.
type Index struct {
	Files []string
	Grid  cube.Grid
	Vars  []source.Var
	// Attrs are the global attributes of the first file.
	Attrs   map[string]any
	Entries []Entry
}

type fileMeta struct {
	grid  cube.Grid
	times []time.Time
	vars  []source.Var
	attrs map[string]any
}

// BuildIndex reads the metadata of every file on up to workers goroutines
// and checks that the files agree on grid and variables.
func BuildIndex(ctx context.Context, d catalog.Dataset, files []string, workers int) (*Index, error) {
	metas := make([]fileMeta, len(files))
	err := pool.Run(ctx, workers, len(files), func(_ context.Context, i int) error {
		f, err := source.Open(files[i], d)
		if err != nil {
			return err
		}
		defer f.Close()
		metas[i] = fileMeta{grid: f.Grid(), times: f.Times(), vars: f.Vars(), attrs: f.Attrs()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, cube.ErrEmpty
	}

	first := metas[0]
	if len(first.vars) == 0 {
		return nil, errors.Errorf("%s: no data variables", files[0])
	}
	x := &Index{Files: files, Grid: first.grid, Vars: first.vars, Attrs: first.attrs}
	for i, m := range metas {
		if err := first.grid.Check(m.grid); err != nil {
			return nil, errors.Wrapf(err, "%s", files[i])
		}
		if err := checkVars(first.vars, m.vars); err != nil {
			return nil, errors.Wrapf(err, "%s", files[i])
		}
		for step, t := range m.times {
			x.Entries = append(x.Entries, Entry{File: i, Step: step, Time: t})
		}
	}
	return x, nil
}

func checkVars(want, got []source.Var) error {
	if len(want) != len(got) {
		return errors.Wrapf(cube.ErrShapeMismatch, "%d variables, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i].Name != got[i].Name {
			return errors.Wrapf(cube.ErrShapeMismatch, "variable %q, want %q", got[i].Name, want[i].Name)
		}
	}
	return nil
}

// Sort orders the entries by time, keeping the file order of equal
// timestamps, and returns the timestamps that occur more than once.
func (x *Index) Sort() []time.Time {
	sort.SliceStable(x.Entries, func(i, j int) bool {
		return x.Entries[i].Time.Before(x.Entries[j].Time)
	})
	return cube.DuplicateTimes(x.Times())
}

// Times returns the timestamp of every entry.
func (x *Index) Times() []time.Time {
	times := make([]time.Time, len(x.Entries))
	for i, e := range x.Entries {
		times[i] = e.Time
	}
	return times
}
