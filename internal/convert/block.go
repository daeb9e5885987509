package convert

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
	"github.com/rtm0/zarrcube/internal/source"
	"github.com/rtm0/zarrcube/internal/zarr"
)

// writeBlock loads the time steps of chunk row k straight into one block
// buffer and writes every chunk of the row. The entries are already in time
// order. It returns the statistics of each data variable over the block in
// the order of p.Vars.
func writeBlock(ctx context.Context, d catalog.Dataset, p *Plan, x *Index, w *zarr.Writer, k int) ([]VarStats, error) {
	ct := p.ChunkShape[0]
	lo, hi := k*ct, min((k+1)*ct, len(x.Entries))

	c, err := cube.New(x.Grid, p.VarNames(), hi-lo, d.Transpose)
	if err != nil {
		return nil, err
	}

	files := map[int]source.File{}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for i, e := range x.Entries[lo:hi] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, ok := files[e.File]
		if !ok {
			if f, err = source.Open(x.Files[e.File], d); err != nil {
				return nil, err
			}
			files[e.File] = f
		}
		fr, err := f.Frame(e.Step)
		if err != nil {
			return nil, err
		}
		fr.Time = e.Time
		if err := c.Put(i, fr); err != nil {
			return nil, errors.Wrap(err, x.Files[e.File])
		}
	}

	stats := make([]VarStats, len(p.Vars))
	for i, v := range p.Vars {
		data := c.Var(v.Name)
		if err := zarr.WriteSlab(ctx, w, v.Name, k, data); err != nil {
			return nil, errors.Wrapf(err, "write %s", v.Name)
		}
		stats[i] = blockStats(v.Name, data)
	}
	return stats, nil
}
