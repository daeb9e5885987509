package source

import (
	"image"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/cube"
)

var (
	// openGeoTIFF is replaced by the GDAL reader in builds tagged gdal.
	openGeoTIFF = openTIFF
	hasGDAL     bool
)

// HasGDAL reports whether this binary reads GeoTIFF tiles through GDAL.
func HasGDAL() bool {
	return hasGDAL
}

// NeedsGDAL returns why the tiles of d cannot be read without GDAL, or ""
// when the built-in TIFF reader suffices.
func NeedsGDAL(d catalog.Dataset) string {
	switch {
	case d.Format != catalog.GeoTIFF:
		return ""
	case len(d.Variables) != 1 || d.Variables[0].Source != "1":
		return "reading bands other than a single band 1"
	case d.FloatSamples:
		return "reading floating point samples"
	case d.Grid == nil:
		return "placing tiles without a grid extent"
	}
	return ""
}

// tiffFile reads single-band 8 or 16 bit grayscale tiles. The decoder does
// not expose GeoTIFF tags, so the dataset's grid extent places the tile.
type tiffFile struct {
	path      string
	grid      cube.Grid
	times     []time.Time
	v         Var
	sentinels []float64
}

func openTIFF(path string, d catalog.Dataset) (File, error) {
	if why := NeedsGDAL(d); why != "" {
		return nil, errors.Errorf("%s needs a build with -tags gdal", why)
	}
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	cfg, err := tiff.DecodeConfig(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode tiff header")
	}
	times, err := fileTime(path, d.Time)
	if err != nil {
		return nil, err
	}
	f := &tiffFile{
		path:      path,
		times:     times,
		v:         Var{Name: d.Variables[0].Name, Attrs: copyAttrs(d.Variables[0].Attrs)},
		sentinels: d.FillValues,
	}
	f.grid.Y, f.grid.X = d.Grid.Centers(cfg.Height, cfg.Width)
	return f, nil
}

func (f *tiffFile) Path() string       { return f.path }
func (f *tiffFile) Grid() cube.Grid    { return f.grid }
func (f *tiffFile) Times() []time.Time { return f.times }
func (f *tiffFile) Vars() []Var        { return []Var{{Name: f.v.Name, Attrs: copyAttrs(f.v.Attrs)}} }
func (f *tiffFile) Close() error       { return nil }

func (f *tiffFile) Attrs() map[string]any { return map[string]any{} }

func (f *tiffFile) Frame(i int) (*cube.Frame, error) {
	if i != 0 {
		return nil, errors.Errorf("%s: time step %d out of range [0,1)", f.path, i)
	}
	r, err := os.Open(f.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", f.path)
	}
	defer r.Close()
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", f.path)
	}
	data, err := grayValues(img)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.path)
	}
	if len(data) != f.grid.Size() {
		return nil, errors.Wrapf(cube.ErrShapeMismatch, "%s: %d pixels, want %d", f.path, len(data), f.grid.Size())
	}
	cube.Mask(data, f.sentinels)
	return &cube.Frame{Time: f.times[0], Vars: map[string][]float32{f.v.Name: data}}, nil
}

// grayValues returns the samples of a grayscale image in row-major order.
func grayValues(img image.Image) ([]float32, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 0, w*h)
	switch g := img.(type) {
	case *image.Gray16:
		for y := 0; y < h; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+2*w]
			for x := 0; x < w; x++ {
				out = append(out, float32(uint16(row[2*x])<<8|uint16(row[2*x+1])))
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			for _, p := range g.Pix[y*g.Stride : y*g.Stride+w] {
				out = append(out, float32(p))
			}
		}
	default:
		return nil, errors.Errorf("unsupported sample layout %T, build with -tags gdal", img)
	}
	return out, nil
}
