package catalog

const history = "converted to zarr by Martin Reinhardt, RSC4Earth, University of Leipzig"

var (
	// 1/12 degree global grid of the GIMMS products.
	gimmsGrid = &Extent{West: -180, North: 90, Resolution: 1.0 / 12}
	// 0.05 degree global grid of the GOSIF products.
	gosifGrid = &Extent{West: -180, North: 90, Resolution: 0.05}
	// 0.5 degree global grid of TCSIF level 3.
	tcsifGrid = &Extent{West: -180, North: 90, Resolution: 0.5}
)

// Builtin returns the datasets shipped with zarrcube.
func Builtin() []Dataset {
	return []Dataset{
		{
			Name:        "fluxcom-gpp",
			Description: "FLUXCOM-X GPP, daily, 0.25 degree",
			Format:      NetCDF,
			InputDir:    "Fluxcom-X-GPP-daily-0.25deg",
			Pattern:     "*.nc",
			Output:      "Fluxcom-X-GPP-daily-0.25deg-100x720x1440.zarr",
			Time:        TimeRule{Layout: LayoutCoordinate},
			Chunks:      Chunks{Time: 100, Y: 720, X: 1440},
			Compression: Compression{Level: 5},
			Attrs: map[string]any{
				"history": history,
			},
		},
		{
			Name:        "gimms-lai4g",
			Description: "GIMMS LAI4g AVHRR MODIS consolidated, half-monthly 1982-2020",
			Format:      GeoTIFF,
			InputDir:    "GIMMS_LAI4g_AVHRR_MODIS_consolidated_1982_2020",
			Output:      "GIMMS_LAI4g_AVHRR_MODIS_consolidated_1982_2020_1x4320x2160.zarr",
			Time:        TimeRule{Layout: LayoutHalfMonth, Token: -1},
			FillValues:  []float64{65535},
			Variables: []Variable{
				{Source: "1", Name: "LAI", Attrs: map[string]any{
					"long_name":  "Leaf Area Index",
					"units":      "m2/m2",
					"ValidRange": []int{0, 7000},
				}},
				{Source: "2", Name: "QC", Attrs: map[string]any{
					"long_name":                         "Quality Control",
					"First digit: consolidation method": []int{0, 1, 2, 3, 4, 5},
					"Second digit: quality":             []int{0, 1, 2},
				}},
			},
			Chunks:      Chunks{Time: 1, Y: 2160, X: 4320},
			Compression: Compression{Level: 3, Shuffle: true},
			Grid:        gimmsGrid,
			Attrs: map[string]any{
				"title":         "GIMMS LAI4g AVHRR MODIS consolidated",
				"history":       history,
				"source":        "https://zenodo.org/records/8281930",
				"README for QC": "https://zenodo.org/records/8281930/files/Readme_for_GIMMS_LAI4g_Product_updated_0825.pdf",
			},
		},
		{
			Name:        "gimms-ndvi",
			Description: "PKU GIMMS NDVI AVHRR MODIS consolidated, half-monthly 1982-2022",
			Format:      GeoTIFF,
			InputDir:    "PKU_GIMMS_NDVI_AVHRR_MODIS_consolidated_1982_2022",
			Output:      "PKU_GIMMS_NDVI_AVHRR_MODIS_consolidated_1982_2022_1x4320x2160.zarr",
			Time:        TimeRule{Layout: LayoutHalfMonth, Token: -1},
			FillValues:  []float64{65535},
			Variables: []Variable{
				{Source: "1", Name: "NDVI", Attrs: map[string]any{
					"long_name":  "Normalized Difference Vegetation Index",
					"ValidRange": []int{0, 1000},
				}},
				{Source: "2", Name: "QC", Attrs: map[string]any{
					"long_name":                         "Quality Control",
					"First digit: consolidation method": []int{0, 1, 2, 3, 4, 5, 9},
					"Second digit: quality I":           []int{0, 1, 2, 9},
					"Third digit: quality II":           []int{0, 1, 2, 3, 4, 9},
				}},
			},
			Chunks:      Chunks{Time: 1, Y: 2160, X: 4320},
			Compression: Compression{Level: 3, Shuffle: true},
			Grid:        gimmsGrid,
			Attrs: map[string]any{
				"title":         "PKU GIMMS NDVI AVHRR MODIS consolidated",
				"history":       history,
				"source":        "https://zenodo.org/records/8253971",
				"README for QC": "https://zenodo.org/records/8253971/files/Readme_for_PKU_GIMMS_NDVI_Product_updated_20230817.pdf?download=1",
			},
		},
		gosif("gosif-gpp", "GOSIF-GPP_v2", "GOSIF-GPP_v2_2000_2023_1x3600x7200.zarr", -2, Variable{
			Source: "1", Name: "GPP", Attrs: gosifGPPAttrs(),
		}, "GOSIF GPP v2"),
		gosif("gosif-gpp-v2", "GOSIF-GPP_v2/8day/Mean", "GOSIF-GPP_v2_2000_2023_1x3600x7200.zarr", -2, Variable{
			Source: "1", Name: "gpp", Attrs: gosifGPPAttrs(),
		}, "GOSIF GPP v2"),
		gosif("gosif-sif", "GOSIF_v2", "GOSIF_v2_2000_2023_1x3600x7200.zarr", -1, Variable{
			Source: "1", Name: "SIF", Attrs: map[string]any{
				"long_name":    "solar-induced chlorophyll fluorescence (SIF)",
				"Unit":         "W m-1 um-1 sr-1",
				"Scale_Factor": 0.0001,
			},
		}, "GOSIF v2"),
		{
			Name:        "tcsif",
			Description: "TCSIF level 3 SIF, monthly 2007-2021",
			Format:      GeoTIFF,
			InputDir:    "TCSIF_level3",
			Output:      "TCSIF_level3_2007_2021_1x360x720.zarr",
			Time:        TimeRule{Layout: LayoutMonth, Token: -1, Day: 15},
			Variables: []Variable{
				{Source: "1", Name: "sif", Attrs: map[string]any{
					"long_name": "solar-induced chlorophyll fluorescence (SIF)",
					"Unit":      "W m-1 um-1 sr-1",
				}},
			},
			Chunks:       Chunks{Time: 1, Y: 360, X: 720},
			Compression:  Compression{Level: 3, Shuffle: true},
			Grid:         tcsifGrid,
			FloatSamples: true,
			Attrs: map[string]any{
				"title":   "TCSIF Level 3 SIF data (2007-2021)",
				"history": history,
				"source":  "https://zenodo.org/records/8242928",
			},
		},
		{
			Name:          "deadwood",
			Description:   "yearly deadwood rasters in a Lambert azimuthal equal-area projection",
			Format:        NetCDF,
			Pattern:       "*.nc",
			Time:          TimeRule{Layout: LayoutYear, Token: -1},
			Variables:     []Variable{{Source: "Band1", Name: "deadwood"}},
			DropVariables: []string{"lambert_azimuthal_equal_area"},
			DropAttrs:     []string{"Conventions", "GDAL", "history", "GDAL_AREA_OR_POINT"},
			Axes:          Axes{Y: "y", X: "x"},
			Transpose:     true,
			Chunks:        Chunks{Time: 1, Y: 256, X: 256},
			Compression:   Compression{Level: 5, Shuffle: true},
		},
		{
			Name:        "netcdf",
			Description: "any set of CF NetCDF files with time, latitude and longitude axes, kept as is",
			Format:      NetCDF,
			Pattern:     "*.nc",
			Time:        TimeRule{Layout: LayoutCoordinate},
			Axes:        Axes{Y: "latitude", X: "longitude"},
			Chunks:      Chunks{Time: 1, Y: 1080, X: 1080},
			Compression: Compression{Level: 5},
			Attrs: map[string]any{
				"reprocessing": "rechunked and compressed with zarr using zarrcube.",
			},
		},
	}
}

func gosif(name, dir, output string, token int, v Variable, title string) Dataset {
	return Dataset{
		Name:        name,
		Description: title + ", 8-day, 0.05 degree",
		Format:      GeoTIFF,
		InputDir:    dir,
		Output:      output,
		Time:        TimeRule{Layout: LayoutDayOfYear, Token: token},
		FillValues:  []float64{65535, 65534},
		Variables:   []Variable{v},
		Chunks:      Chunks{Time: 1, Y: 3600, X: 7200},
		Compression: Compression{Level: 3, Shuffle: true},
		Grid:        gosifGrid,
		Attrs: map[string]any{
			"title":   title,
			"history": history,
			"source":  "https://climatedataguide.ucar.edu/climate-data/global-dataset-solar-induced-chlorophyll-fluorescence-gosif",
		},
	}
}

func gosifGPPAttrs() map[string]any {
	return map[string]any{
		"long_name":    "Gross Primary Production (GPP) from GOSIF",
		"Unit":         "gC m-2 d-1",
		"Scale_Factor": 0.001,
	}
}
