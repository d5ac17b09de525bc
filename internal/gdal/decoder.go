// Package gdal implements raster.Decoder on top of GDAL.
//
// GDAL needs a path to open a dataset, so streamed payloads are spooled
// to a temporary file that lives exactly as long as the returned dataset.
package gdal

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/kiesman99/rasterpeek/pkg/raster"
)

var registerOnce sync.Once

// Decoder opens raster payloads with GDAL
type Decoder struct {
	tempDir string
}

// NewDecoder creates a decoder spooling uploads into tempDir (the system
// default when empty).
func NewDecoder(tempDir string) *Decoder {
	registerOnce.Do(godal.RegisterAll)
	return &Decoder{tempDir: tempDir}
}

// Open implements raster.Decoder. Payloads that are already files on disk
// are opened in place; anything else is spooled first.
func (d *Decoder) Open(ctx context.Context, payload io.Reader) (raster.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if file, ok := payload.(*os.File); ok {
		return OpenFile(file.Name())
	}

	f, err := os.CreateTemp(d.tempDir, "rasterpeek-*.tif")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", raster.ErrStorage, err)
	}
	path := f.Name()

	if _, err := io.Copy(f, payload); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", raster.ErrStorage, err)
	}

	if err := ctx.Err(); err != nil {
		os.Remove(path)
		return nil, err
	}

	ds, err := OpenFile(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	ds.tempPath = path
	return ds, nil
}

// OpenFile opens a raster already on disk. Closing the dataset leaves the
// file in place.
func OpenFile(path string) (*Dataset, error) {
	registerOnce.Do(godal.RegisterAll)

	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

// Dataset wraps an open GDAL dataset
type Dataset struct {
	ds       *godal.Dataset
	tempPath string
	closed   bool
}

// Size returns the raster width and height in pixels
func (d *Dataset) Size() (int, int) {
	st := d.ds.Structure()
	return st.SizeX, st.SizeY
}

// BandCount returns the number of bands
func (d *Dataset) BandCount() int {
	return d.ds.Structure().NBands
}

// CRS returns AUTHORITY:CODE when the spatial reference can be identified,
// otherwise its WKT. An empty string means the raster is not georeferenced.
func (d *Dataset) CRS() (string, error) {
	wkt := d.ds.Projection()
	if wkt == "" {
		return "", nil
	}

	sr, err := godal.NewSpatialRefFromWKT(wkt)
	if err != nil {
		return "", fmt.Errorf("invalid coordinate reference system: %w", err)
	}
	defer sr.Close()

	if name, code := sr.AuthorityName(""), sr.AuthorityCode(""); name != "" && code != "" {
		return name + ":" + code, nil
	}
	if err := sr.AutoIdentifyEPSG(); err == nil {
		if name, code := sr.AuthorityName(""), sr.AuthorityCode(""); name != "" && code != "" {
			return name + ":" + code, nil
		}
	}
	return wkt, nil
}

// Bounds returns (min_x, min_y, max_x, max_y) in the raster CRS
func (d *Dataset) Bounds() (raster.BoundingBox, error) {
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return raster.BoundingBox{}, fmt.Errorf("raster has no geotransform: %w", err)
	}
	w, h := d.Size()
	return raster.BoundsFromGeoTransform(gt, w, h), nil
}

// ReadBand reads the band at the 1-based index as float64 values
func (d *Dataset) ReadBand(ctx context.Context, index int) (*raster.Band, error) {
	bands := d.ds.Bands()
	if index < 1 || index > len(bands) {
		return nil, fmt.Errorf("band index %d out of range (raster has %d bands)", index, len(bands))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := d.Size()
	data := make([]float64, w*h)
	if err := bands[index-1].Read(0, 0, data, w, h); err != nil {
		return nil, err
	}

	return &raster.Band{
		Index:  index,
		Width:  w,
		Height: h,
		Data:   data,
	}, nil
}

// Close releases the GDAL handle and removes the spooled payload
func (d *Dataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	err := d.ds.Close()
	if d.tempPath != "" {
		if rmErr := os.Remove(d.tempPath); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
