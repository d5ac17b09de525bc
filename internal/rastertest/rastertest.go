// Package rastertest provides an in-memory raster decoder for tests that
// must not depend on a GDAL installation.
package rastertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kiesman99/rasterpeek/pkg/raster"
)

// Scenario values of the Sentinel-2 L2A test tile
const (
	SceneSize = 512
	SceneCRS  = "EPSG:32633"
)

// SceneGeoTransform places a 512x512 grid over (399960, 6190200, 509760, 6300000)
var SceneGeoTransform = [6]float64{399960, 214.453125, 0, 6300000, 0, -214.453125}

// SceneBounds is the extent covered by SceneGeoTransform
var SceneBounds = raster.BoundingBox{MinX: 399960, MinY: 6190200, MaxX: 509760, MaxY: 6300000}

// Fixture describes an in-memory raster
type Fixture struct {
	Width, Height  int
	CRS            string
	GeoTransform   [6]float64
	NoGeoTransform bool
	Bands          [][]float64
}

// NewFixture returns a georeferenced width x height raster whose band b
// holds a diagonal gradient offset by b.
func NewFixture(width, height, bands int) *Fixture {
	f := &Fixture{
		Width:        width,
		Height:       height,
		CRS:          SceneCRS,
		GeoTransform: SceneGeoTransform,
		Bands:        make([][]float64, bands),
	}
	for b := range f.Bands {
		data := make([]float64, width*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = float64((x + y + b*500) % 4001)
			}
		}
		f.Bands[b] = data
	}
	return f
}

// Declared returns a fixture whose header claims width x height pixels
// but which carries no sample data, like a sparse or highly compressed
// GeoTIFF.
func Declared(width, height, bands int) *Fixture {
	return &Fixture{
		Width:        width,
		Height:       height,
		CRS:          SceneCRS,
		GeoTransform: SceneGeoTransform,
		Bands:        make([][]float64, bands),
	}
}

// Scene returns the 512x512 EPSG:32633 scenario raster
func Scene(bands int) *Fixture {
	return NewFixture(SceneSize, SceneSize, bands)
}

// Decoder serves registered fixtures; any other payload is rejected the
// way GDAL rejects unknown formats.
type Decoder struct {
	mu       sync.Mutex
	fixtures map[string]*Fixture
	opened   atomic.Int64
	closed   atomic.Int64
	reads    atomic.Int64
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{fixtures: make(map[string]*Fixture)}
}

// Register stores f and returns the payload bytes that decode to it
func (d *Decoder) Register(f *Fixture) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := fmt.Sprintf("RASTERTEST-%d", len(d.fixtures)+1)
	d.fixtures[key] = f
	return []byte(key)
}

// Open implements raster.Decoder
func (d *Decoder) Open(ctx context.Context, payload io.Reader) (raster.Dataset, error) {
	data, err := io.ReadAll(payload)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	f, ok := d.fixtures[string(data)]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("payload not recognized as a supported file format")
	}

	d.opened.Add(1)
	return &dataset{fixture: f, decoder: d}, nil
}

// Opened returns the number of datasets opened so far
func (d *Decoder) Opened() int {
	return int(d.opened.Load())
}

// Reads returns the number of bands read so far
func (d *Decoder) Reads() int {
	return int(d.reads.Load())
}

// Closed returns the number of datasets closed so far
func (d *Decoder) Closed() int {
	return int(d.closed.Load())
}

type dataset struct {
	fixture *Fixture
	decoder *Decoder
	closed  bool
}

func (ds *dataset) Size() (int, int) {
	return ds.fixture.Width, ds.fixture.Height
}

func (ds *dataset) BandCount() int {
	return len(ds.fixture.Bands)
}

func (ds *dataset) CRS() (string, error) {
	return ds.fixture.CRS, nil
}

func (ds *dataset) Bounds() (raster.BoundingBox, error) {
	if ds.fixture.NoGeoTransform {
		return raster.BoundingBox{}, fmt.Errorf("raster has no geotransform")
	}
	return raster.BoundsFromGeoTransform(ds.fixture.GeoTransform, ds.fixture.Width, ds.fixture.Height), nil
}

func (ds *dataset) ReadBand(ctx context.Context, index int) (*raster.Band, error) {
	if ds.closed {
		return nil, fmt.Errorf("dataset is closed")
	}
	if index < 1 || index > len(ds.fixture.Bands) {
		return nil, fmt.Errorf("band index %d out of range", index)
	}
	ds.decoder.reads.Add(1)
	data := make([]float64, len(ds.fixture.Bands[index-1]))
	copy(data, ds.fixture.Bands[index-1])
	return &raster.Band{
		Index:  index,
		Width:  ds.fixture.Width,
		Height: ds.fixture.Height,
		Data:   data,
	}, nil
}

func (ds *dataset) Close() error {
	if !ds.closed {
		ds.closed = true
		ds.decoder.closed.Add(1)
	}
	return nil
}

// Payload is an in-memory io.ReadCloser that records Close calls
type Payload struct {
	*bytes.Reader
	closed atomic.Bool
}

// NewPayload wraps data
func NewPayload(data []byte) *Payload {
	return &Payload{Reader: bytes.NewReader(data)}
}

// Close implements io.Closer
func (p *Payload) Close() error {
	p.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (p *Payload) Closed() bool {
	return p.closed.Load()
}
