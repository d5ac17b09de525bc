package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"
)

// ErrStorage marks decoder failures caused by local storage rather than
// by the payload itself
var ErrStorage = errors.New("raster storage failure")

// ImageAttributes holds the structural metadata of a raster
type ImageAttributes struct {
	Width                     int         `json:"width"`
	Height                    int         `json:"height"`
	Bands                     int         `json:"bands"`
	CoordinateReferenceSystem string      `json:"coordinate_reference_system"`
	BoundingBox               BoundingBox `json:"bounding_box"`
}

// BoundingBox represents the spatial extent of a raster in its own CRS
type BoundingBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Tuple returns the box as (min_x, min_y, max_x, max_y)
func (b BoundingBox) Tuple() [4]float64 {
	return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// MarshalJSON encodes the box as a 4-element array
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Tuple())
}

// UnmarshalJSON decodes a 4-element array
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var t [4]float64
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("bounding box: %w", err)
	}
	*b = BoundingBox{MinX: t[0], MinY: t[1], MaxX: t[2], MaxY: t[3]}
	return nil
}

// BoundsFromGeoTransform computes the extent of a width x height grid
// placed by an affine geotransform (GDAL ordering).
func BoundsFromGeoTransform(gt [6]float64, width, height int) BoundingBox {
	corners := [4][2]float64{
		{0, 0},
		{float64(width), 0},
		{0, float64(height)},
		{float64(width), float64(height)},
	}

	box := BoundingBox{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, c := range corners {
		x := gt[0] + c[0]*gt[1] + c[1]*gt[2]
		y := gt[3] + c[0]*gt[4] + c[1]*gt[5]
		box.MinX = math.Min(box.MinX, x)
		box.MaxX = math.Max(box.MaxX, x)
		box.MinY = math.Min(box.MinY, y)
		box.MaxY = math.Max(box.MaxY, y)
	}
	return box
}

// Band holds the pixel values of one raster band, row-major
type Band struct {
	Index  int
	Width  int
	Height int
	Data   []float64
}

// At returns the value at column x, row y
func (b *Band) At(x, y int) float64 {
	return b.Data[y*b.Width+x]
}

// BandSelection maps 1-based band indices onto RGB channels
type BandSelection struct {
	Red, Green, Blue int
}

// DefaultBandSelection is the natural-colour composite of Sentinel-2 L2A products
var DefaultBandSelection = BandSelection{Red: 4, Green: 3, Blue: 2}

// Indices returns the band indices in read order (R, G, B)
func (s BandSelection) Indices() []int {
	return []int{s.Red, s.Green, s.Blue}
}

// Validate checks that every index is 1-based
func (s BandSelection) Validate() error {
	for _, idx := range s.Indices() {
		if idx < 1 {
			return fmt.Errorf("band index %d must be >= 1", idx)
		}
	}
	return nil
}

// Dataset is an opened raster. Implementations are not safe for
// concurrent use.
type Dataset interface {
	Size() (width, height int)
	BandCount() int
	CRS() (string, error)
	Bounds() (BoundingBox, error)
	// ReadBand reads the full band at the 1-based index
	ReadBand(ctx context.Context, index int) (*Band, error)
	Close() error
}

// Decoder opens encoded raster payloads
type Decoder interface {
	Open(ctx context.Context, payload io.Reader) (Dataset, error)
}
