// Package gdaltest writes GeoTIFF fixtures on the Sentinel-2 test grid.
package gdaltest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/require"
)

// SceneGeoTransform places a 512x512 grid over (399960, 6190200, 509760, 6300000)
var SceneGeoTransform = [6]float64{399960, 214.453125, 0, 6300000, 0, -214.453125}

// WriteScene writes a 512x512 UInt16 GeoTIFF with the given band count into
// dir and returns its path. Band b holds (i + b*1000) % 4001 at pixel i.
// An epsg of 0 leaves the raster without a spatial reference.
func WriteScene(t testing.TB, dir string, bands, epsg int) string {
	t.Helper()
	godal.RegisterAll()

	path := filepath.Join(dir, "scene.tif")
	ds, err := godal.Create(godal.GTiff, path, bands, godal.UInt16, 512, 512)
	require.NoError(t, err)

	require.NoError(t, ds.SetGeoTransform(SceneGeoTransform))
	if epsg != 0 {
		sr, err := godal.NewSpatialRefFromEPSG(epsg)
		require.NoError(t, err)
		require.NoError(t, ds.SetSpatialRef(sr))
		sr.Close()
	}

	data := make([]uint16, 512*512)
	for b, band := range ds.Bands() {
		for i := range data {
			data[i] = uint16((i + b*1000) % 4001)
		}
		require.NoError(t, band.Write(0, 0, data, 512, 512))
	}
	require.NoError(t, ds.Close())

	return path
}

// SceneBytes returns the encoded GeoTIFF written by WriteScene
func SceneBytes(t testing.TB, bands, epsg int) []byte {
	t.Helper()

	data, err := os.ReadFile(WriteScene(t, t.TempDir(), bands, epsg))
	require.NoError(t, err)
	return data
}
