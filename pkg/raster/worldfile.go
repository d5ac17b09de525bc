package raster

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// WorldFile georeferences a plain image covering box at width x height pixels.
// Lines: pixel size x, rotation, rotation, pixel size y (negative), then the
// centre of the upper-left pixel.
func WorldFile(box BoundingBox, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}

	px := (box.MaxX - box.MinX) / float64(width)
	py := (box.MaxY - box.MinY) / float64(height)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%24.10f\n", px)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", -py)
	fmt.Fprintf(&buf, "%24.10f\n", box.MinX+px/2)
	fmt.Fprintf(&buf, "%24.10f\n", box.MaxY-py/2)
	return buf.Bytes(), nil
}

// WorldFileName swaps the extension of an image path for its world file one
func WorldFileName(imagePath string) string {
	if idx := strings.LastIndex(imagePath, "."); idx != -1 && !strings.ContainsRune(imagePath[idx:], os.PathSeparator) {
		return imagePath[:idx] + ".pgw"
	}
	return imagePath + ".pgw"
}

// WriteWorldFile writes the world file next to imagePath and returns its name
func WriteWorldFile(imagePath string, box BoundingBox, width, height int) (string, error) {
	if imagePath == "" {
		return "", fmt.Errorf("can't write a worldfile when writing to stdout")
	}

	data, err := WorldFile(box, width, height)
	if err != nil {
		return "", err
	}

	name := WorldFileName(imagePath)
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", err
	}
	return name, nil
}
