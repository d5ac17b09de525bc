package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kiesman99/rasterpeek/pkg/raster"
)

var attributesCmd = &cobra.Command{
	Use:   "attributes FILE",
	Short: "Print dimensions, band count, CRS and bounding box of a raster",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttributes,
}

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail FILE",
	Short: "Render an RGB PNG thumbnail of a raster",
	Long: `Render an RGB PNG thumbnail from three bands of a raster.

The longest side of the thumbnail is at most --resolution pixels. Rasters
smaller than that are not enlarged.

Examples:
  rasterpeek thumbnail scene.tif -r 256 -o preview.png
  rasterpeek thumbnail scene.tif -w -o preview.png
  rasterpeek thumbnail scene.tif > preview.png`,
	Args: cobra.ExactArgs(1),
	RunE: runThumbnail,
}

func init() {
	rootCmd.AddCommand(attributesCmd)
	rootCmd.AddCommand(thumbnailCmd)

	thumbnailCmd.Flags().IntP("resolution", "r", 0, "longest thumbnail side in pixels (default: thumbnail.default_resolution)")
	thumbnailCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	thumbnailCmd.Flags().BoolP("worldfile", "w", false, "write a .pgw world file next to the output")

	viper.BindPFlag("output", thumbnailCmd.Flags().Lookup("output"))
	viper.BindPFlag("worldfile", thumbnailCmd.Flags().Lookup("worldfile"))
}

// isTerminal reports whether fd is an interactive terminal
var isTerminal = func(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func runAttributes(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	service, err := newService(logger)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open raster: %w", err)
	}

	attrs, err := service.ExtractAttributes(cmd.Context(), file)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	output := viper.GetString("output")
	writeWorldFile := viper.GetBool("worldfile")

	if output == "" {
		if writeWorldFile {
			return fmt.Errorf("can't write a worldfile when writing to stdout")
		}
		if f, ok := cmd.OutOrStdout().(*os.File); ok && isTerminal(f.Fd()) {
			return fmt.Errorf("refusing to write a PNG to a terminal, use --output or redirect stdout")
		}
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	service, err := newService(logger)
	if err != nil {
		return err
	}

	resolution, err := cmd.Flags().GetInt("resolution")
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open raster: %w", err)
	}

	result, err := service.RenderThumbnail(cmd.Context(), file, resolution)
	if err != nil {
		return err
	}

	if output == "" {
		_, err = cmd.OutOrStdout().Write(result.ImageData)
		return err
	}

	if writeWorldFile && result.Bounds == nil {
		return fmt.Errorf("raster has no geotransform, can't write a worldfile")
	}

	if err := os.WriteFile(output, result.ImageData, 0644); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	logger.Info("wrote thumbnail",
		zap.String("path", output),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height))

	if !writeWorldFile {
		return nil
	}

	worldPath, err := raster.WriteWorldFile(output, *result.Bounds, result.Width, result.Height)
	if err != nil {
		return err
	}
	logger.Info("wrote world file", zap.String("path", worldPath))

	return nil
}
