package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kiesman99/rasterpeek/internal/gdal"
	"github.com/kiesman99/rasterpeek/internal/inspect"
	"github.com/kiesman99/rasterpeek/internal/thumbnail"
	"github.com/kiesman99/rasterpeek/pkg/raster"
)

// version is reported by /health
const version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rasterpeek",
	Short: "Inspect multispectral rasters and render RGB thumbnails",
	Long: `rasterpeek reads multiband georeferenced rasters such as Sentinel-2 L2A
GeoTIFFs. It reports their dimensions, band count, coordinate reference
system and bounding box, and renders small RGB previews from three bands.

Examples:
  # Start the HTTP service
  rasterpeek serve --port 8000

  # Print attributes of a scene
  rasterpeek attributes scene.tif

  # Render a 256 pixel thumbnail with a world file
  rasterpeek thumbnail scene.tif -r 256 -o preview.png -w`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rasterpeek.yaml)")

	// Logging
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json|console)")

	// Rendering
	rootCmd.PersistentFlags().IntSlice("bands", raster.DefaultBandSelection.Indices(), "1-based red,green,blue band indices")
	rootCmd.PersistentFlags().Float64("max-value", thumbnail.DefaultMaxValue, "reflectance value mapped to 255")
	rootCmd.PersistentFlags().Bool("saturate", false, "clamp values above max-value instead of wrapping")
	rootCmd.PersistentFlags().Int("default-resolution", inspect.DefaultResolution, "thumbnail resolution when none is requested")
	rootCmd.PersistentFlags().Int("max-resolution", inspect.DefaultMaxResolution, "largest accepted thumbnail resolution")
	rootCmd.PersistentFlags().Int64("max-pixels", inspect.DefaultMaxPixels, "largest width*height rendered as a thumbnail")
	rootCmd.PersistentFlags().String("temp-dir", "", "directory for spooled uploads (default: system temp dir)")

	// Bind flags to viper
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("thumbnail.bands", rootCmd.PersistentFlags().Lookup("bands"))
	viper.BindPFlag("thumbnail.max_value", rootCmd.PersistentFlags().Lookup("max-value"))
	viper.BindPFlag("thumbnail.saturate", rootCmd.PersistentFlags().Lookup("saturate"))
	viper.BindPFlag("thumbnail.default_resolution", rootCmd.PersistentFlags().Lookup("default-resolution"))
	viper.BindPFlag("thumbnail.max_resolution", rootCmd.PersistentFlags().Lookup("max-resolution"))
	viper.BindPFlag("thumbnail.max_pixels", rootCmd.PersistentFlags().Lookup("max-pixels"))
	viper.BindPFlag("raster.temp_dir", rootCmd.PersistentFlags().Lookup("temp-dir"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".rasterpeek" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rasterpeek")
	}

	viper.SetEnvPrefix("RASTERPEEK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the zap logger described by log.level and log.format
func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var cfg zap.Config
	switch format := viper.GetString("log.format"); format {
	case "json", "":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}

// serviceConfig assembles the rendering configuration from v
func serviceConfig(v *viper.Viper) (inspect.Config, error) {
	cfg := inspect.DefaultConfig()

	bands, err := bandIndices(v.Get("thumbnail.bands"))
	if err != nil {
		return cfg, err
	}
	if len(bands) != 3 {
		return cfg, fmt.Errorf("thumbnail.bands needs exactly 3 indices, got %d", len(bands))
	}
	cfg.Bands = raster.BandSelection{Red: bands[0], Green: bands[1], Blue: bands[2]}

	cfg.Normalization = thumbnail.Normalization{
		MaxValue: v.GetFloat64("thumbnail.max_value"),
		Saturate: v.GetBool("thumbnail.saturate"),
	}
	cfg.DefaultResolution = v.GetInt("thumbnail.default_resolution")
	cfg.MaxResolution = v.GetInt("thumbnail.max_resolution")
	cfg.MaxPixels = v.GetInt64("thumbnail.max_pixels")

	return cfg, nil
}

// bandIndices accepts a YAML list or a comma separated string from the
// environment
func bandIndices(v interface{}) ([]int, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToIntSliceE(v)
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid band index in %q: %w", s, err)
		}
		out = append(out, idx)
	}
	return out, nil
}

// newService wires the GDAL decoder into an inspect.Service
func newService(logger *zap.Logger) (*inspect.Service, error) {
	cfg, err := serviceConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}

	service, err := inspect.New(gdal.NewDecoder(viper.GetString("raster.temp_dir")), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure service: %w", err)
	}
	return service, nil
}
