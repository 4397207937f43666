package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"cpmri/pkg/config"
	"cpmri/pkg/mri"
	"cpmri/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Path to the pyramidal image store")
	configPath := flag.String("config", "mriregion.yaml", "Path to the YAML configuration file")
	level := flag.Int("level", -1, "Pyramid level to read (overrides the config file)")
	x0 := flag.Int("x", 0, "Left edge of the region, in pixels at the chosen level")
	y0 := flag.Int("y", 0, "Top edge of the region, in pixels at the chosen level")
	width := flag.Int("width", 0, "Region width in pixels (0 reads the whole plane)")
	height := flag.Int("height", 0, "Region height in pixels (0 reads the whole plane)")
	allLevels := flag.Bool("all-levels", false, "Export every pyramid level instead of a single region")
	outputDir := flag.String("output", "", "Output directory (overrides the config file)")
	flag.Parse()

	// Validate inputs
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration and apply command line overrides
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *level >= 0 {
		cfg.Extract.Level = *level
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}
	if *allLevels {
		cfg.Output.AllLevels = true
	}

	// Open the image and report its geometry
	img, err := mri.Open(*inputPath)
	if err != nil {
		log.Fatalf("Failed to open image: %v", err)
	}

	if cfg.Output.Verbose {
		fmt.Printf("Opened pyramidal image: %s\n", img.Path())
		fmt.Printf("Levels: %d\n", img.LevelCount())
		for l := 0; l < img.LevelCount(); l++ {
			w, h, _ := img.Extent(l)
			f, _ := img.ScalingFactor(0, l)
			fmt.Printf("  level %d: %dx%d (scale %.4g relative to level 0)\n", l, w, h, f)
		}
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Export every level if requested
	if cfg.Output.AllLevels {
		if err := visualization.SaveLevelSequence(img, cfg.Output.Directory); err != nil {
			log.Fatalf("Failed to export levels: %v", err)
		}
		fmt.Printf("Saved %d levels to %s\n", img.LevelCount(), cfg.Output.Directory)
		return
	}

	// Read a single region (or the whole plane when no extent is given)
	rx, ry, rw, rh := *x0, *y0, *width, *height
	if rw == 0 || rh == 0 {
		rx, ry = 0, 0
		rw, rh, err = img.Extent(cfg.Extract.Level)
		if err != nil {
			log.Fatalf("Invalid level %d: %v", cfg.Extract.Level, err)
		}
	}

	buf, err := mri.ReadRegion[uint8](img, rx, ry, rw, rh, cfg.Extract.Level)
	if err != nil {
		log.Fatalf("Failed to read region: %v", err)
	}

	rendered, err := visualization.Render(buf)
	if err != nil {
		log.Fatalf("Failed to render region: %v", err)
	}

	outputFile := filepath.Join(cfg.Output.Directory,
		fmt.Sprintf("region_L%d_%d_%d_%dx%d.png", cfg.Extract.Level, rx, ry, rw, rh))
	if err := visualization.SavePNG(rendered, outputFile); err != nil {
		log.Fatalf("Failed to save region: %v", err)
	}

	fmt.Printf("Saved %dx%d region from level %d to %s\n", rw, rh, cfg.Extract.Level, outputFile)
}
