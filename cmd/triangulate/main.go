// Command triangulate projects the crops found in a folder of geotagged
// street-level photos onto the map and writes the result as JSON or GeoJSON.
//
//	triangulate -dir ./day1 -detections day1.json -geojson day1.geojson
//	triangulate -dir ./day1 -detector http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nasaharvest/street2sat/internal/adapters/detector"
	"github.com/nasaharvest/street2sat/internal/adapters/exif"
	"github.com/nasaharvest/street2sat/internal/adapters/geojson"
	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
	"github.com/nasaharvest/street2sat/internal/pkg/config"
	"github.com/nasaharvest/street2sat/internal/pkg/logging"
)

func main() {
	var (
		dir         = flag.String("dir", ".", "folder of JPEG images")
		detections  = flag.String("detections", "", "JSON file mapping image file name to detections")
		detectorURL = flag.String("detector", "", "model server URL; overrides detector.url when -detections is not set")
		geojsonOut  = flag.String("geojson", "", "write a GeoJSON FeatureCollection to this path")
		out         = flag.String("out", "-", "write the triangulated observations as JSON to this path (- for stdout)")
		workers     = flag.Int("workers", 4, "images processed concurrently")
	)
	flag.Parse()

	cfg, err := config.Load("street2sat-triangulate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// stdout may carry the JSON result.
	slog.SetDefault(logging.New(os.Stderr, cfg.Log.Level, "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	table, err := domain.DefaultCropTable().WithHeights(cfg.Crops.TableVersion, cfg.Crops.Heights)
	if err != nil {
		log.Fatalf("crop table: %v", err)
	}

	images, err := listImages(*dir)
	if err != nil {
		log.Fatalf("list images: %v", err)
	}
	if len(images) == 0 {
		log.Fatalf("no JPEG images in %s", *dir)
	}

	var known map[string][]domain.Detection
	if *detections != "" {
		known, err = loadDetections(*detections)
		if err != nil {
			log.Fatalf("load detections: %v", err)
		}
	}

	url := cfg.Detector.URL
	if *detectorURL != "" {
		url = *detectorURL
	}
	det := detector.New(url, cfg.Detector.Model, time.Duration(cfg.Detector.TimeoutSeconds)*time.Second)

	estimator := triangulation.NewEstimator(table, cfg.Crops.SensorHeightMM)
	builder := usecases.NewObservationService(exif.New(), det, nil, nil, estimator)
	surveys := usecases.NewSurveyService(nil, nil, nil, nil, builder,
		triangulation.NewTriangulator(estimator, slog.Default()), len(images))

	obs, skipped := buildAll(ctx, builder, images, known, *workers)
	for _, s := range skipped {
		slog.Warn("image skipped", "image", s.Name, "reason", s.Reason)
	}

	res, err := surveys.TriangulateBatch(ctx, obs)
	if err != nil {
		log.Fatalf("triangulate: %v", err)
	}
	res.SurveyID = filepath.Base(*dir)
	res.Skipped = skipped
	slog.Info("triangulated",
		"images", len(images),
		"observations", len(res.Observations),
		"crop_locations", len(res.Locations),
	)

	if err := writeJSON(*out, res); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	if *geojsonOut != "" {
		if err := writeJSON(*geojsonOut, geojson.FromObservations(res.Observations)); err != nil {
			log.Fatalf("write %s: %v", *geojsonOut, err)
		}
	}
}

// listImages returns the JPEG files directly inside dir, sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadDetections reads a detector results file: an object keyed by image file
// name whose values are detection arrays.
func loadDetections(path string) (map[string][]domain.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string][]domain.Detection
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// lookupDetections matches an image by file name, then by name without the
// extension.
func lookupDetections(known map[string][]domain.Detection, file string) ([]domain.Detection, bool) {
	base := filepath.Base(file)
	if d, ok := known[base]; ok {
		return d, true
	}
	d, ok := known[strings.TrimSuffix(base, filepath.Ext(base))]
	return d, ok
}

func observationName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// buildAll turns every image into an observation using at most workers
// goroutines. Failed images are reported in file order.
func buildAll(ctx context.Context, builder *usecases.ObservationService, files []string, known map[string][]domain.Detection, workers int) ([]*domain.Observation, []domain.SkippedImage) {
	if workers <= 0 {
		workers = 1
	}

	results := make([]*domain.Observation, len(files))
	errs := make([]error, len(files))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, file := range files {
		wg.Add(1)
		go func(i int, file string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i], errs[i] = buildOne(ctx, builder, file, known)
		}(i, file)
	}
	wg.Wait()

	var obs []*domain.Observation
	var skipped []domain.SkippedImage
	for i, file := range files {
		if errs[i] != nil {
			skipped = append(skipped, domain.SkippedImage{Name: observationName(file), Reason: errs[i].Error()})
			continue
		}
		if !results[i].HasCoordinate() {
			skipped = append(skipped, domain.SkippedImage{Name: results[i].Name, Reason: "image has no GPS position"})
			continue
		}
		obs = append(obs, results[i])
	}
	return obs, skipped
}

func buildOne(ctx context.Context, builder *usecases.ObservationService, file string, known map[string][]domain.Detection) (*domain.Observation, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	name := observationName(file)
	if known == nil {
		return builder.Detect(ctx, name, data)
	}
	dets, ok := lookupDetections(known, file)
	if !ok {
		return nil, fmt.Errorf("no detections for %s", filepath.Base(file))
	}
	return builder.Build(ctx, name, data, dets)
}

func writeJSON(path string, v any) error {
	w := os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
