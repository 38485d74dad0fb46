package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/membercard"
	"github.com/menta2k/membercard/internal/config"
	"github.com/menta2k/membercard/internal/utils"
	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/export"
	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/layout"
	"github.com/menta2k/membercard/pkg/membership"
	"github.com/menta2k/membercard/pkg/processing"
	"github.com/menta2k/membercard/pkg/types"
)

func main() {
	var in, outDir, cfgPath, templatePath string
	var fields types.CardFields
	var phone string
	var regionArg string
	var detect bool
	var backend, backendURL, model string
	var previewW, previewH float64
	var cropOnly bool
	var writePreview bool
	var debug bool

	flag.StringVar(&in, "in", "", "photo path or URL (jpg/png/webp)")
	flag.StringVar(&outDir, "out", "", "output directory (default from config)")
	flag.StringVar(&cfgPath, "config", "", "config file (json or yaml)")
	flag.StringVar(&templatePath, "template", "", "card template image, overrides config")

	flag.StringVar(&fields.MemberID, "id", "", "member id encoded in the QR code")
	flag.StringVar(&fields.FullName, "name", "", "full name")
	flag.StringVar(&fields.SchoolName, "school", "", "school name")
	flag.StringVar(&fields.Year, "year", "", "year, e.g. 1st")
	flag.StringVar(&fields.Stream, "stream", "", "stream, e.g. Science")
	flag.StringVar(&phone, "lookup", "", "phone number to prefill fields from the membership service")

	flag.StringVar(&regionArg, "region", "", "crop region as x,y,w,h in percent of the photo (default: centered)")
	flag.BoolVar(&detect, "detect", false, "center the default crop on the subject found by the vision model")
	flag.StringVar(&backend, "backend", "", "subject backend: ollama, llamacpp or saliency (default from config)")
	flag.StringVar(&backendURL, "url", "", "vision server URL (default from config)")
	flag.StringVar(&model, "model", "", "vision model name (default from config)")

	flag.Float64Var(&previewW, "preview-width", 0, "live container width the card is laid out at")
	flag.Float64Var(&previewH, "preview-height", 0, "live container height the card is laid out at")
	flag.BoolVar(&cropOnly, "crop-only", false, "write only the cropped photo")
	flag.BoolVar(&writePreview, "preview", false, "also write the live preview render")
	flag.BoolVar(&debug, "debug", false, "write an overlay of the subject box and crop region")

	flag.Parse()
	if in == "" {
		log.Fatalf("usage: %s -in photo.jpg|URL -id MBR-0001 -name NAME [-school S] [-year Y] [-stream S] [-lookup PHONE] [-region x,y,w,h] [-detect] [-out dir]", filepath.Base(os.Args[0]))
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if templatePath != "" {
		cfg.Card.TemplatePath = templatePath
	}
	if outDir != "" {
		cfg.Output.OutputDir = outDir
	}
	if backend != "" {
		cfg.Detection.Backend = backend
	}
	if backendURL != "" {
		cfg.Detection.OllamaURL = backendURL
		cfg.Detection.LlamaCppURL = backendURL
	}
	if model != "" {
		cfg.Detection.Model = model
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	if phone != "" {
		rec, err := membership.NewClient(cfg.MembershipSettings()).Lookup(ctx, phone)
		if err != nil {
			log.Fatalf("lookup %s: %v", phone, err)
		}
		fields = prefill(fields, rec.CardFields())
		log.Printf("prefilled member %s (%s)", fields.MemberID, fields.FullName)
	}

	opts := []membercard.Option{
		membercard.WithCropConfig(cfg.CropSettings()),
		membercard.WithExportConfig(cfg.ExportSettings()),
		membercard.WithCodeSize(cfg.Card.CodeSize),
		membercard.WithPreviewSize(layout.Size{W: previewW, H: previewH}),
	}
	if cfg.Card.TemplatePath != "" {
		tpl, err := imageio.Open(cfg.Card.TemplatePath)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, membercard.WithTemplate(tpl))
	}
	var locator crop.SubjectLocator
	if detect || cfg.Detection.Enabled {
		l, err := cfg.Locator()
		if err != nil {
			log.Fatalf("Failed to create %s locator: %v", cfg.Detection.Backend, err)
		}
		locator = l
		opts = append(opts, membercard.WithLocator(locator))
	}
	issuer, err := membercard.New(opts...)
	if err != nil {
		log.Fatal(err)
	}

	img, err := imageio.Load(ctx, in)
	if err != nil {
		log.Fatal(err)
	}
	if err := imageio.Validate(img, cfg.Crop.MinImageSize); err != nil {
		log.Fatal(err)
	}
	info := imageio.GetInfo(img)
	log.Printf("photo %dx%d (ratio %.2f)", info.Width, info.Height, info.AspectRatio)

	var region *types.CropRegion
	if regionArg != "" {
		r, err := parseRegion(regionArg)
		if err != nil {
			log.Fatal(err)
		}
		region = &r
	}

	if debug {
		region = writeOverlay(ctx, cfg, img, region, locator)
	}

	photo, err := issuer.Crop(ctx, img, region)
	if err != nil {
		log.Fatalf("crop: %v", err)
	}
	format := cfg.CropSettings().Format
	cropPath := utils.OutputFilename(cfg.Output.OutputDir, "photo_"+fields.MemberID, cfg.Output.Prefix, cfg.Output.Suffix, format)
	if err := imageio.Save(photo, cropPath, cfg.Crop.Quality); err != nil {
		log.Fatalf("save %s: %v", cropPath, err)
	}
	log.Printf("wrote %s", cropPath)
	if cropOnly {
		return
	}

	card, err := issuer.Card(ctx, fields, photo)
	if err != nil {
		log.Fatalf("card: %v", err)
	}
	if writePreview {
		preview, err := card.Preview()
		if err != nil {
			log.Fatalf("preview: %v", err)
		}
		previewPath := utils.OutputFilename(cfg.Output.OutputDir, "preview_"+fields.MemberID, cfg.Output.Prefix, cfg.Output.Suffix, imageio.FormatPNG)
		if err := imageio.Save(preview, previewPath, 0); err != nil {
			log.Fatalf("save %s: %v", previewPath, err)
		}
		log.Printf("wrote %s", previewPath)
	}

	art, err := issuer.Export(ctx, card)
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	cardPath := filepath.Join(cfg.Output.OutputDir, utils.SanitizeFilename(export.FileName(fields.MemberID)))
	if err := os.WriteFile(cardPath, art.Data, 0o644); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s (%dx%d, %s)", cardPath, art.Width, art.Height, utils.FormatFileSize(int64(art.Size())))

	js, _ := json.MarshalIndent(struct {
		Fields   types.CardFields `json:"fields"`
		Artifact *types.Artifact  `json:"artifact"`
		Fonts    any              `json:"font_sizes"`
	}{fields, art, card.FontSizes()}, "", "  ")
	_ = os.WriteFile(filepath.Join(cfg.Output.OutputDir, "card.json"), js, 0o644)
}

// writeOverlay saves the debug overlay and returns the region it shows, so
// the crop matches it without locating the subject twice.
func writeOverlay(ctx context.Context, cfg *config.Config, img image.Image, region *types.CropRegion, locator crop.SubjectLocator) *types.CropRegion {
	b := img.Bounds()
	display := types.DisplaySize{W: float64(b.Dx()), H: float64(b.Dy())}

	var subject *types.Box
	if locator != nil {
		box, err := locator.Locate(ctx, img)
		if err != nil {
			log.Printf("subject not located: %v", err)
		} else {
			subject = &box
			log.Printf("subject box=%.3fx%.3f@%.3f,%.3f", box.W, box.H, box.X, box.Y)
		}
	}
	if region == nil {
		r := crop.DefaultRegion(display, cfg.Crop.Aspect, cfg.Crop.DefaultFraction, subject)
		region = &r
	}

	overlay, err := processing.DebugOverlay(img, subject, *region, display)
	if err != nil {
		log.Printf("debug overlay failed: %v", err)
		return region
	}
	path := filepath.Join(cfg.Output.OutputDir, "000_photo_with_region.png")
	if err := imageio.Save(overlay, path, 0); err != nil {
		log.Printf("debug overlay save failed: %v", err)
	} else {
		log.Printf("wrote %s", path)
	}
	return region
}

// prefill fills empty flag values from a looked up record
func prefill(f, rec types.CardFields) types.CardFields {
	pick := func(flagVal, recVal string) string {
		if flagVal != "" {
			return flagVal
		}
		return recVal
	}
	return types.CardFields{
		MemberID:   pick(f.MemberID, rec.MemberID),
		FullName:   pick(f.FullName, rec.FullName),
		SchoolName: pick(f.SchoolName, rec.SchoolName),
		Year:       pick(f.Year, rec.Year),
		Stream:     pick(f.Stream, rec.Stream),
	}
}

func parseRegion(s string) (types.CropRegion, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.CropRegion{}, fmt.Errorf("region %q: want x,y,w,h", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.CropRegion{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = f
	}
	r := types.CropRegion{Unit: types.UnitPercent, X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return r, r.Validate()
}
