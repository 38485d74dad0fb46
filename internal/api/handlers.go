package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/membercard/pkg/compositor"
	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/export"
	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/layout"
	"github.com/menta2k/membercard/pkg/membership"
	"github.com/menta2k/membercard/pkg/qr"
	"github.com/menta2k/membercard/pkg/share"
	"github.com/menta2k/membercard/pkg/types"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

func (s *Server) health(c *gin.Context) {
	if h, ok := s.store.(healthChecker); ok {
		if err := h.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// qrHandler returns a PNG of a QR for the "text" query param
func (s *Server) qrHandler(c *gin.Context) {
	size := s.cfg.Card.CodeSize
	if v, err := strconv.Atoi(c.Query("size")); err == nil && v > 0 && v <= 2048 {
		size = v
	}
	b, err := qr.GeneratePNG(c.Query("text"), size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", b)
}

type defaultRegionRequest struct {
	Display   types.DisplaySize  `json:"display"`
	Natural   *types.DisplaySize `json:"natural,omitempty"`
	Container *types.DisplaySize `json:"container,omitempty"`
	Aspect    float64            `json:"aspect,omitempty"`
	Fraction  float64            `json:"fraction,omitempty"`
}

// defaultRegionHandler computes the region shown when a photo loads.
// With natural and container sizes the display size is derived by fitting.
func (s *Server) defaultRegionHandler(c *gin.Context) {
	var req defaultRegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	display := req.Display
	if req.Natural != nil && req.Container != nil {
		natural := image.Pt(int(req.Natural.W), int(req.Natural.H))
		display = crop.FitDisplay(natural, *req.Container)
	}
	if !display.Valid() {
		respondError(c, fmt.Errorf("%w: display size must be positive", errBadRequest))
		return
	}
	aspect := req.Aspect
	if aspect <= 0 {
		aspect = s.cfg.Crop.Aspect
	}
	fraction := req.Fraction
	if fraction <= 0 {
		fraction = s.cfg.Crop.DefaultFraction
	}
	region := crop.DefaultRegion(display, aspect, fraction, nil)
	c.JSON(http.StatusOK, gin.H{
		"display":   display,
		"region":    region,
		"region_px": region.ToPixels(display),
	})
}

// cropHandler flattens the requested region of an uploaded photo. With no
// region the default one is used, centered on the subject when a locator is
// configured. A pixel_ratio field returns the on-screen preview instead.
func (s *Server) cropHandler(c *gin.Context) {
	s.limitBody(c)
	img, err := s.formImage(c, "image")
	if err != nil {
		respondError(c, err)
		return
	}
	var display types.DisplaySize
	if err := formJSON(c, "display", &display); err != nil {
		respondError(c, err)
		return
	}
	var region *types.CropRegion
	if raw := c.PostForm("region"); raw != "" {
		region = &types.CropRegion{}
		if err := json.Unmarshal([]byte(raw), region); err != nil {
			respondError(c, fmt.Errorf("%w: region: %v", errBadRequest, err))
			return
		}
	}

	cfg := s.cfg.CropSettings()
	if f := c.PostForm("format"); f != "" {
		format, err := imageio.ParseFormat(f)
		if err != nil {
			respondError(c, err)
			return
		}
		cfg.Format = format
	}
	opts := []crop.Option{crop.WithLogger(s.logger)}
	if region == nil && s.locator != nil {
		opts = append(opts, crop.WithLocator(s.locator))
	}

	sess := crop.NewSession(cfg, opts...)
	if err := sess.Load(c.Request.Context(), img, display); err != nil {
		respondError(c, err)
		return
	}
	if region != nil {
		if err := sess.SetRegion(*region); err != nil {
			respondError(c, err)
			return
		}
	}
	regionJSON, _ := json.Marshal(sess.Region())
	c.Header("X-Crop-Region", string(regionJSON))

	if raw := c.PostForm("pixel_ratio"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(c, fmt.Errorf("%w: pixel_ratio: %v", errBadRequest, err))
			return
		}
		preview, err := crop.Preview(img, sess.Region(), sess.Display(), ratio)
		if err != nil {
			respondError(c, err)
			return
		}
		data, err := imageio.EncodeBytes(preview, imageio.FormatPNG, 0)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, imageio.FormatPNG.MIME(), data)
		return
	}

	if _, err := sess.Confirm(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	art, err := sess.Done()
	if err != nil {
		respondError(c, err)
		return
	}
	s.metrics.IncrementCrop(string(cfg.Format))
	c.Data(http.StatusOK, art.MIME, art.Data)
}

// buildCard assembles a live card from the multipart form: "fields" (JSON),
// "photo" or "photo_url", and the on-screen "width"/"height".
func (s *Server) buildCard(c *gin.Context) (*compositor.Card, error) {
	var fields types.CardFields
	if err := formJSON(c, "fields", &fields); err != nil {
		return nil, err
	}

	opts := []compositor.CardOption{
		compositor.WithCodeGenerator(qr.Generate, s.cfg.Card.CodeSize),
		compositor.WithCardLogger(s.logger),
	}
	if s.template != nil {
		opts = append(opts, compositor.WithTemplate(s.template))
	}
	card := compositor.NewCard(s.renderer, s.spec, opts...)
	card.SetFields(fields)

	photo, err := s.formImage(c, "photo")
	switch {
	case err == nil:
		card.SetPhoto(photo)
	case !errors.Is(err, errNoImage):
		return nil, err
	}

	size, err := formSize(c)
	if err != nil {
		return nil, err
	}
	card.Resize(size)

	if err := card.WaitCode(c.Request.Context()); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *Server) previewHandler(c *gin.Context) {
	s.limitBody(c)
	card, err := s.buildCard(c)
	if err != nil {
		respondError(c, err)
		return
	}
	img, err := card.Preview()
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := imageio.EncodeBytes(img, imageio.FormatPNG, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	fonts, _ := json.Marshal(card.FontSizes())
	c.Header("X-Font-Sizes", string(fonts))
	c.Data(http.StatusOK, imageio.FormatPNG.MIME(), data)
}

// exportHandler renders the canonical card. With download=1 the PNG is
// streamed as an attachment, otherwise it is stored and its URL returned.
func (s *Server) exportHandler(c *gin.Context) {
	s.limitBody(c)
	card, err := s.buildCard(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if !card.Ready() {
		respondError(c, export.ErrNotReady)
		return
	}

	art, err := s.pipeline.Export(c.Request.Context(), export.FromCard(card))
	if err != nil {
		respondError(c, err)
		return
	}
	memberID := card.Fields().MemberID

	if c.Query("download") == "1" {
		if err := export.Download(c.Writer, art, export.FileName(memberID)); err != nil {
			_ = c.Error(err)
		}
		return
	}

	id, err := s.store.Put(c.Request.Context(), art, time.Duration(s.cfg.Server.ArtifactTTL))
	if err != nil {
		respondError(c, err)
		return
	}
	s.metrics.IncrementArtifact()
	link := s.artifactURL(c, id)
	c.JSON(http.StatusCreated, gin.H{
		"id":           id,
		"url":          link,
		"download_url": link + "?download=1&name=" + url.QueryEscape(export.FileName(memberID)),
		"mime":         art.MIME,
		"width":        art.Width,
		"height":       art.Height,
		"bytes":        art.Size(),
	})
}

// artifactHandler serves a stored artifact. A download revokes the id
// shortly after the transfer started.
func (s *Server) artifactHandler(c *gin.Context) {
	id := c.Param("id")
	art, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("download") != "1" {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, art.MIME, art.Data)
		return
	}

	name := c.Query("name")
	if name == "" || strings.ContainsAny(name, `/\"`) {
		name = export.FileName("")
	}
	export.RevokeAfter(time.Duration(s.cfg.Server.RevokeDelay), func() {
		if err := s.store.Revoke(context.Background(), id); err != nil {
			s.logger.Warn("artifact revoke failed", "id", id, "error", err)
		}
	})
	if err := export.Download(c.Writer, art, name); err != nil {
		_ = c.Error(err)
	}
}

type sharePlanRequest struct {
	ArtifactID  string `json:"artifact_id" binding:"required"`
	Caption     string `json:"caption"`
	FileName    string `json:"file_name"`
	NativeShare bool   `json:"native_share"`
	NativeFiles bool   `json:"native_files"`
}

// sharePlanHandler tells a client which transports to try, in order.
func (s *Server) sharePlanHandler(c *gin.Context) {
	var req sharePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if _, err := s.store.Get(c.Request.Context(), req.ArtifactID); err != nil {
		respondError(c, err)
		return
	}

	env := share.EnvFor(c.GetHeader("User-Agent"), req.NativeShare, req.NativeFiles)
	plan := s.dispatcher.Plan(env, share.Payload{
		FileName: req.FileName,
		Caption:  req.Caption,
		URL:      s.artifactURL(c, req.ArtifactID),
	})
	if len(plan.Steps) > 0 {
		s.metrics.IncrementShare(plan.Steps[0].Transport)
	}
	c.JSON(http.StatusOK, plan)
}

type lookupRequest struct {
	Phone string `json:"phone" binding:"required"`
}

func (s *Server) lookupHandler(c *gin.Context) {
	if s.members == nil {
		respondError(c, errUnavailable)
		return
	}
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	rec, err := s.members.Lookup(c.Request.Context(), req.Phone)
	if errors.Is(err, membership.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"found": false})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": true, "record": rec, "fields": rec.CardFields()})
}

func (s *Server) submitHandler(c *gin.Context) {
	if s.members == nil {
		respondError(c, errUnavailable)
		return
	}
	var app membership.Application
	if err := c.ShouldBindJSON(&app); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	id, err := s.members.Submit(c.Request.Context(), app)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"member_id": id, "fields": app.CardFields(id)})
}

func (s *Server) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadBytes)
}

// formImage decodes an uploaded file, or fetches <field>_url.
func (s *Server) formImage(c *gin.Context, field string) (image.Image, error) {
	var img image.Image
	if fh, err := c.FormFile(field); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", errBadRequest, field, err)
		}
		defer f.Close()
		img, err = imageio.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
		}
	} else if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		u := c.PostForm(field + "_url")
		if u == "" {
			return nil, fmt.Errorf("%w: %s", errNoImage, field)
		}
		if !s.cfg.FetchAllowed(u) {
			return nil, fmt.Errorf("%w: %s_url: host not allowed", errBadRequest, field)
		}
		img, err = imageio.FetchLimit(c.Request.Context(), u, s.cfg.Server.MaxUploadBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %s_url: %v", errBadRequest, field, err)
		}
	} else {
		return nil, err
	}
	if err := imageio.Validate(img, s.cfg.Crop.MinImageSize); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return img, nil
}

func formJSON(c *gin.Context, field string, dst any) error {
	raw := c.PostForm(field)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return nil
}

func formSize(c *gin.Context) (layout.Size, error) {
	var size layout.Size
	for name, dst := range map[string]*float64{"width": &size.W, "height": &size.H} {
		raw := c.PostForm(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return layout.Size{}, fmt.Errorf("%w: %s must be a positive number", errBadRequest, name)
		}
		*dst = v
	}
	return size, nil
}

func (s *Server) artifactURL(c *gin.Context, id string) string {
	base := strings.TrimSuffix(s.cfg.Server.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/api/artifacts/" + id
}
