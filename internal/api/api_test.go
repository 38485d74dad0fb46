package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/menta2k/membercard/internal/artifact"
	"github.com/menta2k/membercard/internal/config"
	"github.com/menta2k/membercard/internal/metrics"
	"github.com/menta2k/membercard/pkg/compositor"
	"github.com/menta2k/membercard/pkg/membership"
	"github.com/menta2k/membercard/pkg/share"
)

type fakeMembers struct {
	records map[string]*membership.Record
	lastApp membership.Application
}

func (f *fakeMembers) Lookup(_ context.Context, phone string) (*membership.Record, error) {
	rec, ok := f.records[phone]
	if !ok {
		return nil, membership.ErrNotFound
	}
	return rec, nil
}

func (f *fakeMembers) Submit(_ context.Context, app membership.Application) (string, error) {
	f.lastApp = app
	return "MBR-0099", nil
}

type ServerSuite struct {
	suite.Suite
	store   *artifact.Memory
	members *fakeMembers
	server  *Server
	router  *gin.Engine
}

func TestServerSuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	renderer, err := compositor.NewRenderer()
	s.Require().NoError(err)

	cfg := config.Default()
	cfg.Export.BaseDelay = config.Duration(time.Millisecond)
	cfg.Server.RevokeDelay = config.Duration(time.Millisecond)
	cfg.Server.PublicURL = "https://cards.example.org"

	s.store = artifact.NewMemory()
	s.members = &fakeMembers{records: map[string]*membership.Record{
		"0771234567": {Found: true, MemberID: "MBR-0042", FullName: "Ada Perera", SchoolName: "Royal College", Year: "1st", Stream: "Science"},
	}}
	reg := prometheus.NewRegistry()
	s.server = New(Deps{
		Config:     cfg,
		Renderer:   renderer,
		Store:      s.store,
		Members:    s.members,
		Dispatcher: share.NewDispatcher(nil),
		Metrics:    metrics.New(reg),
		Gatherer:   reg,
	})
	s.router = s.server.Router()
}

func (s *ServerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ServerSuite) jsonRequest(method, path string, body any) *http.Request {
	b, err := json.Marshal(body)
	s.Require().NoError(err)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (s *ServerSuite) formRequest(path string, fields map[string]string, files map[string][]byte) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		s.Require().NoError(mw.WriteField(k, v))
	}
	for k, data := range files {
		fw, err := mw.CreateFormFile(k, k+".png")
		s.Require().NoError(err)
		_, err = fw.Write(data)
		s.Require().NoError(err)
	}
	s.Require().NoError(mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func photoPNG(t noErrorer, w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x % 256), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	t.NoError(png.Encode(&buf, img))
	return buf.Bytes()
}

type noErrorer interface {
	NoError(err error, msgAndArgs ...any)
}

func (s *ServerSuite) cardForm() map[string]string {
	return map[string]string{
		"fields": `{"member_id":"MBR-0042","full_name":"Ada Perera","school_name":"Royal College","year":"1st","stream":"Science"}`,
		"width":  "460",
		"height": "733",
	}
}

func (s *ServerSuite) export() string {
	w := s.do(s.formRequest("/api/card/export", s.cardForm(), map[string][]byte{"photo": photoPNG(s.Require(), 240, 320)}))
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("image/png", resp["mime"])
	s.Equal(float64(920), resp["width"])
	s.Equal(float64(1466), resp["height"])
	id, _ := resp["id"].(string)
	s.Require().NotEmpty(id)
	s.Equal("https://cards.example.org/api/artifacts/"+id, resp["url"])
	return id
}

func (s *ServerSuite) TestDownloadURLEscapesMemberID() {
	form := s.cardForm()
	form["fields"] = `{"member_id":"A&B 7#x","full_name":"Ada Perera"}`
	w := s.do(s.formRequest("/api/card/export", form, map[string][]byte{"photo": photoPNG(s.Require(), 240, 320)}))
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	raw, _ := resp["download_url"].(string)
	u, err := url.Parse(raw)
	s.Require().NoError(err)
	s.Empty(u.Fragment)
	q := u.Query()
	s.Equal("1", q.Get("download"))
	s.Equal("membership-card-A&B 7#x.png", q.Get("name"))
	s.Len(q, 2)
}

func (s *ServerSuite) TestHealth() {
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "ok")
}

func (s *ServerSuite) TestQR() {
	s.Run("missing text", func() {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/qr", nil))
		s.Equal(http.StatusBadRequest, w.Code)
	})
	s.Run("png", func() {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/qr?text=MBR-0042&size=128", nil))
		s.Require().Equal(http.StatusOK, w.Code)
		s.Equal("image/png", w.Header().Get("Content-Type"))
		img, err := png.Decode(w.Body)
		s.Require().NoError(err)
		s.Equal(128, img.Bounds().Dx())
	})
}

func (s *ServerSuite) TestDefaultRegion() {
	w := s.do(s.jsonRequest(http.MethodPost, "/api/crop/default", gin.H{
		"display": gin.H{"width": 400, "height": 300},
	}))
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Region   map[string]any `json:"region"`
		RegionPx map[string]any `json:"region_px"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Greater(resp.RegionPx["width"], float64(0))
	s.LessOrEqual(resp.RegionPx["width"], float64(400))
	s.LessOrEqual(resp.RegionPx["height"], float64(300))
}

func (s *ServerSuite) TestDefaultRegionInvalidDisplay() {
	w := s.do(s.jsonRequest(http.MethodPost, "/api/crop/default", gin.H{
		"display": gin.H{"width": 0, "height": 300},
	}))
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ServerSuite) TestCrop() {
	s.Run("flattens uploaded photo", func() {
		w := s.do(s.formRequest("/api/crop", map[string]string{
			"display": `{"width":200,"height":200}`,
			"format":  "png",
		}, map[string][]byte{"image": photoPNG(s.Require(), 200, 200)}))
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		s.Equal("image/png", w.Header().Get("Content-Type"))
		s.NotEmpty(w.Header().Get("X-Crop-Region"))

		img, err := png.Decode(w.Body)
		s.Require().NoError(err)
		s.Greater(img.Bounds().Dx(), 0)
		s.LessOrEqual(img.Bounds().Dx(), 200)
	})
	s.Run("missing image", func() {
		w := s.do(s.formRequest("/api/crop", map[string]string{"display": `{"width":200,"height":200}`}, nil))
		s.Equal(http.StatusBadRequest, w.Code)
	})
	s.Run("image too small", func() {
		w := s.do(s.formRequest("/api/crop", map[string]string{"display": `{"width":20,"height":20}`},
			map[string][]byte{"image": photoPNG(s.Require(), 20, 20)}))
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *ServerSuite) TestCropImageURL() {
	photo := photoPNG(s.Require(), 200, 200)
	var hits atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(photo)
		if r.URL.Path == "/padded.png" {
			_, _ = w.Write(make([]byte, 1<<20))
		}
	}))
	defer remote.Close()

	crop := func(path string) *httptest.ResponseRecorder {
		return s.do(s.formRequest("/api/crop", map[string]string{
			"display":   `{"width":200,"height":200}`,
			"format":    "png",
			"image_url": remote.URL + path,
		}, nil))
	}

	s.Run("host not allowed", func() {
		w := crop("/photo.png")
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(w.Body.String(), "host not allowed")
		s.Equal(int32(0), hits.Load())
	})

	s.server.cfg.Server.FetchHosts = []string{"127.0.0.1"}

	s.Run("allowed host", func() {
		w := crop("/photo.png")
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		s.Equal("image/png", w.Header().Get("Content-Type"))
	})
	s.Run("response over upload limit", func() {
		s.server.cfg.Server.MaxUploadBytes = 512 << 10
		w := crop("/padded.png")
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(w.Body.String(), "too large")
	})
}

func (s *ServerSuite) TestPreview() {
	w := s.do(s.formRequest("/api/card/preview", s.cardForm(), map[string][]byte{"photo": photoPNG(s.Require(), 240, 320)}))
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.NotEmpty(w.Header().Get("X-Font-Sizes"))

	img, err := png.Decode(w.Body)
	s.Require().NoError(err)
	s.Equal(460, img.Bounds().Dx())
	s.Equal(733, img.Bounds().Dy())
}

func (s *ServerSuite) TestExportRequiresPhoto() {
	w := s.do(s.formRequest("/api/card/export", s.cardForm(), nil))
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal(0, s.store.Len())
	s.Equal(0, s.server.Pipeline().Stage().Len())
}

func (s *ServerSuite) TestExportAndServeArtifact() {
	id := s.export()
	s.Equal(0, s.server.Pipeline().Stage().Len())

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/"+id, nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("image/png", w.Header().Get("Content-Type"))
	img, err := png.Decode(w.Body)
	s.Require().NoError(err)
	s.Equal(920, img.Bounds().Dx())
	s.Equal(1466, img.Bounds().Dy())
}

func (s *ServerSuite) TestExportDirectDownload() {
	req := s.formRequest("/api/card/export?download=1", s.cardForm(), map[string][]byte{"photo": photoPNG(s.Require(), 240, 320)})
	w := s.do(req)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Contains(w.Header().Get("Content-Disposition"), "membership-card-MBR-0042.png")
	s.Equal(0, s.store.Len())
}

func (s *ServerSuite) TestDownloadRevokesArtifact() {
	id := s.export()

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/"+id+"?download=1&name=membership-card-MBR-0042.png", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Header().Get("Content-Disposition"), "attachment")
	s.Contains(w.Header().Get("Content-Disposition"), "membership-card-MBR-0042.png")

	s.Eventually(func() bool { return s.store.Len() == 0 }, time.Second, 5*time.Millisecond)
	w = s.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/"+id, nil))
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *ServerSuite) TestUnknownArtifact() {
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/does-not-exist", nil))
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *ServerSuite) TestSharePlan() {
	id := s.export()

	s.Run("android without native share", func() {
		req := s.jsonRequest(http.MethodPost, "/api/share/plan", gin.H{"artifact_id": id})
		req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36")
		w := s.do(req)
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

		var plan share.Plan
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &plan))
		s.Require().NotEmpty(plan.Steps)
		s.Equal("android-intent", plan.Steps[0].Transport)
		s.Contains(plan.Message, id)
		s.Contains(plan.Message, share.DefaultCaption)
	})
	s.Run("unknown artifact", func() {
		w := s.do(s.jsonRequest(http.MethodPost, "/api/share/plan", gin.H{"artifact_id": "missing"}))
		s.Equal(http.StatusNotFound, w.Code)
	})
	s.Run("missing artifact id", func() {
		w := s.do(s.jsonRequest(http.MethodPost, "/api/share/plan", gin.H{}))
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *ServerSuite) TestMembers() {
	s.Run("lookup found", func() {
		w := s.do(s.jsonRequest(http.MethodPost, "/api/members/lookup", gin.H{"phone": "0771234567"}))
		s.Require().Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `"member_id":"MBR-0042"`)
	})
	s.Run("lookup not found", func() {
		w := s.do(s.jsonRequest(http.MethodPost, "/api/members/lookup", gin.H{"phone": "0000000000"}))
		s.Equal(http.StatusNotFound, w.Code)
		s.Contains(w.Body.String(), `"found":false`)
	})
	s.Run("submit", func() {
		w := s.do(s.jsonRequest(http.MethodPost, "/api/members", gin.H{
			"full_name": "Kasun Silva", "phone": "0719876543", "school_name": "Ananda College", "year": "2nd", "stream": "Arts",
		}))
		s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
		s.Contains(w.Body.String(), "MBR-0099")
		s.Equal("Kasun Silva", s.members.lastApp.FullName)
	})
}

func (s *ServerSuite) TestMembersUnavailable() {
	srv := New(Deps{Renderer: s.server.renderer, Store: s.store})
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, s.jsonRequest(http.MethodPost, "/api/members/lookup", gin.H{"phone": "1"}))
	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *ServerSuite) TestMetricsEndpoint() {
	s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	w := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Require().Equal(http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	s.Require().NoError(err)
	s.True(strings.Contains(string(body), "membercard_http_requests_total"))
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		artifact.ErrNotFound:  http.StatusNotFound,
		errBadRequest:         http.StatusBadRequest,
		membership.ErrService: http.StatusBadGateway,
		errUnavailable:        http.StatusServiceUnavailable,
		io.ErrUnexpectedEOF:   http.StatusInternalServerError,
		&http.MaxBytesError{}: http.StatusRequestEntityTooLarge,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
