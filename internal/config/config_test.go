package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/llamacpp"
	"github.com/menta2k/membercard/pkg/ollama"
	"github.com/menta2k/membercard/pkg/vision"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1.0, cfg.Crop.Aspect)
	assert.Equal(t, 3, cfg.Export.Attempts)
	assert.Equal(t, imageio.FormatJPEG, cfg.CropSettings().Format)
}

func TestDefaultPortsDoNotCollide(t *testing.T) {
	cfg := Default()
	ports := map[string]string{"server": "8080"}
	for name, raw := range map[string]string{
		"llamacpp":   cfg.Detection.LlamaCppURL,
		"ollama":     cfg.Detection.OllamaURL,
		"membership": cfg.Membership.BaseURL,
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		for other, port := range ports {
			assert.NotEqual(t, port, u.Port(), "%s and %s share a port", name, other)
		}
		ports[name] = u.Port()
	}
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestSaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Server.Addr = ":9090"
	cfg.Export.BaseDelay = Duration(150 * time.Millisecond)

	require.NoError(t, cfg.SaveToFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"base_delay": "150ms"`)

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", loaded.Server.Addr)
	assert.Equal(t, 150*time.Millisecond, loaded.ExportSettings().BaseDelay)
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
server:
  addr: ":7000"
  artifact_ttl: 2m
crop:
  format: png
export:
  attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, Duration(2*time.Minute), cfg.Server.ArtifactTTL)
	assert.Equal(t, imageio.FormatPNG, cfg.CropSettings().Format)
	assert.Equal(t, 5, cfg.Export.Attempts)
	assert.Equal(t, 90, cfg.Crop.Quality)
	assert.Equal(t, 2.0, cfg.Export.Supersample)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"export":{"base_delay":"soon"}}`), 0644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"aspect":      func(c *Config) { c.Crop.Aspect = 0 },
		"fraction":    func(c *Config) { c.Crop.DefaultFraction = 1.5 },
		"format":      func(c *Config) { c.Crop.Format = "gif" },
		"quality":     func(c *Config) { c.Crop.Quality = 0 },
		"code size":   func(c *Config) { c.Card.CodeSize = 5 },
		"supersample": func(c *Config) { c.Export.Supersample = 8 },
		"attempts":    func(c *Config) { c.Export.Attempts = 0 },
		"confidence":  func(c *Config) { c.Detection.MinConfidence = 2 },
		"backend":     func(c *Config) { c.Detection.Backend = "gpt" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MEMBERCARD_ADDR", ":8181")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MEMBERCARD_DETECTION", "true")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, ":8181", cfg.Server.Addr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Server.RedisURL)
	assert.True(t, cfg.Detection.Enabled)
}

func TestFetchAllowed(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.FetchAllowed("https://photos.example.org/a.png"))

	t.Setenv("MEMBERCARD_FETCH_HOSTS", " photos.example.org , cdn.example.org")
	cfg.ApplyEnv()
	assert.Equal(t, []string{"photos.example.org", "cdn.example.org"}, cfg.Server.FetchHosts)

	assert.True(t, cfg.FetchAllowed("https://photos.example.org/a.png"))
	assert.True(t, cfg.FetchAllowed("http://CDN.example.org:8443/b.jpg"))
	assert.False(t, cfg.FetchAllowed("http://169.254.169.254/latest/meta-data"))
	assert.False(t, cfg.FetchAllowed("http://localhost:8080/api/health"))
	assert.False(t, cfg.FetchAllowed("file:///etc/passwd"))
	assert.False(t, cfg.FetchAllowed("ftp://photos.example.org/a.png"))
}

func TestVisionClient(t *testing.T) {
	cfg := Default()
	vc, err := cfg.VisionClient()
	require.NoError(t, err)
	assert.IsType(t, &ollama.Client{}, vc)

	cfg.Detection.Backend = "llamacpp"
	vc, err = cfg.VisionClient()
	require.NoError(t, err)
	assert.IsType(t, &llamacpp.Client{}, vc)

	cfg.Detection.Backend = "other"
	_, err = cfg.VisionClient()
	assert.Error(t, err)
}

func TestLocator(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Locator()
	require.NoError(t, err)
	chain, ok := loc.(vision.Chain)
	require.True(t, ok)
	assert.Len(t, chain, 2)

	cfg.Detection.Backend = "saliency"
	loc, err = cfg.Locator()
	require.NoError(t, err)
	assert.IsType(t, &vision.SubjectDetector{}, loc)

	cfg.Detection.Backend = "ollama"
	cfg.Detection.OllamaURL = "not a url"
	_, err = cfg.Locator()
	assert.Error(t, err)
}
