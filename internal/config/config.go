package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/membercard/pkg/client"
	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/detection"
	"github.com/menta2k/membercard/pkg/export"
	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/llamacpp"
	"github.com/menta2k/membercard/pkg/membership"
	"github.com/menta2k/membercard/pkg/ollama"
	"github.com/menta2k/membercard/pkg/vision"
)

// Duration is a time.Duration written as "300ms" in config files
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Crop       CropConfig       `json:"crop" yaml:"crop"`
	Card       CardConfig       `json:"card" yaml:"card"`
	Export     ExportConfig     `json:"export" yaml:"export"`
	Membership MembershipConfig `json:"membership" yaml:"membership"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Output     OutputConfig     `json:"output" yaml:"output"`
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	RedisURL       string   `json:"redis_url" yaml:"redis_url"`
	ArtifactTTL    Duration `json:"artifact_ttl" yaml:"artifact_ttl"`
	RevokeDelay    Duration `json:"revoke_delay" yaml:"revoke_delay"`
	MaxUploadBytes int64    `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	PublicURL      string   `json:"public_url" yaml:"public_url"`
	// FetchHosts lists the hosts photo and image URLs may point to. Empty
	// disables fetching by URL.
	FetchHosts []string `json:"fetch_hosts" yaml:"fetch_hosts"`
}

// CropConfig holds configuration for the crop session
type CropConfig struct {
	Aspect          float64 `json:"aspect" yaml:"aspect"`
	DefaultFraction float64 `json:"default_fraction" yaml:"default_fraction"`
	Format          string  `json:"format" yaml:"format"`
	Quality         int     `json:"quality" yaml:"quality"`
	MinImageSize    int     `json:"min_image_size" yaml:"min_image_size"`
}

// CardConfig holds configuration for the card compositor
type CardConfig struct {
	TemplatePath string `json:"template_path" yaml:"template_path"`
	CodeSize     int    `json:"code_size" yaml:"code_size"`
}

// ExportConfig holds configuration for canonical exports
type ExportConfig struct {
	Supersample float64  `json:"supersample" yaml:"supersample"`
	Attempts    int      `json:"attempts" yaml:"attempts"`
	BaseDelay   Duration `json:"base_delay" yaml:"base_delay"`
}

// MembershipConfig locates the registration service
type MembershipConfig struct {
	BaseURL    string   `json:"base_url" yaml:"base_url"`
	LookupPath string   `json:"lookup_path" yaml:"lookup_path"`
	SubmitPath string   `json:"submit_path" yaml:"submit_path"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
}

// DetectionConfig holds configuration for the optional subject hint
type DetectionConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Backend is "ollama", "llamacpp" or "saliency". Model backends fall
	// back to saliency when the model fails.
	Backend       string  `json:"backend" yaml:"backend"`
	OllamaURL     string  `json:"ollama_url" yaml:"ollama_url"`
	LlamaCppURL   string  `json:"llamacpp_url" yaml:"llamacpp_url"`
	Model         string  `json:"model" yaml:"model"`
	MaxSide       int     `json:"max_side" yaml:"max_side"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// OutputConfig holds configuration for files written by the CLI
type OutputConfig struct {
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	Suffix    string `json:"suffix" yaml:"suffix"`
}

// Default returns a configuration with default values
func Default() *Config {
	cropCfg := crop.DefaultConfig()
	exportCfg := export.DefaultConfig()
	memberCfg := membership.DefaultConfig()
	detectCfg := detection.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ArtifactTTL:    Duration(10 * time.Minute),
			RevokeDelay:    Duration(export.DefaultRevokeDelay),
			MaxUploadBytes: 10 << 20,
		},
		Crop: CropConfig{
			Aspect:          cropCfg.Aspect,
			DefaultFraction: cropCfg.DefaultFraction,
			Format:          string(cropCfg.Format),
			Quality:         cropCfg.Quality,
			MinImageSize:    64,
		},
		Card: CardConfig{
			CodeSize: 400,
		},
		Export: ExportConfig{
			Supersample: exportCfg.Supersample,
			Attempts:    exportCfg.Attempts,
			BaseDelay:   Duration(exportCfg.BaseDelay),
		},
		Membership: MembershipConfig{
			BaseURL:    memberCfg.BaseURL,
			LookupPath: memberCfg.LookupPath,
			SubmitPath: memberCfg.SubmitPath,
			Timeout:    Duration(memberCfg.Timeout),
		},
		Detection: DetectionConfig{
			Backend:       "ollama",
			OllamaURL:     "http://localhost:11434",
			LlamaCppURL:   llamacpp.DefaultURL,
			Model:         detectCfg.Model,
			MaxSide:       detectCfg.MaxSide,
			MinConfidence: detectCfg.MinConfidence,
		},
		Output: OutputConfig{
			OutputDir: "./output",
			Suffix:    "_card",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults. The format follows the file extension.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as JSON or YAML, following the extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() {
	env := map[string]*string{
		"MEMBERCARD_ADDR":           &c.Server.Addr,
		"MEMBERCARD_PUBLIC_URL":     &c.Server.PublicURL,
		"REDIS_URL":                 &c.Server.RedisURL,
		"MEMBERCARD_TEMPLATE":       &c.Card.TemplatePath,
		"MEMBERCARD_MEMBERSHIP_URL": &c.Membership.BaseURL,
		"OLLAMA_URL":                &c.Detection.OllamaURL,
		"LLAMACPP_URL":              &c.Detection.LlamaCppURL,
		"MEMBERCARD_VISION_BACKEND": &c.Detection.Backend,
	}
	for key, dst := range env {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("MEMBERCARD_FETCH_HOSTS")); v != "" {
		c.Server.FetchHosts = nil
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				c.Server.FetchHosts = append(c.Server.FetchHosts, h)
			}
		}
	}
	if v := os.Getenv("MEMBERCARD_DETECTION"); v != "" {
		c.Detection.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Crop.Aspect <= 0 {
		return fmt.Errorf("crop.aspect must be positive")
	}

	if c.Crop.DefaultFraction <= 0 || c.Crop.DefaultFraction > 1 {
		return fmt.Errorf("crop.default_fraction must be in (0, 1]")
	}

	if _, err := imageio.ParseFormat(c.Crop.Format); err != nil {
		return fmt.Errorf("crop.format: %w", err)
	}

	if c.Crop.Quality < 1 || c.Crop.Quality > 100 {
		return fmt.Errorf("crop.quality must be between 1 and 100")
	}

	if c.Crop.MinImageSize < 1 {
		return fmt.Errorf("crop.min_image_size must be positive")
	}

	if c.Card.CodeSize < 21 {
		return fmt.Errorf("card.code_size must be at least 21")
	}

	if c.Export.Supersample < 1 || c.Export.Supersample > 4 {
		return fmt.Errorf("export.supersample must be between 1 and 4")
	}

	if c.Export.Attempts < 1 {
		return fmt.Errorf("export.attempts must be positive")
	}

	if c.Export.BaseDelay < 0 {
		return fmt.Errorf("export.base_delay must not be negative")
	}

	if c.Server.MaxUploadBytes < 1 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	switch c.Detection.Backend {
	case "ollama", "llamacpp", "saliency":
	default:
		return fmt.Errorf("detection.backend must be ollama, llamacpp or saliency, got %q", c.Detection.Backend)
	}

	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be between 0 and 1")
	}

	return nil
}

// FetchAllowed reports whether the server may download from rawURL
func (c *Config) FetchAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	for _, h := range c.Server.FetchHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// CropSettings converts the crop section for crop.NewSession
func (c *Config) CropSettings() crop.Config {
	format, err := imageio.ParseFormat(c.Crop.Format)
	if err != nil {
		format = imageio.FormatJPEG
	}
	return crop.Config{
		Aspect:          c.Crop.Aspect,
		DefaultFraction: c.Crop.DefaultFraction,
		Format:          format,
		Quality:         c.Crop.Quality,
	}
}

// ExportSettings converts the export section for export.New
func (c *Config) ExportSettings() export.Config {
	return export.Config{
		Supersample: c.Export.Supersample,
		Attempts:    c.Export.Attempts,
		BaseDelay:   time.Duration(c.Export.BaseDelay),
	}
}

// MembershipSettings converts the membership section for membership.NewClient
func (c *Config) MembershipSettings() membership.Config {
	return membership.Config{
		BaseURL:    c.Membership.BaseURL,
		LookupPath: c.Membership.LookupPath,
		SubmitPath: c.Membership.SubmitPath,
		Timeout:    time.Duration(c.Membership.Timeout),
	}
}

// DetectionSettings converts the detection section for detection.NewDetector
func (c *Config) DetectionSettings() detection.Config {
	return detection.Config{
		Model:         c.Detection.Model,
		MaxSide:       c.Detection.MaxSide,
		MinConfidence: c.Detection.MinConfidence,
	}
}

// VisionClient connects to the configured vision backend
func (c *Config) VisionClient() (client.VisionClient, error) {
	switch c.Detection.Backend {
	case "ollama":
		return ollama.NewClient(c.Detection.OllamaURL)
	case "llamacpp":
		return llamacpp.NewClient(c.Detection.LlamaCppURL)
	}
	return nil, fmt.Errorf("unknown vision backend %q", c.Detection.Backend)
}

// Locator builds the subject locator for the configured backend
func (c *Config) Locator() (crop.SubjectLocator, error) {
	if c.Detection.Backend == "saliency" {
		return vision.New(), nil
	}
	vc, err := c.VisionClient()
	if err != nil {
		return nil, err
	}
	return vision.Chain{detection.NewDetector(vc, c.DetectionSettings()), vision.New()}, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "membercard", "config.json")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
