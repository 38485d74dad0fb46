// Package membership talks to the external registration service: member
// lookup by phone number and submission of new applications.
package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/membercard/pkg/types"
)

var (
	ErrNotFound     = errors.New("membership: member not found")
	ErrEmptyID      = errors.New("membership: service returned an empty member id")
	ErrService      = errors.New("membership: service error")
	ErrMissingPhone = errors.New("membership: phone number is required")
)

// Record is a member as returned by lookup.
type Record struct {
	Found      bool   `json:"found"`
	MemberID   string `json:"member_id"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	District   string `json:"district"`
	Division   string `json:"division"`
	SchoolName string `json:"school_name"`
	Year       string `json:"year"`
	Stream     string `json:"stream"`
}

// CardFields returns the fields printed on the card.
func (r *Record) CardFields() types.CardFields {
	return types.CardFields{
		MemberID:   r.MemberID,
		FullName:   r.FullName,
		SchoolName: r.SchoolName,
		Year:       r.Year,
		Stream:     r.Stream,
	}
}

// Application is a completed registration form.
type Application struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	District   string `json:"district"`
	Division   string `json:"division"`
	SchoolName string `json:"school_name"`
	Year       string `json:"year"`
	Stream     string `json:"stream"`
}

// CardFields returns the card fields for a newly issued member id.
func (a Application) CardFields(memberID string) types.CardFields {
	return types.CardFields{
		MemberID:   memberID,
		FullName:   a.FullName,
		SchoolName: a.SchoolName,
		Year:       a.Year,
		Stream:     a.Stream,
	}
}

// Config locates the service endpoints.
type Config struct {
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	LookupPath string        `json:"lookup_path" yaml:"lookup_path"`
	SubmitPath string        `json:"submit_path" yaml:"submit_path"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the conventional endpoint paths.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8082",
		LookupPath: "/lookup",
		SubmitPath: "/submit",
		Timeout:    15 * time.Second,
	}
}

// Client calls the registration service. Calls are never retried or cached.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.LookupPath == "" {
		cfg.LookupPath = def.LookupPath
	}
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = def.SubmitPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Lookup finds a member by phone number.
func (c *Client) Lookup(ctx context.Context, phone string) (*Record, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrMissingPhone
	}
	status, body, err := c.post(ctx, c.cfg.LookupPath, map[string]string{"phone": phone})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: lookup returned status %d: %s", ErrService, status, strings.TrimSpace(string(body)))
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("membership: parse lookup response: %w", err)
	}
	if !rec.Found {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Submit sends an application and returns the issued member id.
func (c *Client) Submit(ctx context.Context, app Application) (string, error) {
	status, body, err := c.post(ctx, c.cfg.SubmitPath, app)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("%w: submit returned status %d: %s", ErrService, status, strings.TrimSpace(string(body)))
	}
	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", ErrEmptyID
	}
	return id, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("membership: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("membership: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("membership: read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
