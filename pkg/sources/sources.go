// Package sources loads the feed registry and mail settings from a YAML or JSON file.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIntervalMinutes  = 5
	DefaultRetentionDays    = 30
	DefaultMaxImageSizeMB   = 10.0
	DefaultMaxImagesPerMail = 20
	DefaultDigestDir        = "./rsspush"
	DefaultDataRoot         = "data"

	cacheFileSuffix = "_processed_guids.json"
)

// Source is one feed with its schedule and resource limits resolved.
type Source struct {
	Name             string
	URL              string
	Interval         time.Duration
	SaveDir          string
	DigestDir        string
	RetentionDays    int
	MaxImageSizeMB   float64
	MaxImagesPerMail int
}

// Retention returns how long artifacts are kept on disk.
func (s Source) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// MaxImageBytes converts the per-image ceiling to bytes.
func (s Source) MaxImageBytes() int64 {
	return int64(s.MaxImageSizeMB * 1024 * 1024)
}

// CacheFileName is the identifier cache file name inside SaveDir.
func (s Source) CacheFileName() string {
	return s.Name + cacheFileSuffix
}

// IsCacheFile reports whether name looks like an identifier cache file.
func IsCacheFile(name string) bool {
	return strings.HasSuffix(name, cacheFileSuffix)
}

// DigestPrefix is the file name prefix shared by this source's text digests.
func (s Source) DigestPrefix() string {
	return s.Name + "_update_"
}

// EmailConfig describes the outbound SMTP account and recipient.
type EmailConfig struct {
	SMTPServer     string
	SMTPPort       int
	SenderEmail    string
	SenderPassword string
	ReceiverEmail  string
}

// Addr returns host:port for dialing.
func (e EmailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.SMTPServer, e.SMTPPort)
}

// Recipients splits ReceiverEmail on commas, dropping blanks.
func (e EmailConfig) Recipients() []string {
	var out []string
	for _, r := range strings.Split(e.ReceiverEmail, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Registry is the validated content of a sources file.
type Registry struct {
	BaseURL string
	Email   EmailConfig
	Sources []Source
}

// Names lists source names in file order.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r.Sources))
	for _, s := range r.Sources {
		out = append(out, s.Name)
	}
	return out
}

type fileRegistry struct {
	BaseURL string       `json:"base_rss_url" yaml:"base_rss_url"`
	Email   *fileEmail   `json:"email_config" yaml:"email_config"`
	Sources []fileSource `json:"rss_sources" yaml:"rss_sources"`
}

type fileEmail struct {
	SMTPServer     *string `json:"smtp_server" yaml:"smtp_server"`
	SMTPPort       *int    `json:"smtp_port" yaml:"smtp_port"`
	SenderEmail    *string `json:"sender_email" yaml:"sender_email"`
	SenderPassword *string `json:"sender_password" yaml:"sender_password"`
	ReceiverEmail  *string `json:"receiver_email" yaml:"receiver_email"`
}

type fileSource struct {
	Name             string   `json:"name" yaml:"name"`
	URL              string   `json:"url" yaml:"url"`
	IntervalMinutes  *int     `json:"interval_minutes" yaml:"interval_minutes"`
	SaveDir          string   `json:"save_dir" yaml:"save_dir"`
	TxtDir           string   `json:"txt_dir" yaml:"txt_dir"`
	MaxCacheDays     *int     `json:"max_cache_days" yaml:"max_cache_days"`
	MaxImageSizeMB   *float64 `json:"max_image_size_mb" yaml:"max_image_size_mb"`
	MaxImagesPerMail *int     `json:"max_images_per_mail" yaml:"max_images_per_mail"`
}

// Load reads, decodes and validates the sources file at path.
func Load(path string) (Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Registry{}, errors.New("sources file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return Registry{}, fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return Registry{}, fmt.Errorf("read sources file: %w", err)
	}

	return Parse(raw, filepath.Ext(path))
}

// Parse decodes data using the decoder matching ext (or any decoder when ext is empty) and validates it.
func Parse(data []byte, ext string) (Registry, error) {
	reg, err := parseRegistry(data, ext)
	if err != nil {
		return Registry{}, err
	}
	return reg.resolve()
}

func parseRegistry(data []byte, ext string) (fileRegistry, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var errs []error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		reg, err := unmarshalRegistry(d.name, data, d.fn)
		if err == nil {
			return reg, nil
		}
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fileRegistry{}, errors.Join(errs...)
	}
	return fileRegistry{}, errors.New("sources file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

func unmarshalRegistry(name string, data []byte, fn unmarshalFn) (fileRegistry, error) {
	var reg fileRegistry
	if err := fn(data, &reg); err != nil {
		return fileRegistry{}, fmt.Errorf("decode %s sources: %w", name, err)
	}
	return reg, nil
}

func (f fileRegistry) resolve() (Registry, error) {
	email, err := f.Email.resolve()
	if err != nil {
		return Registry{}, err
	}
	if len(f.Sources) == 0 {
		return Registry{}, errors.New("rss_sources is missing or empty")
	}

	reg := Registry{
		BaseURL: strings.TrimSpace(f.BaseURL),
		Email:   email,
		Sources: make([]Source, 0, len(f.Sources)),
	}

	seen := make(map[string]struct{}, len(f.Sources))
	for i, fs := range f.Sources {
		src, err := fs.resolve(reg.BaseURL)
		if err != nil {
			return Registry{}, fmt.Errorf("rss_sources[%d]: %w", i, err)
		}
		if _, dup := seen[src.Name]; dup {
			return Registry{}, fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		reg.Sources = append(reg.Sources, src)
	}

	return reg, nil
}

func (e *fileEmail) resolve() (EmailConfig, error) {
	if e == nil {
		return EmailConfig{}, errors.New("email_config is required")
	}

	required := []struct {
		field string
		val   *string
	}{
		{"smtp_server", e.SMTPServer},
		{"sender_email", e.SenderEmail},
		{"sender_password", e.SenderPassword},
		{"receiver_email", e.ReceiverEmail},
	}
	for _, r := range required {
		if r.val == nil {
			return EmailConfig{}, fmt.Errorf("email_config.%s is required", r.field)
		}
	}
	if e.SMTPPort == nil {
		return EmailConfig{}, errors.New("email_config.smtp_port is required")
	}

	cfg := EmailConfig{
		SMTPServer:     strings.TrimSpace(*e.SMTPServer),
		SMTPPort:       *e.SMTPPort,
		SenderEmail:    strings.TrimSpace(*e.SenderEmail),
		SenderPassword: *e.SenderPassword,
		ReceiverEmail:  strings.TrimSpace(*e.ReceiverEmail),
	}

	if cfg.SMTPServer == "" {
		return EmailConfig{}, errors.New("email_config.smtp_server is empty")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return EmailConfig{}, fmt.Errorf("email_config.smtp_port %d is out of range", cfg.SMTPPort)
	}
	if !looksLikeEmail(cfg.SenderEmail) {
		return EmailConfig{}, fmt.Errorf("email_config.sender_email %q is not a valid address", cfg.SenderEmail)
	}
	if !looksLikeEmail(cfg.ReceiverEmail) {
		return EmailConfig{}, fmt.Errorf("email_config.receiver_email %q is not a valid address", cfg.ReceiverEmail)
	}

	return cfg, nil
}

func looksLikeEmail(s string) bool {
	return strings.Contains(s, "@") && strings.Contains(s, ".")
}

func (f fileSource) resolve(baseURL string) (Source, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return Source{}, errors.New("name is required")
	}
	rawURL := strings.TrimSpace(f.URL)
	if rawURL == "" {
		return Source{}, fmt.Errorf("url is required for source %q", name)
	}

	src := Source{
		Name:             name,
		URL:              JoinURL(baseURL, rawURL),
		Interval:         DefaultIntervalMinutes * time.Minute,
		SaveDir:          strings.TrimSpace(f.SaveDir),
		DigestDir:        strings.TrimSpace(f.TxtDir),
		RetentionDays:    DefaultRetentionDays,
		MaxImageSizeMB:   DefaultMaxImageSizeMB,
		MaxImagesPerMail: DefaultMaxImagesPerMail,
	}
	if src.SaveDir == "" {
		src.SaveDir = filepath.Join(DefaultDataRoot, name)
	}
	if src.DigestDir == "" {
		src.DigestDir = DefaultDigestDir
	}

	if f.IntervalMinutes != nil {
		if *f.IntervalMinutes < 1 {
			return Source{}, fmt.Errorf("interval_minutes for source %q must be a positive integer", name)
		}
		src.Interval = time.Duration(*f.IntervalMinutes) * time.Minute
	}
	if f.MaxCacheDays != nil {
		if *f.MaxCacheDays < 1 {
			return Source{}, fmt.Errorf("max_cache_days for source %q must be a positive integer", name)
		}
		src.RetentionDays = *f.MaxCacheDays
	}
	if f.MaxImageSizeMB != nil {
		if *f.MaxImageSizeMB <= 0 {
			return Source{}, fmt.Errorf("max_image_size_mb for source %q must be positive", name)
		}
		src.MaxImageSizeMB = *f.MaxImageSizeMB
	}
	if f.MaxImagesPerMail != nil {
		if *f.MaxImagesPerMail < 1 {
			return Source{}, fmt.Errorf("max_images_per_mail for source %q must be a positive integer", name)
		}
		src.MaxImagesPerMail = *f.MaxImagesPerMail
	}

	return src, nil
}

// JoinURL prefixes a path-style feed URL with base and decodes HTML entities.
func JoinURL(base, raw string) string {
	if strings.HasPrefix(raw, "/") {
		raw = strings.TrimRight(base, "/") + raw
	}
	return html.UnescapeString(raw)
}
