package publishers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported sink types.
const (
	TypeHTTP   = "http"
	TypeSNS    = "sns"
	TypeSQS    = "sqs"
	TypePubSub = "pubsub"
)

const httpDefaultTimeoutSeconds = 5

// PublisherConfig is one sink entry of the publishers file.
type PublisherConfig struct {
	ID      string                 `json:"id" yaml:"id"`
	Type    string                 `json:"type" yaml:"type"`
	Enabled *bool                  `json:"enabled" yaml:"enabled"`
	HTTP    *HTTPPublisherConfig   `json:"http" yaml:"http"`
	SNS     *SNSPublisherConfig    `json:"sns" yaml:"sns"`
	SQS     *SQSPublisherConfig    `json:"sqs" yaml:"sqs"`
	PubSub  *PubSubPublisherConfig `json:"pubsub" yaml:"pubsub"`
}

// HTTPPublisherConfig configures a JSON webhook sink.
type HTTPPublisherConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	// Retries is the number of extra attempts after a 5xx, 429 or network failure.
	Retries int `json:"retries" yaml:"retries"`
}

// SNSPublisherConfig holds AWS SNS settings. Static keys are optional; the default
// credential chain is used when they are empty.
type SNSPublisherConfig struct {
	TopicARN        string `json:"topic_arn" yaml:"topic_arn"`
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// SQSPublisherConfig holds AWS SQS settings. MessageGroupID is required for FIFO queues.
type SQSPublisherConfig struct {
	QueueURL        string `json:"queue_url" yaml:"queue_url"`
	Region          string `json:"region" yaml:"region"`
	MessageGroupID  string `json:"message_group_id" yaml:"message_group_id"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// PubSubPublisherConfig holds Google Cloud Pub/Sub settings.
type PubSubPublisherConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// ConfigRegistry is the validated content of a publishers file.
type ConfigRegistry struct {
	publishers []PublisherConfig
}

// LoadRegistry reads the publishers file at path. The format follows the extension
// (.yaml, .yml or .json); files without one are tried as YAML then JSON.
func LoadRegistry(path string) (*ConfigRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("publishers file path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read publishers file: %w", err)
	}

	var file struct {
		Publishers []PublisherConfig `json:"publishers" yaml:"publishers"`
	}
	if err := decodeFile(raw, filepath.Ext(path), &file); err != nil {
		return nil, err
	}
	if len(file.Publishers) == 0 {
		return nil, errors.New("publishers file contains no publishers entries")
	}

	seen := make(map[string]struct{}, len(file.Publishers))
	reg := &ConfigRegistry{publishers: make([]PublisherConfig, 0, len(file.Publishers))}
	for i, entry := range file.Publishers {
		cfg := sanitizePublisherConfig(entry)
		if err := validatePublisherConfig(cfg); err != nil {
			return nil, fmt.Errorf("publishers[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate publisher id %q", cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		reg.publishers = append(reg.publishers, cfg)
	}
	return reg, nil
}

func decodeFile(raw []byte, ext string, out any) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode yaml publishers: %w", err)
		}
		return nil
	case ".json":
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode json publishers: %w", err)
		}
		return nil
	case "":
		if yaml.Unmarshal(raw, out) == nil || json.Unmarshal(raw, out) == nil {
			return nil
		}
	}
	return errors.New("publishers file format not recognized (expected YAML or JSON)")
}

// Enabled returns the sinks whose enabled flag is unset or true, in file order.
func (r *ConfigRegistry) Enabled() []PublisherConfig {
	if r == nil {
		return nil
	}
	var out []PublisherConfig
	for _, cfg := range r.publishers {
		if cfg.EnabledValue() {
			out = append(out, cfg)
		}
	}
	return out
}

// EnabledValue returns the enabled flag, defaulting to true.
func (cfg PublisherConfig) EnabledValue() bool {
	return cfg.Enabled == nil || *cfg.Enabled
}

func sanitizePublisherConfig(cfg PublisherConfig) PublisherConfig {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if cfg.HTTP != nil {
		c := cfg.HTTP.normalized()
		cfg.HTTP = &c
	}
	if cfg.SNS != nil {
		c := *cfg.SNS
		c.TopicARN = strings.TrimSpace(c.TopicARN)
		c.Region = strings.TrimSpace(c.Region)
		c.AccessKeyID = strings.TrimSpace(c.AccessKeyID)
		c.SecretAccessKey = strings.TrimSpace(c.SecretAccessKey)
		cfg.SNS = &c
	}
	if cfg.SQS != nil {
		c := *cfg.SQS
		c.QueueURL = strings.TrimSpace(c.QueueURL)
		c.Region = strings.TrimSpace(c.Region)
		c.MessageGroupID = strings.TrimSpace(c.MessageGroupID)
		c.AccessKeyID = strings.TrimSpace(c.AccessKeyID)
		c.SecretAccessKey = strings.TrimSpace(c.SecretAccessKey)
		cfg.SQS = &c
	}
	if cfg.PubSub != nil {
		c := *cfg.PubSub
		c.ProjectID = strings.TrimSpace(c.ProjectID)
		c.Topic = strings.TrimSpace(c.Topic)
		c.CredentialsFile = strings.TrimSpace(c.CredentialsFile)
		cfg.PubSub = &c
	}
	return cfg
}

func (c HTTPPublisherConfig) normalized() HTTPPublisherConfig {
	c.URL = strings.TrimSpace(c.URL)
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	if c.Method == "" {
		c.Method = http.MethodPost
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = httpDefaultTimeoutSeconds
	}
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			headers[k] = v
		}
	}
	c.Headers = headers
	return c
}

func validatePublisherConfig(cfg PublisherConfig) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	var err error
	switch cfg.Type {
	case "":
		return fmt.Errorf("type is required for publisher %q", cfg.ID)
	case TypeHTTP:
		err = cfg.HTTP.validate()
	case TypeSNS:
		err = cfg.SNS.validate()
	case TypeSQS:
		err = cfg.SQS.validate()
	case TypePubSub:
		err = cfg.PubSub.validate()
	default:
		// Unknown types are rejected by the builder registry.
		return nil
	}
	if err != nil {
		return fmt.Errorf("publisher %q: %w", cfg.ID, err)
	}
	return nil
}

func (c *HTTPPublisherConfig) validate() error {
	switch {
	case c == nil:
		return errors.New("http block is required")
	case c.URL == "":
		return errors.New("http.url is required")
	case c.Retries < 0:
		return errors.New("http.retries must not be negative")
	}
	return nil
}

func (c *SNSPublisherConfig) validate() error {
	switch {
	case c == nil:
		return errors.New("sns block is required")
	case c.TopicARN == "":
		return errors.New("sns.topic_arn is required")
	case c.Region == "":
		return errors.New("sns.region is required")
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		return errors.New("sns static credentials need both access_key_id and secret_access_key")
	}
	return nil
}

func (c *SQSPublisherConfig) validate() error {
	switch {
	case c == nil:
		return errors.New("sqs block is required")
	case c.QueueURL == "":
		return errors.New("sqs.queue_url is required")
	case c.Region == "":
		return errors.New("sqs.region is required")
	case strings.HasSuffix(c.QueueURL, ".fifo") && c.MessageGroupID == "":
		return errors.New("sqs.message_group_id is required for FIFO queues")
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		return errors.New("sqs static credentials need both access_key_id and secret_access_key")
	}
	return nil
}

func (c *PubSubPublisherConfig) validate() error {
	switch {
	case c == nil:
		return errors.New("pubsub block is required")
	case c.ProjectID == "":
		return errors.New("pubsub.project_id is required")
	case c.Topic == "":
		return errors.New("pubsub.topic is required")
	}
	return nil
}
