// Package config provides application configuration management.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
	"github.com/oszuidwest/zwfm-voicedetect/internal/vad"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort     = 8080
	DefaultWebUsername = "admin"
	DefaultWebPassword = "voicedetect"
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path"`                             // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" yaml:"port" validate:"gte=1,lte=65535"`                // HTTP server port
	Username   string `json:"username" yaml:"username" validate:"required,max=64"`        // API username
	Password   string `json:"password" yaml:"password" validate:"required,min=4,max=128"` // API password
}

// AudioConfig holds audio input device settings.
type AudioConfig struct {
	Input string `json:"input" yaml:"input" validate:"max=256"` // Audio input device identifier
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url" validate:"omitempty,url"` // Webhook URL for voice events
}

// LogConfig holds event log settings.
type LogConfig struct {
	Path string `json:"path" yaml:"path"` // JSON lines event log path
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system" yaml:"system"`
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Detection     vad.Config          `json:"detection" yaml:"detection"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`

	mu       sync.RWMutex
	filePath string
	lastHash [sha256.Size]byte
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Detection: vad.DefaultConfig(),
		filePath:  filePath,
	}
}

// Path returns the file the configuration is loaded from and saved to.
func (c *Config) Path() string {
	return c.filePath
}

// isYAML reports whether the path selects the YAML encoding.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := c.decode(data); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	c.lastHash = sha256.Sum256(data)
	return nil
}

// Reload re-reads the file and applies it when its content differs from what
// was last loaded or saved. An invalid file leaves the current values intact.
func (c *Config) Reload() (changed bool, err error) {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return false, fmt.Errorf("failed to read config: %w", err)
	}
	hash := sha256.Sum256(data)

	c.mu.RLock()
	same := hash == c.lastHash
	c.mu.RUnlock()
	if same {
		return false, nil
	}

	next := New(c.filePath)
	if err := next.decode(data); err != nil {
		return false, util.WrapError("parse config", err)
	}
	next.applyDefaults()
	if err := next.validate(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.System = next.System
	c.Audio = next.Audio
	c.Detection = next.Detection
	c.Notifications = next.Notifications
	c.lastHash = hash
	return true, nil
}

// decode parses data into c using the encoding selected by the file name.
func (c *Config) decode(data []byte) error {
	if isYAML(c.filePath) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

// encode serializes c using the encoding selected by the file name.
func (c *Config) encode() ([]byte, error) {
	if isYAML(c.filePath) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.MarshalIndent(c, "", "  ")
}

// validate checks all configuration fields and reports every violation.
func (c *Config) validate() error {
	verr := util.ValidateStruct(c.System, "system")
	mergeValidation(verr, util.ValidateStruct(c.Audio, "audio").Err())
	mergeValidation(verr, util.ValidateStruct(c.Notifications.Webhook, "notifications.webhook").Err())
	mergeValidation(verr, c.Detection.ValidateWithPrefix("detection"))
	if c.Notifications.Log.Path != "" {
		if err := util.ValidatePath("notifications.log.path", c.Notifications.Log.Path); err != nil {
			verr.Add("notifications.log.path", strings.TrimPrefix(err.Error(), "notifications.log.path: "), c.Notifications.Log.Path)
		}
	}
	return verr.Err()
}

// mergeValidation appends the field errors of err to verr.
func mergeValidation(verr *types.ValidationError, err error) {
	if err == nil {
		return
	}
	var other *types.ValidationError
	if errors.As(err, &other) {
		verr.Errors = append(verr.Errors, other.Errors...)
		return
	}
	verr.Add("", err.Error(), nil)
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.Username == "" {
		c.System.Username = DefaultWebUsername
	}
	if c.System.Password == "" {
		c.System.Password = DefaultWebPassword
	}
	c.Detection = c.Detection.WithDefaults()
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := c.encode()
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	c.lastHash = sha256.Sum256(data)
	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// FFmpegPath returns the configured FFmpeg binary path.
func (c *Config) FFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// DetectionConfig returns a copy of the detection settings.
func (c *Config) DetectionConfig() vad.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Detection.Clone()
}

// LogPath returns the configured event log path.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.Log.Path
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetDetection validates and stores new detection settings.
// Returns a *types.ValidationError when the settings are rejected.
func (c *Config) SetDetection(d vad.Config) error {
	d = d.WithDefaults()
	if err := d.ValidateWithPrefix("detection"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detection = d.Clone()
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the event log path and saves the configuration.
// An empty path disables the event log.
func (c *Config) SetLogPath(path string) error {
	if path != "" {
		if err := util.ValidatePath("notifications.log.path", path); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int
	WebUser     string
	WebPassword string
	FFmpegPath  string

	// Audio
	AudioInput string

	// Detection
	Detection vad.Config

	// Notifications
	WebhookURL string
	LogPath    string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		FFmpegPath:  c.System.FFmpegPath,
		AudioInput:  c.Audio.Input,
		Detection:   c.Detection.Clone(),
		WebhookURL:  c.Notifications.Webhook.URL,
		LogPath:     c.Notifications.Log.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasLogPath reports whether an event log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}
