package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
)

// ServiceConfigKind is the expected kind discriminator of the YAML file.
const ServiceConfigKind string = "ServiceConfiguration"

// ServiceConfig is the process-wide configuration loaded at startup.
type ServiceConfig struct {
	Kind     string       `json:"kind,omitempty"`
	Store    StoreConfig  `json:"store"`
	Import   ImportConfig `json:"import,omitempty"`
	LogLevel string       `json:"logLevel,omitempty"`
}

// StoreConfig locates the document store.
type StoreConfig struct {
	URL      string `json:"url"`
	Database string `json:"database"`
}

// ImportConfig carries the import engine defaults.
type ImportConfig struct {
	WorkingDir         string                 `json:"workingDir,omitempty"`
	AllowedTypes       []string               `json:"allowedTypes,omitempty"`
	DefaultVariants    []v1alpha1.VariantSpec `json:"defaultVariants,omitempty"`
	NumJobs            int                    `json:"numJobs,omitempty"`
	ToProcessBatchSize int                    `json:"toProcessBatchSize,omitempty"`
	ClassifyJobs       int                    `json:"classifyJobs,omitempty"`
}

// Read opens a service configuration file at the given path and loads
// it into a ServiceConfig instance for processing and validation.
func Read(configPath string) (ServiceConfig, error) {
	var cfg ServiceConfig
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return cfg, errcode.Wrap(errcode.InvalidConfig, err, "reading config %s", configPath)
	}

	cfg, err = LoadConfig[ServiceConfig](data, ServiceConfigKind)
	if err != nil {
		return cfg, errcode.Wrap(errcode.InvalidConfig, err, "loading config %s", configPath)
	}

	Complete(&cfg)
	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfig loads YAML data into the given configuration type.
func LoadConfig[T any](data []byte, kind string) (c T, err error) {

	if data, err = yaml.YAMLToJSON(data); err != nil {
		return c, fmt.Errorf("yaml to json %s: %v", kind, err)
	}

	var res T
	dec := json.NewDecoder(bytes.NewBuffer(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&res); err != nil {
		return c, fmt.Errorf("decode %s: %v", kind, err)
	}
	return res, nil
}

// Complete fills unset fields with defaults.
func Complete(cfg *ServiceConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Store.URL == "" {
		cfg.Store.URL = "http://localhost:5984"
	}
	if len(cfg.Import.AllowedTypes) == 0 {
		cfg.Import.AllowedTypes = []string{"jpeg", "png", "tiff"}
	}
	if cfg.Import.NumJobs <= 0 {
		cfg.Import.NumJobs = 1
	}
	if cfg.Import.ToProcessBatchSize <= 0 {
		cfg.Import.ToProcessBatchSize = 10
	}
	if cfg.Import.ClassifyJobs <= 0 {
		cfg.Import.ClassifyJobs = 3
	}
	if cfg.Import.WorkingDir == "" {
		cfg.Import.WorkingDir = filepath.Join(os.TempDir(), "picdex")
	}
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *ServiceConfig) error {
	if cfg.Kind != "" && cfg.Kind != ServiceConfigKind {
		return errcode.New(errcode.InvalidConfig, "unexpected kind %q", cfg.Kind)
	}
	if cfg.Store.Database == "" {
		return errcode.New(errcode.InvalidConfig, "store database name is required")
	}
	if _, err := url.Parse(cfg.Store.URL); err != nil {
		return errcode.New(errcode.InvalidConfig, "store url %q: %v", cfg.Store.URL, err)
	}
	for _, v := range cfg.Import.DefaultVariants {
		if v.Name == "" {
			return errcode.New(errcode.InvalidConfig, "variant with empty name")
		}
		if v.Width == 0 && v.Height == 0 {
			return errcode.New(errcode.InvalidConfig, "variant %s has no dimensions", v.Name)
		}
	}
	return nil
}
