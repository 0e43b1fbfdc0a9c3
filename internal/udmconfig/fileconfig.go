package udmconfig

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CategoryInfo maps a set of file extensions onto a default output
// directory, generalizing the teacher engine's CategoryInfo
// (UdmSettings..go) unchanged in shape.
type CategoryInfo struct {
	Name       string   `yaml:"name"`
	Extensions []string `yaml:"extensions"`
	OutputDir  string   `yaml:"outputDir"`
}

// FileConfig is the optional on-disk defaults file consulted by the CLI,
// the generalized form of the teacher engine's global Settings. Unlike the
// per-download control sidecar (internal/control, which is JSON per the
// wire protocol spec), this operator-facing defaults file uses YAML, matching
// the serialization the pack's repos reach for outside of wire formats.
type FileConfig struct {
	ThreadCount            int               `yaml:"threadCount"`
	MaxRetries             int               `yaml:"maxRetries"`
	MinimumFileSize        int64             `yaml:"minimumFileSize"`
	MaxConcurrentDownloads int               `yaml:"maxConcurrentDownloads"`
	OutputDir              string            `yaml:"outputDir"`
	Categories             []CategoryInfo    `yaml:"categories"`
	Headers                map[string]string `yaml:"headers"`
}

// LoadFileConfig reads and parses a YAML defaults file. A missing file is
// not an error; callers get a zero-value FileConfig.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileConfig{}, nil
		}
		return nil, err
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// OutputDirForFilename resolves the output directory for filename using the
// extension-to-category mapping, falling back to the top-level OutputDir,
// mirroring the teacher engine's GetOutputDirForFile.
func (fc *FileConfig) OutputDirForFilename(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext != "" {
		for _, cat := range fc.Categories {
			for _, ce := range cat.Extensions {
				if strings.ToLower(ce) == ext && cat.OutputDir != "" {
					return cat.OutputDir
				}
			}
		}
	}
	return fc.OutputDir
}

// ApplyDefaults fills zero-valued fields of cfg from the file config,
// mirroring ApplySettingsToDownloader's "user value wins, config is
// fallback" policy.
func (fc *FileConfig) ApplyDefaults(cfg *Config) {
	if cfg.Split <= 0 && fc.ThreadCount > 0 {
		cfg.Split = fc.ThreadCount
	}
	if cfg.Retries <= 0 && fc.MaxRetries > 0 {
		cfg.Retries = fc.MaxRetries
	}
	if cfg.MaxConcurrentDownloads <= 0 && fc.MaxConcurrentDownloads > 0 {
		cfg.MaxConcurrentDownloads = fc.MaxConcurrentDownloads
	}
	if cfg.Headers == nil && len(fc.Headers) > 0 {
		cfg.Headers = make(map[string]string, len(fc.Headers))
		for k, v := range fc.Headers {
			cfg.Headers[k] = v
		}
	}
}
