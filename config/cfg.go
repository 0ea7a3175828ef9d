package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	// PageConfig describes the fixed page geometry the engine lays content
	// out against.
	PageConfig struct {
		CapacityPx     float64 `yaml:"capacity_px" validate:"gt=0"`
		WidthPx        float64 `yaml:"width_px" validate:"gt=0"`
		LineHeightPx   float64 `yaml:"line_height_px" validate:"gt=0"`
		CharsPerLine   int     `yaml:"chars_per_line" validate:"min=1"`
		BlockSpacingPx float64 `yaml:"block_spacing_px" validate:"gte=0"`
	}

	// DebounceConfig carries per-trigger debounce delays in milliseconds.
	DebounceConfig struct {
		TypingMs          int `yaml:"typing_ms" validate:"min=0"`
		EnterMs           int `yaml:"enter_ms" validate:"min=0"`
		PasteMs           int `yaml:"paste_ms" validate:"min=0"`
		DeleteMs          int `yaml:"delete_ms" validate:"min=0"`
		ManualPageBreakMs int `yaml:"manual_page_break_ms" validate:"min=0"`
		ImportMs          int `yaml:"import_ms" validate:"min=0"`
		UndoRedoMs        int `yaml:"undo_redo_ms" validate:"min=0"`
		ObjectResizedMs   int `yaml:"object_resized_ms" validate:"min=0"`
	}

	// EngineConfig groups reflow scheduling knobs.
	EngineConfig struct {
		TypingIntervalMs int            `yaml:"typing_interval_ms" validate:"min=0"`
		Debounce         DebounceConfig `yaml:"debounce"`
	}

	// StoreConfig configures the local document store.
	StoreConfig struct {
		Path string `yaml:"path" sanitize:"path_clean,assure_dir_exists_for_file" validate:"omitempty,filepath"`
	}

	DocumentConfig struct {
		FixZip                bool        `yaml:"fix_zip"`
		OutputNameTemplate    string      `yaml:"output_name_template"`
		FileNameTransliterate bool        `yaml:"file_name_transliterate"`
		Page                  PageConfig  `yaml:"page"`
		Store                 StoreConfig `yaml:"store"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Document  DocumentConfig `yaml:"document"`
		Engine    EngineConfig   `yaml:"engine"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

const (
	// NOTE: must match yaml field name above, alternative is to use struct
	// field name and reflection which I want to avoid for now
	OutputNameTemplateFieldName = "output_name_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(OutputNameTemplateFieldName),
)

// TypingInterval converts the configured rate-limit interval.
func (c *EngineConfig) TypingInterval() time.Duration {
	return time.Duration(c.TypingIntervalMs) * time.Millisecond
}

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to
// provide sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
