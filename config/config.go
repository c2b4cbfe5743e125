package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is a scan profile: batching, memory and error-policy knobs plus the
// text-format parameters of the table being scanned.
type Config struct {
	BatchSize    int   `yaml:"batchSize"`
	MaxBatchMem  int64 `yaml:"maxBatchMem"`
	MemLimit     int64 `yaml:"memLimit"`
	AbortOnError bool  `yaml:"abortOnError"`
	MaxErrorLogs int   `yaml:"maxErrorLogs"`

	Delimiter    string `yaml:"delimiter"`
	Escape       string `yaml:"escape"`
	NullSentinel string `yaml:"nullSentinel"`
	CopyStrings  bool   `yaml:"copyStrings"`

	DisableSpecialization bool `yaml:"disableSpecialization"`
}

func Default() *Config {
	return &Config{
		BatchSize:    1024,
		MaxErrorLogs: 100,
		Delimiter:    ",",
		NullSentinel: "\\N",
	}
}

func ReadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	config := Default()
	if err := yaml.NewDecoder(f).Decode(config); err != nil {
		return nil, errors.Wrap(err, "couldn't decode yaml configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("invalid batch size: %d", c.BatchSize)
	}
	if len(c.Delimiter) != 1 {
		return errors.Errorf("delimiter must be a single byte, got %q", c.Delimiter)
	}
	if len(c.Escape) > 1 {
		return errors.Errorf("escape must be empty or a single byte, got %q", c.Escape)
	}
	return nil
}

// EscapeByte returns the configured escape character, 0 when none is set.
func (c *Config) EscapeByte() byte {
	if c.Escape == "" {
		return 0
	}
	return c.Escape[0]
}
