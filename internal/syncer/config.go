package syncer

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/rpmqd/rpmqd"
)

// Config is the sync configuration document described in spec §6: a work
// directory plus a repeatable set of repository records.
type Config struct {
	WorkDir      string                   `yaml:"work_dir"`
	Repositories []rpmqd.RepositoryConfig `yaml:"repositories"`
}

// LoadConfig parses and validates a sync configuration document from r.
func LoadConfig(r io.Reader) (Config, error) {
	const op = "syncer.LoadConfig"
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, rpmqd.Wrap(rpmqd.ErrConfig, op, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	const op = "syncer.Config.validate"
	if c.WorkDir == "" {
		return rpmqd.Newf(rpmqd.ErrConfig, op, "work_dir is required")
	}
	seen := make(map[string]struct{}, len(c.Repositories))
	for i, r := range c.Repositories {
		if r.Name == "" {
			return rpmqd.Newf(rpmqd.ErrConfig, op, "repositories[%d]: name is required", i)
		}
		if _, dup := seen[r.Name]; dup {
			return rpmqd.Newf(rpmqd.ErrConfig, op, "repositories[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.BaseURL == "" {
			return rpmqd.Newf(rpmqd.ErrConfig, op, "repository %q: base_url is required", r.Name)
		}
		if r.IntervalSeconds < 1 {
			return rpmqd.Newf(rpmqd.ErrConfig, op, "repository %q: interval_seconds must be >= 1", r.Name)
		}
	}
	return nil
}

// Enabled returns the subset of c.Repositories whose EnabledOrDefault is
// true.
func (c Config) Enabled() []rpmqd.RepositoryConfig {
	var out []rpmqd.RepositoryConfig
	for _, r := range c.Repositories {
		if r.EnabledOrDefault() {
			out = append(out, r)
		}
	}
	return out
}
