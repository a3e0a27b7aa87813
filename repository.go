package rpmqd

// RepositoryConfig is one repeatable `repositories` record from the sync
// configuration document. See spec §6.
type RepositoryConfig struct {
	Name            string `yaml:"name"`
	BaseURL         string `yaml:"base_url"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Enabled         *bool  `yaml:"enabled"`
	Arch            string `yaml:"arch"`
}

// EnabledOrDefault reports whether the repository should be scheduled,
// defaulting to true when the document omitted the field.
func (r *RepositoryConfig) EnabledOrDefault() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ArchOrDefault returns the configured Arch, or "x86_64" when the document
// omitted the field.
func (r *RepositoryConfig) ArchOrDefault() string {
	if r.Arch == "" {
		return "x86_64"
	}
	return r.Arch
}
