// Package runnerconfig loads an optional TOML or YAML file supplying
// defaults for a subset of the Coordinator's Options, merged with
// command-line flags (flags always win field-by-field). Grounded on
// modules/mtoml/mtoml.go's ParseFile (TOML, os.ReadFile + toml.Unmarshal +
// xerrors.Errorf("%w", ...)) and mod/myaml/myaml.go's yaml.Unmarshal usage,
// extended here to sniff the file extension rather than always picking one
// format the way each of those single-purpose teacher helpers does.
package runnerconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// File is the shape of an on-disk job-runner config file (SPEC_FULL.md
// §2.2, §7's `--config` flag). Every field is optional; a zero value means
// "not set by the file", letting flags fill the gap.
type File struct {
	StopAfter    int      `toml:"stop-after" yaml:"stop-after"`
	StopVariance int      `toml:"stop-variance" yaml:"stop-variance"`
	StopTimeout  int      `toml:"stop-timeout" yaml:"stop-timeout"`
	IncludeJobs  []string `toml:"include-job" yaml:"include-job"`
	ExcludeJobs  []string `toml:"exclude-job" yaml:"exclude-job"`
}

// Load reads and parses path, sniffing TOML vs YAML from its extension. An
// unrecognized extension is an error rather than a silent guess -- a config
// error here should be as loud as any of Coordinator's own configuration
// errors (spec.md §4.5 step 1's "fatal configuration error" posture).
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("error reading config file: %w", err)
	}

	var f File

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, xerrors.Errorf("error unmarshaling TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, xerrors.Errorf("error unmarshaling YAML config: %w", err)
		}
	default:
		return nil, xerrors.Errorf("unrecognized config file extension %q (expected .toml, .yaml, or .yml)", ext)
	}

	return &f, nil
}
