// Package config fills in command-line flags from a YAML file.
//
// The file is a mapping from flag names to values:
//
//	ui-listen: 0.0.0.0:8000
//	backend: postgres
//	postgres-dsn: postgres://feed@localhost/feed
//	session-idle-timeout: 30m
//
// Flags given on the command line win over the file.
package config

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path and applies it to fs.  fs must already be
// parsed.
func Load(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("while reading config file: %w", err)
	}
	if err := Apply(fs, data); err != nil {
		return fmt.Errorf("while applying config file %s: %w", path, err)
	}
	return nil
}

// Apply sets every flag named in the YAML document data that was not set
// explicitly.
func Apply(fs *flag.FlagSet, data []byte) error {
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("while parsing YAML: %w", err)
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if fs.Lookup(name) == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if explicit[name] {
			continue
		}

		value := values[name]
		switch value.(type) {
		case map[string]interface{}, []interface{}:
			return fmt.Errorf("flag %q: value must be a scalar", name)
		case nil:
			value = ""
		}
		if err := fs.Set(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("flag %q: %w", name, err)
		}
	}
	return nil
}
