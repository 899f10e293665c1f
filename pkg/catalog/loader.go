package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SupportedVersions is the range of role file schema versions this build reads.
const SupportedVersions = ">= 1.0.0, < 2.0.0"

var ErrUnsupportedVersion = errors.New("unsupported role file version")

// File is the on-disk shape of a role table.
type File struct {
	Version   string           `yaml:"version"`
	AdminRole string           `yaml:"admin_role,omitempty"`
	Roles     []RoleDefinition `yaml:"roles"`
	Actions   []ActionRule     `yaml:"actions,omitempty"`
}

// LoadOption adjusts how a role file is interpreted.
type LoadOption func(*File)

// WithAdminRole sets the admin role used when the file does not name one.
func WithAdminRole(role string) LoadOption {
	return func(f *File) {
		if f.AdminRole == "" {
			f.AdminRole = role
		}
	}
}

// LoadFile reads a YAML role table from disk.
func LoadFile(path string, opts ...LoadOption) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load role file %q: %w", path, err)
	}
	c, err := Parse(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse role file %q: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML role table. When the file defines no action rules the
// default ANF rules are used.
func Parse(data []byte, opts ...LoadOption) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}

	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(&f)
	}

	rules := f.Actions
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return New(f.AdminRole, f.Roles, rules)
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: version is required", ErrUnsupportedVersion)
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, v, err)
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("%w: %s (want %s)", ErrUnsupportedVersion, v, SupportedVersions)
	}
	return nil
}
