package security

import (
	"fmt"
	"os"
	"slices"

	"github.com/cuemby/paramd/pkg/types"
	"gopkg.in/yaml.v3"
)

// PolicyFileBackend is the name the YAML policy backend registers under
const PolicyFileBackend = "policyfile"

func init() {
	RegisterBackend(PolicyFileBackend, func(opts BackendOptions) (Backend, error) {
		return LoadPolicyFile(opts.PolicyFile)
	})
}

// Principals lists who a rule applies to
type Principals struct {
	All  bool     `yaml:"all"`
	UIDs []uint32 `yaml:"uids"`
	GIDs []uint32 `yaml:"gids"`
}

func (p Principals) allows(cred types.Credentials) bool {
	return p.All || slices.Contains(p.UIDs, cred.UID) || slices.Contains(p.GIDs, cred.GID)
}

// PolicyRule grants read and write access on one label
type PolicyRule struct {
	Read  Principals `yaml:"read"`
	Write Principals `yaml:"write"`
}

// Policy is a label policy loaded from YAML:
//
//	contexts:
//	  - prefix: test.permission.read
//	    label: u:object_r:test_read:s0
//	rules:
//	  u:object_r:test_read:s0:
//	    read: {all: true}
//	    write: {uids: [0]}
//	  u:object_r:default_param:s0:
//	    read: {all: true}
//
// A label without a rule cannot be opened, so names that fall back to
// DefaultLabel are only readable when the policy has a rule for it.
type Policy struct {
	Entries []Context             `yaml:"contexts"`
	Rules   map[string]PolicyRule `yaml:"rules"`

	table *LabelTable
}

// LoadPolicyFile reads a YAML policy
func LoadPolicyFile(path string) (*Policy, error) {
	if path == "" {
		return nil, fmt.Errorf("no policy file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses a YAML policy document
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	p.table = NewLabelTable(p.Entries)
	return &p, nil
}

func (p *Policy) Contexts() ([]Context, error) {
	return p.Entries, nil
}

func (p *Policy) rule(name string) (PolicyRule, string, bool) {
	label, _ := p.table.Lookup(name)
	r, ok := p.Rules[label]
	return r, label, ok
}

func (p *Policy) CheckWrite(name string, cred types.Credentials) error {
	r, label, ok := p.rule(name)
	if !ok || !r.Write.allows(cred) {
		return fmt.Errorf("write to %s (%s) not allowed for %s", name, label, cred)
	}
	return nil
}

func (p *Policy) CheckRead(name string, cred types.Credentials) error {
	r, label, ok := p.rule(name)
	if !ok || !r.Read.allows(cred) {
		return fmt.Errorf("read of %s (%s) not allowed for %s", name, label, cred)
	}
	return nil
}

func (p *Policy) OpenGrant(label string) error {
	if _, ok := p.Rules[label]; !ok {
		return fmt.Errorf("no rule for label %q", label)
	}
	return nil
}

func (p *Policy) Close() error {
	return nil
}
