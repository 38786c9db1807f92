package types

import (
	"fmt"
	"strings"
)

// ValidateName checks that name is a well-formed dot-segmented parameter name
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name) > NameLenMax {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), NameLenMax)
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return fmt.Errorf("%w: %q has an empty segment", ErrInvalidName, name)
	}
	prev := byte(0)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' && prev == '.' {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidName, name)
		}
		if !validNameByte(c) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, c)
		}
		prev = c
	}
	return nil
}

func validNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-', c == ':', c == '@':
		return true
	}
	return false
}

// ValidateValue checks the value length bound
func ValidateValue(value string) error {
	if len(value) > ValueLenMax {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidValue, len(value), ValueLenMax)
	}
	return nil
}

// ValidatePrefix checks a watcher key prefix: a parameter name, optionally
// followed by a single trailing '*'
func ValidatePrefix(prefix string) error {
	if prefix == "*" {
		return nil
	}
	base := strings.TrimSuffix(prefix, "*")
	base = strings.TrimSuffix(base, ".")
	if strings.Contains(base, "*") {
		return fmt.Errorf("%w: wildcard only allowed at the end of %q", ErrInvalidName, prefix)
	}
	return ValidateName(base)
}

// MatchPrefix reports whether name matches pattern. A pattern ending in '*'
// matches every name sharing the part before the '*'; any other pattern
// matches only the identical name.
func MatchPrefix(pattern, name string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}
	return name == pattern
}

// IsPersistent reports whether writes to name are journaled
func IsPersistent(name string) bool {
	return strings.HasPrefix(name, PersistPrefix)
}

// IsConst reports whether name may only be written once
func IsConst(name string) bool {
	return strings.HasPrefix(name, ConstPrefix)
}
