package param

import (
	"strconv"
	"strings"

	"github.com/cuemby/paramd/pkg/types"
)

// Getter reads a parameter value; Service and Reader implement it
type Getter interface {
	GetParameter(cred types.Credentials, name string) (string, error)
}

// GetInt returns name as a signed integer within [lo, hi], or def when the
// parameter is unreadable, malformed or out of range
func GetInt(g Getter, cred types.Credentials, name string, def, lo, hi int64) int64 {
	s, err := g.GetParameter(cred, name)
	if err != nil {
		return def
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}

// GetUint returns name as an unsigned integer no larger than hi, or def
func GetUint(g Getter, cred types.Credentials, name string, def, hi uint64) uint64 {
	s, err := g.GetParameter(cred, name)
	if err != nil {
		return def
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil || v > hi {
		return def
	}
	return v
}

// GetBool returns name as a boolean. 1, y, yes, on and true are true; 0, n,
// no, off and false are false; anything else yields def.
func GetBool(g Getter, cred types.Credentials, name string, def bool) bool {
	s, err := g.GetParameter(cred, name)
	if err != nil {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "on", "true":
		return true
	case "0", "n", "no", "off", "false":
		return false
	}
	return def
}
