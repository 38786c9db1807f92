package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/types"
)

// ParamFileExt is the extension of parameter files read by LoadDir
const ParamFileExt = ".para"

// ParseParams reads name=value lines from r and calls fn for each valid
// pair. Blank lines and '#' comments are ignored; malformed lines are
// logged and skipped. It returns the number of pairs passed to fn.
func ParseParams(r io.Reader, source string, fn func(name, value string) error) (int, error) {
	logger := log.WithComponent("storage")
	count := 0
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !ok {
			logger.Warn().Str("source", source).Int("line", lineNo).Msg("missing '=' in parameter line")
			continue
		}
		if err := types.ValidateName(name); err != nil {
			logger.Warn().Err(err).Str("source", source).Int("line", lineNo).Msg("skipping parameter")
			continue
		}
		if err := types.ValidateValue(value); err != nil {
			logger.Warn().Err(err).Str("source", source).Int("line", lineNo).Str("param", name).Msg("skipping parameter")
			continue
		}
		if err := fn(name, value); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return count, nil
}

// LoadFile parses a single parameter file. A missing file loads nothing.
func LoadFile(path string, fn func(name, value string) error) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open parameter file: %w", err)
	}
	defer f.Close()
	return ParseParams(f, path, fn)
}

// LoadDir parses every *.para file in dir in lexical order. A missing
// directory loads nothing.
func LoadDir(dir string, fn func(name, value string) error) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read parameter directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ParamFileExt {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	total := 0
	for _, path := range files {
		n, err := LoadFile(path, fn)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// LoadSource loads a file or directory source
func LoadSource(path string, fn func(name, value string) error) (int, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return LoadDir(path, fn)
	}
	return LoadFile(path, fn)
}
