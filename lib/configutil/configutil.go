// Package configutil loads layered json5 configuration files. The
// checked-in dzr.json5 carries the shared defaults and a gitignored
// dzr.local.json5 next to it carries per-machine secrets.
package configutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ReadConfig loads `path` and, when present, the sibling
// <name>.local.<ext> file, whose values win over the base file.
// Returns os.ErrNotExist when neither file exists.
func ReadConfig[T any](path string) (T, error) {
	var config T

	ext := filepath.Ext(path)
	localPath := strings.TrimSuffix(path, ext) + ".local" + ext

	found, err := readLayer(path, &config)
	if err != nil {
		return config, err
	}

	var local T
	foundLocal, err := readLayer(localPath, &local)
	if err != nil {
		return config, err
	}
	if foundLocal {
		err = mergo.Merge(&config, local, mergo.WithOverride)
		if err != nil {
			return config, err
		}
		slog.Info("applied local config overrides", "path", localPath)
	}

	if !found && !foundLocal {
		return config, os.ErrNotExist
	}
	return config, nil
}

func readLayer(path string, out any) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	return true, json5.Unmarshal(contents, out)
}

// ReadRecursively walks from the working directory up toward the
// filesystem root until ReadConfig finds a matching file. This lets
// the CLI run from any subdirectory of a checkout.
func ReadRecursively[T any](name string) (T, error) {
	var config T

	current, err := os.Getwd()
	if err != nil {
		return config, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if !os.IsNotExist(err) {
			return config, err
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return config, os.ErrNotExist
}
