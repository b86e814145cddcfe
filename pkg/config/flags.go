package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
)

var configFilePath = flag.String("config_file", "", "Path to the HuJSON configuration file.")

// loadFlagValues reads the config file at `path` and returns its flag values.
func loadFlagValues(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	conf, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	values := make(map[string]string)
	if err := collectFlagValues(conf, values); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return values, nil
}

// parsedFlags returns the names of the flags set so far on `fs`. Called right after parsing, these are the flags
// given on the command line.
func parsedFlags(fs *flag.FlagSet) map[string]bool {
	parsed := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { parsed[f.Name] = true })
	return parsed
}

// setConfigFlags sets every defined flag named in `values`, except the `commandLine` flags, which take precedence
// over the config file. Values naming undefined flags are skipped; see CollectUnknownFlags.
func setConfigFlags(fs *flag.FlagSet, values map[string]string, commandLine map[string]bool) error {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if commandLine[name] || fs.Lookup(name) == nil {
			continue
		}
		if err := fs.Set(name, values[name]); err != nil {
			return fmt.Errorf("failed to set flag %s: %w", name, err)
		}
	}
	return nil
}

// InitFlags initializes the flags from the config file specified by the -config_file flag.
// It should be called after defining all flags and before using them.
func InitFlags() {
	flag.Parse()
	commandLine := parsedFlags(flag.CommandLine)

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return
	}
	values, err := loadFlagValues(*configFilePath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", *configFilePath, "error", err)
		return
	}
	if err != nil { // The config file is unusable; default flag values are kept.
		slog.Error("Failed to load config file.", "error", err)
		return
	}
	if err := setConfigFlags(flag.CommandLine, values, commandLine); err != nil {
		slog.Error("Failed to set flags from config file.", "error", err)
		return
	}
	slog.Info("Loaded config file.", "path", *configFilePath, "flags", len(values))
}

// CollectUnknownFlags returns an error per config file entry that names no defined flag.
func CollectUnknownFlags() []error {
	if *configFilePath == "" {
		return nil
	}
	values, err := loadFlagValues(*configFilePath)
	if errors.Is(err, os.ErrNotExist) { // Reported by InitFlags already.
		return nil
	} else if err != nil {
		return []error{err}
	}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if flag.Lookup(name) == nil {
			errs = append(errs, fmt.Errorf("config file sets an undefined flag: %s", name))
		}
	}
	return errs
}
