// Package config loads the line-oriented user configuration file. The
// format is "key:value", one pair per line; the transport credentials
// are required, everything else is optional with typed accessors.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/HershyOrg/gammascalper/internal/errs"
)

// Required keys every configuration file must carry.
var requiredKeys = []string{"AccessKey", "AccessSecret", "FIXConfigurationFile"}

// File is the parsed key/value configuration.
type File map[string]string

// Load reads and validates the configuration file at path.
func Load(path string) (File, error) {
	input, err := os.Open(path)
	if err != nil {
		return nil, errs.ConfigError{Message: fmt.Sprintf("config: impossible to open %s: %v", path, err)}
	}
	defer input.Close()

	file := File{}
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, errs.ConfigError{Message: fmt.Sprintf("config: malformed line %q in %s", line, path)}
		}
		file[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.ConfigError{Message: fmt.Sprintf("config: reading %s: %v", path, err)}
	}

	for _, key := range requiredKeys {
		if _, ok := file[key]; !ok {
			return nil, errs.ConfigError{Message: fmt.Sprintf("config: user configuration file is missing the key: %s", key)}
		}
	}
	return file, nil
}

// AuxFolder returns the directory the levels and PnL files live in.
// The configured value must end with the path separator.
func (f File) AuxFolder() string { return f["AuxFolder"] }

// PriceSweetener returns the hedge price margin as a fraction of the
// contract multiplier.
func (f File) PriceSweetener() (float64, error) {
	return f.float("PriceSweetener")
}

// InterestRate returns the annualized risk-free rate.
func (f File) InterestRate() (float64, error) {
	return f.float("InterestRate")
}

// LogToReplay returns the recording path for replay mode, when set.
func (f File) LogToReplay() (string, bool) {
	value, ok := f["LogToReplay"]
	return value, ok && value != ""
}

func (f File) float(key string) (float64, error) {
	raw, ok := f[key]
	if !ok {
		return 0, errs.ConfigError{Message: fmt.Sprintf("config: missing the key: %s", key)}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, errs.ConfigError{Message: fmt.Sprintf("config: unparseable value for %s: %q", key, raw)}
	}
	return value, nil
}
