package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sitegate/internal/config"
)

// EnvOverride is a SITEGATE_ variable found in the environment
type EnvOverride struct {
	Name  string
	Value string // masked when the name looks secret
}

// EnvOverrides lists the configuration overrides set in the environment
func EnvOverrides() []EnvOverride {
	var result []EnvOverride
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, config.EnvPrefix) {
			continue
		}
		if isSecretName(name) {
			value = maskSecret(value)
		}
		result = append(result, EnvOverride{Name: name, Value: value})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// PrintEnvOverrides prints the overrides found by EnvOverrides
func PrintEnvOverrides(out io.Writer, overrides []EnvOverride) {
	if len(overrides) == 0 {
		fmt.Fprintln(out, "No environment overrides")
		return
	}
	fmt.Fprintln(out, "Environment overrides:")
	for _, o := range overrides {
		fmt.Fprintf(out, "   - %s = %s\n", o.Name, o.Value)
	}
}

func isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	return strings.Contains(upper, "SECRET") || strings.Contains(upper, "PASSWORD") || strings.Contains(upper, "TOKEN")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads KEY=VALUE lines from a dotenv file into the environment.
// Variables already set win unless override is true.
func LoadEnvFile(filename string, override bool) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if _, exists := os.LookupEnv(key); exists && !override {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
