package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ConfigCheckResult holds the result of the environment check
type ConfigCheckResult struct {
	Missing  []string          // Required variables that are missing
	Present  map[string]string // Variables that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// Variables that have no usable default. They may also come from the TOML file,
// so a missing variable is only fatal when the file does not set the key either.
var requiredEnv = []string{
	"LEADPILOT_DATABASE_URL",
	"LEADPILOT_SERVER_JWT_SECRET",
	"LEADPILOT_LLM_API_KEY",
}

var optionalEnv = []string{
	"DATABASE_URL",
	"LEADPILOT_SLACK_BOT_TOKEN",
	"LEADPILOT_CHANNELS_TOKEN",
	"LEADPILOT_WEBHOOKS_VERIFY_TOKEN",
	"LEADPILOT_SIGNALS_NEWS_API_KEY",
	"LEADPILOT_REDIS_PASSWORD",
}

// CheckRequiredConfig reports which LEADPILOT_ variables are set
func CheckRequiredConfig() *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	for _, v := range requiredEnv {
		val := os.Getenv(v)
		if val == "" {
			result.Missing = append(result.Missing, v)
		} else {
			result.Present[v] = maskSecret(val)
		}
	}
	for _, v := range optionalEnv {
		if val := os.Getenv(v); val != "" {
			result.Present[v] = maskSecret(val)
		}
	}

	if os.Getenv("DATABASE_URL") != "" && os.Getenv("LEADPILOT_DATABASE_URL") != "" {
		result.Warnings = append(result.Warnings, "DATABASE_URL is ignored while LEADPILOT_DATABASE_URL is set")
	}
	if strings.EqualFold(os.Getenv("LEADPILOT_KAFKA_ENABLED"), "true") && os.Getenv("LEADPILOT_KAFKA_BROKERS") == "" {
		result.Warnings = append(result.Warnings, "kafka is enabled but LEADPILOT_KAFKA_BROKERS is not set; the config file must list brokers")
	}
	return result
}

// PrintConfigCheck prints the environment check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Environment Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("Not set in the environment (must come from the config file):")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("Set:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	fmt.Println("=========================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
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

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
