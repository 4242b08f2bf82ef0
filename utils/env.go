package utils

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
)

// GetEnv returns the value of an environment variable, or fallback when it
// is unset or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// LoadEnv loads environment variables from a .env file. System environment
// variables take precedence over file values.
func LoadEnv(filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", filename, err)
	}
	defer file.Close()

	log.Printf("Loading environment variables from %s", filename)

	scanner := bufio.NewScanner(file)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			log.Printf("Warning: invalid format in %s line %d", filename, lineNumber)
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
			(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
			value = value[1 : len(value)-1]
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", filename, err)
	}

	return nil
}

// LoadEnvWithFallback tries the standard .env locations in order.
func LoadEnvWithFallback() {
	locations := []string{".env", ".env.local", "config/.env"}

	for _, location := range locations {
		if err := LoadEnv(location); err != nil {
			log.Printf("Could not load %s: %v", location, err)
		}
	}
}
