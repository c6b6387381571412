package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var (
	primaryCodes = []string{"rc1", "rc2", "rc3", "rc4", "rc5"}
	allCodes     = []string{"rc1", "rc2", "rc3", "rc4", "rc5", "rcl1", "rcl2", "rcl3", "rcl4", "rcl5", "kickrc"}
)

// ConfigError is a user facing configuration problem.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// document is a loosely typed view of a backend configuration.
type document map[string]any

func decode(raw json.RawMessage) (document, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, &ConfigError{Message: "Configuration must be a JSON object"}
	}
	return doc, nil
}

func (d document) text(key string) string {
	switch v := d[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func (d document) number(key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func (d document) flag(key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	}
	return false
}

// checkUnique rejects a configuration that reuses a connection code.
func checkUnique(d document) error {
	seen := make(map[string]bool)
	for _, key := range allCodes {
		code := strings.ToLower(d.text(key))
		if code == "" {
			continue
		}
		if seen[code] {
			return &ConfigError{Message: "This code is already in use. Please use a unique code."}
		}
		seen[code] = true
	}
	return nil
}

// checkConnectable applies the rules a configuration must meet before connecting.
func checkConnectable(d document) error {
	hasCode := false
	for _, key := range primaryCodes {
		if d.text(key) != "" {
			hasCode = true
			break
		}
	}
	if !hasCode {
		return &ConfigError{Message: "Please enter at least one connection code (PRIMARY) before connecting"}
	}
	for i, key := range primaryCodes {
		if d.text(key) == "" {
			continue
		}
		n := i + 1
		if d.number(fmt.Sprintf("attack%d", n)) <= 0 {
			return &ConfigError{Message: fmt.Sprintf("CODE %d: Please enter a valid Attack timing (ATK must be greater than 0)", n)}
		}
		if d.number(fmt.Sprintf("waiting%d", n)) <= 0 {
			return &ConfigError{Message: fmt.Sprintf("CODE %d: Please enter a valid Defense timing (DEF must be greater than 0)", n)}
		}
	}
	if !d.flag("timershift") {
		return nil
	}
	required := []struct{ key, label string }{
		{"incrementvalue", "Increment value"},
		{"decrementvalue", "Decrement value"},
		{"minatk", "Min ATK value"},
		{"maxatk", "Max ATK value"},
		{"mindef", "Min DEF value"},
		{"maxdef", "Max DEF value"},
	}
	for _, r := range required {
		if d.number(r.key) <= 0 {
			return &ConfigError{Message: fmt.Sprintf("Auto Timing: Please enter a valid %s (must be greater than 0)", r.label)}
		}
	}
	if d.number("minatk") >= d.number("maxatk") {
		return &ConfigError{Message: "Auto Timing: Min ATK must be less than Max ATK"}
	}
	if d.number("mindef") >= d.number("maxdef") {
		return &ConfigError{Message: "Auto Timing: Min DEF must be less than Max DEF"}
	}
	return nil
}
