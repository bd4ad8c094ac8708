package config

import "strings"

// Format names the syntax a config file is read as.
type Format string

const (
	// FormatDefaults means no settings were read.
	FormatDefaults Format = "defaults"
	FormatJSONC    Format = "jsonc"
	FormatYAML     Format = "yaml"
)

// DetectFormat selects JSONC when the first non-whitespace character is `{`
// and YAML for anything else. Blank content carries no settings.
func DetectFormat(content string) Format {
	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == "":
		return FormatDefaults
	case strings.HasPrefix(trimmed, "{"):
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// Parse reads configuration content as JSONC or YAML on top of base. YAML
// content gets ${ENV} expansion.
func Parse(content string, base Config) (Config, []Warning, error) {
	switch DetectFormat(content) {
	case FormatJSONC:
		return parseJSONC(content, base)
	case FormatYAML:
		return parseYAML(content, base)
	default:
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	}
}
