// ABOUTME: Files embedded in the servequery-agent binaries via go:embed
// ABOUTME: Holds the starter configuration written by servequery-agent init

// Package assets holds files embedded in the binaries.
package assets

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed agent.example.yaml
var configTemplate string

// ConfigValues fills the starter configuration.
type ConfigValues struct {
	HTTPAddr     string
	DatabasePath string
	AuthSecret   string
}

var configTmpl = template.Must(template.New("agent.yaml").Parse(configTemplate))

// StarterConfig renders the starter configuration.
func StarterConfig(v ConfigValues) (string, error) {
	var b strings.Builder
	if err := configTmpl.Execute(&b, v); err != nil {
		return "", fmt.Errorf("rendering config template: %w", err)
	}
	return b.String(), nil
}
