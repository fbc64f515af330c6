// ABOUTME: Tests for the embedded starter configuration
// ABOUTME: Checks the rendered file loads as a valid configuration

package assets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/servequery/servequery-agent/internal/config"
)

func TestStarterConfig_Loads(t *testing.T) {
	dir := t.TempDir()
	content, err := StarterConfig(ConfigValues{
		HTTPAddr:     "localhost:3310",
		DatabasePath: filepath.Join(dir, "permissions.db"),
		AuthSecret:   strings.Repeat("s", 44),
	})
	if err != nil {
		t.Fatalf("StarterConfig() error = %v", err)
	}

	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v\n%s", err, content)
	}
	if cfg.Server.HTTPAddr != "localhost:3310" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if len(cfg.DataSources) != 0 || len(cfg.Actions) != 0 {
		t.Errorf("starter config should declare no data source or action")
	}
}
