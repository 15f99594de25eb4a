package gridio

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleToml = `
dt_s = 2.0
duration_s = 3600.0
d8_encoding = "esri"

[scs]
ia_ratio = 0.2

[particle]
target_volume_m3 = 0.5
travel_time_overland_s = 60
travel_time_channel_s = 15
outflow_sink = true

[risk]
balance = 0.5
p_low = 1
p_high = 99

[checkpoint]
every_steps = 100
every_s = 0
`

func TestReadConfigFileParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(sampleToml), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	cfg, err := ReadConfigFile(path)
	if err != nil {
		t.Fatalf("ReadConfigFile: %v", err)
	}
	if cfg.DtS != 2.0 || cfg.DurationS != 3600.0 {
		t.Errorf("got dt_s=%v duration_s=%v", cfg.DtS, cfg.DurationS)
	}
	if !cfg.Particle.OutflowSink {
		t.Error("expected outflow_sink = true")
	}
}

func TestReadConfigFileRejectsInvalidEncoding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	bad := `
dt_s = 1.0
duration_s = 10.0
d8_encoding = "diagonal"
[particle]
target_volume_m3 = 0.1
`
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := ReadConfigFile(path); err == nil {
		t.Error("expected validation error for unrecognized d8_encoding")
	}
}

func TestReadConfigFileMissingFile(t *testing.T) {
	if _, err := ReadConfigFile(filepath.Join(os.TempDir(), "nonexistent-config.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
