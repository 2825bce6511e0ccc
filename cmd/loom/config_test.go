package main

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfigUnsetFieldsStayNil(t *testing.T) {
	doc := `
temperature: 0.7
top_k: 40
stop_token: 3
log_level: debug
server_address: "0.0.0.0:9090"
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("temperature: got %v", cfg.Temperature)
	}
	if cfg.TopK == nil || *cfg.TopK != 40 {
		t.Fatalf("top_k: got %v", cfg.TopK)
	}
	if cfg.StopToken == nil || *cfg.StopToken != 3 {
		t.Fatalf("stop_token: got %v", cfg.StopToken)
	}
	// Absent keys must stay nil so they cannot clobber flag values.
	if cfg.TopP != nil || cfg.TFS != nil || cfg.RepetitionPenalty != nil || cfg.Seed != nil {
		t.Fatalf("unset fields must stay nil: %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.ServerAddress != "0.0.0.0:9090" {
		t.Fatalf("string fields: %+v", cfg)
	}
}

func TestConfigZeroValuesAreExplicit(t *testing.T) {
	doc := `
repetition_slope: 0
top_k: 0
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// An explicit zero is a setting, not an absence.
	if cfg.RepetitionSlope == nil || *cfg.RepetitionSlope != 0 {
		t.Fatalf("repetition_slope: got %v", cfg.RepetitionSlope)
	}
	if cfg.TopK == nil || *cfg.TopK != 0 {
		t.Fatalf("top_k: got %v", cfg.TopK)
	}
}
