package main

import "testing"

func TestGetConfigPathDefault(t *testing.T) {
	t.Setenv("RIGCORE_CONFIG", "")
	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPathEnvOverride(t *testing.T) {
	expected := "/etc/rigcore/config.yaml"
	t.Setenv("RIGCORE_CONFIG", expected)
	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
