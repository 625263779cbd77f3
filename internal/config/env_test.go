package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONTROLLER_SSH_PASSWORD_FILE", path)

	if got := Get("CONTROLLER_SSH_PASSWORD", "default"); got != "s3cret" {
		t.Errorf("Get() = %q, want %q", got, "s3cret")
	}

	t.Setenv("CONTROLLER_SSH_PASSWORD", "from-env")
	if got := Get("CONTROLLER_SSH_PASSWORD", "default"); got != "from-env" {
		t.Errorf("Get() = %q, want env value to win", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "90s", want: 90 * time.Second},
		{in: " 10M ", want: 10 * time.Minute},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("SSH_PORT_RANGE_START", "12000")
	t.Setenv("METRICS_ENABLED", "no")
	t.Setenv("HEARTBEAT_RETENTION", "3d")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	if got := GetInt("SSH_PORT_RANGE_START", 10000); got != 12000 {
		t.Errorf("GetInt() = %d", got)
	}
	if got := GetInt("SSH_PORT_RANGE_END", 10999); got != 10999 {
		t.Errorf("GetInt() default = %d", got)
	}
	if GetBool("METRICS_ENABLED", true) {
		t.Error("GetBool() should parse \"no\" as false")
	}
	if got := GetDuration("HEARTBEAT_RETENTION", time.Hour); got != 72*time.Hour {
		t.Errorf("GetDuration() = %v", got)
	}
	origins := GetList("CORS_ALLOWED_ORIGINS", nil)
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Errorf("GetList() = %v", origins)
	}
}
