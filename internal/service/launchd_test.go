package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritePlistAndStatus(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if _, ok := Status(Label); ok {
		t.Fatalf("plist should not exist yet")
	}
	path, err := WritePlist(LaunchdParams{
		Label:  Label,
		Binary: "/usr/local/bin/murmur",
		Config: filepath.Join(home, ".config", "murmur", "config.toml"),
		Log:    filepath.Join(home, "murmur.log"),
		Env:    map[string]string{"MURMUR_ENDPOINT": "http://localhost:8000/api/upload"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(data)
	for _, want := range []string{
		"<string>com.murmur.agent</string>",
		"<string>serve</string>",
		"<key>MURMUR_ENDPOINT</key><string>http://localhost:8000/api/upload</string>",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("plist missing %q:\n%s", want, body)
		}
	}
	if got, ok := Status(Label); !ok || got != path {
		t.Fatalf("status = %s %v", got, ok)
	}
	if _, err := Remove(Label); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := Remove(Label); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if _, ok := Status(Label); ok {
		t.Fatalf("plist should be gone")
	}
}
