package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	// Create directories for symlink tests
	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(unsafeDir, 0755); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}

	// Create a file in the unsafe directory
	unsafeFile := filepath.Join(unsafeDir, "secret.txt")
	if err := os.WriteFile(unsafeFile, []byte("secret"), 0644); err != nil {
		t.Fatalf("Failed to create unsafe file: %v", err)
	}

	// Create a symlink inside safe directory pointing to unsafe directory
	symlinkPath := filepath.Join(safeDir, "evil-symlink")
	if err := os.Symlink(unsafeDir, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{
			name:      "valid path within directory",
			filePath:  filepath.Join(tmpDir, "file.txt"),
			safeDir:   tmpDir,
			wantError: false,
		},
		{
			name:      "valid nested path",
			filePath:  filepath.Join(tmpDir, "subdir", "file.txt"),
			safeDir:   tmpDir,
			wantError: false,
		},
		{
			name:      "path traversal with ..",
			filePath:  filepath.Join(tmpDir, "..", "file.txt"),
			safeDir:   tmpDir,
			wantError: true,
		},
		{
			name:      "path traversal at start",
			filePath:  "../../../etc/passwd",
			safeDir:   tmpDir,
			wantError: true,
		},
		{
			name:      "absolute path outside safe dir",
			filePath:  "/etc/passwd",
			safeDir:   tmpDir,
			wantError: true,
		},
		{
			name:      "symlink escape attack - following symlink to outside dir",
			filePath:  filepath.Join(symlinkPath, "secret.txt"),
			safeDir:   safeDir,
			wantError: true,
		},
		{
			name:      "symlink escape attack - accessing symlink directly",
			filePath:  symlinkPath,
			safeDir:   safeDir,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestResolveInDirectory(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	tests := []struct {
		name    string
		input   string
		ext     string
		want    string
		wantErr bool
	}{
		{name: "relative name", input: "spectrum.csv", ext: ".csv", want: filepath.Join(dir, "spectrum.csv")},
		{name: "nested relative name", input: "runs/a.csv", ext: ".csv", want: filepath.Join(dir, "runs", "a.csv")},
		{name: "extension is case insensitive", input: "A.CSV", ext: ".csv", want: filepath.Join(dir, "A.CSV")},
		{name: "absolute inside", input: filepath.Join(dir, "b.csv"), ext: ".csv", want: filepath.Join(dir, "b.csv")},
		{name: "no extension required", input: "notes", want: filepath.Join(dir, "notes")},
		{name: "wrong extension", input: "spectrum.json", ext: ".csv", wantErr: true},
		{name: "empty", input: " ", wantErr: true},
		{name: "escapes with dots", input: "../x.csv", ext: ".csv", wantErr: true},
		{name: "absolute outside", input: filepath.Join(outside, "x.csv"), ext: ".csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveInDirectory(dir, tt.input, tt.ext)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveInDirectory() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ResolveInDirectory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveInDirectory_OutsideIsSentinel(t *testing.T) {
	_, err := ResolveInDirectory(t.TempDir(), "../../etc/passwd", "")
	if !errors.Is(err, ErrOutsideDirectory) {
		t.Errorf("expected ErrOutsideDirectory, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                  "unknown",
		"lamp run 1":        "lamp_run_1",
		"a//b\\c":         "a_b_c",
		"..hidden..":        "hidden",
		"___":               "unknown",
		"halogen-2800K.csv": "halogen-2800K.csv",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SanitizeFilename(strings.Repeat("x", 300)); len(got) != 128 {
		t.Errorf("expected 128 bytes, got %d", len(got))
	}
}
