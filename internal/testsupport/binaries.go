package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// StubBinaries writes each script as an executable named by its key into a
// fresh directory and prepends that directory to PATH for the duration of the
// test. It returns the directory.
func StubBinaries(t testing.TB, scripts map[string]string) string {
	t.Helper()

	binDir := t.TempDir()
	for name, script := range scripts {
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
	return binDir
}

// ArgsLogScript returns a shell script that appends its arguments to logPath
// (one invocation per line) and then runs body.
func ArgsLogScript(logPath, body string) string {
	return "#!/bin/sh\necho \"$@\" >> \"" + logPath + "\"\n" + body + "\n"
}
