package qa

import (
	"os"
	"testing"
)

// Root creates temporary directory, removed after callback returns
func Root(t *testing.T, callback func(dir string)) {
	tmpDir, err := os.MkdirTemp("", "udp-relay")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.Fatal(err)
		}
	}()

	callback(tmpDir)
}
