package utils

import (
	"os"
	"strings"
	"testing"
)

// ClearTestEnvironment blanks every environment variable for the duration of
// the test, so config resolution only sees what the test sets explicitly.
func ClearTestEnvironment(t *testing.T) {
	for _, env := range os.Environ() {
		key := env[:strings.Index(env, "=")]
		t.Setenv(key, "")
	}
}
