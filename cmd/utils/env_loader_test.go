package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseEnvFileFlag(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "no flag present",
			args: []string{"app", "serve"},
			want: "",
		},
		{
			name: "flag with space separator",
			args: []string{"app", "--env-file", "/path/to/.env", "serve"},
			want: "/path/to/.env",
		},
		{
			name: "flag with equals separator",
			args: []string{"app", "serve", "--env-file=/path/to/.env"},
			want: "/path/to/.env",
		},
		{
			name: "flag with missing value at end",
			args: []string{"app", "serve", "--env-file"},
			want: "",
		},
		{
			name: "similar flag name ignored",
			args: []string{"app", "--env-file-path", "/path/to/.env"},
			want: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			originalArgs := os.Args
			t.Cleanup(func() { os.Args = originalArgs })

			os.Args = tc.args
			assert.Equal(t, tc.want, parseEnvFileFlag())
		})
	}
}

func Test_envFilePath(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	testCases := []struct {
		name   string
		args   []string
		envVar string
		want   string
	}{
		{
			name: "nothing set returns empty",
			args: []string{"app"},
			want: "",
		},
		{
			name:   "flag takes precedence over env var",
			args:   []string{"app", "--env-file", "/flag/path/.env"},
			envVar: "/env/path/.env",
			want:   "/flag/path/.env",
		},
		{
			name:   "env var used when no flag",
			args:   []string{"app"},
			envVar: "/env/path/.env",
			want:   "/env/path/.env",
		},
		{
			name: "relative path anchored at the working directory",
			args: []string{"app", "--env-file", "config/.env"},
			want: filepath.Join(cwd, "config/.env"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			originalArgs := os.Args
			t.Cleanup(func() { os.Args = originalArgs })
			os.Args = tc.args

			if tc.envVar != "" {
				t.Setenv(envFileEnvVar, tc.envVar)
			}

			assert.Equal(t, tc.want, envFilePath())
		})
	}
}

func Test_LoadEnvFile(t *testing.T) {
	writeEnvFile := func(t *testing.T, name, contents string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
		return path
	}

	t.Run("🎉 loads the file named by the flag", func(t *testing.T) {
		envPath := writeEnvFile(t, "custom.env", "FLAG_VAR=from_flag\n")

		originalArgs := os.Args
		t.Cleanup(func() {
			os.Args = originalArgs
			require.NoError(t, os.Unsetenv("FLAG_VAR"))
		})
		os.Args = []string{"app", "--env-file", envPath}

		require.NoError(t, LoadEnvFile())
		assert.Equal(t, "from_flag", os.Getenv("FLAG_VAR"))
	})

	t.Run("🎉 loads the file named by ENV_FILE", func(t *testing.T) {
		envPath := writeEnvFile(t, "envvar.env", "ENVVAR_VAR=from_envvar\n")

		originalArgs := os.Args
		t.Cleanup(func() {
			os.Args = originalArgs
			require.NoError(t, os.Unsetenv("ENVVAR_VAR"))
		})
		os.Args = []string{"app"}
		t.Setenv(envFileEnvVar, envPath)

		require.NoError(t, LoadEnvFile())
		assert.Equal(t, "from_envvar", os.Getenv("ENVVAR_VAR"))
	})

	t.Run("🎉 falls back to .env in the working directory", func(t *testing.T) {
		envPath := writeEnvFile(t, ".env", "DEFAULT_FALLBACK=from_default\n")

		originalArgs := os.Args
		originalWd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(filepath.Dir(envPath)))
		t.Cleanup(func() {
			os.Args = originalArgs
			require.NoError(t, os.Chdir(originalWd))
			require.NoError(t, os.Unsetenv("DEFAULT_FALLBACK"))
		})
		os.Args = []string{"app"}

		require.NoError(t, LoadEnvFile())
		assert.Equal(t, "from_default", os.Getenv("DEFAULT_FALLBACK"))
	})

	t.Run("🎉 missing default .env is not an error", func(t *testing.T) {
		originalArgs := os.Args
		originalWd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() {
			os.Args = originalArgs
			require.NoError(t, os.Chdir(originalWd))
		})
		os.Args = []string{"app"}

		assert.NoError(t, LoadEnvFile())
	})

	t.Run("returns an error when the explicit file does not exist", func(t *testing.T) {
		originalArgs := os.Args
		t.Cleanup(func() { os.Args = originalArgs })
		os.Args = []string{"app", "--env-file", "/nonexistent/.env"}

		err := LoadEnvFile()
		assert.ErrorContains(t, err, "loading env file /nonexistent/.env")
	})
}
