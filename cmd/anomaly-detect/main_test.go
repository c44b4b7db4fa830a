package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nvr-ai/go-anomaly/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvBackend, config.EnvModelPath, config.EnvPythonExec,
		config.EnvLogLevel, config.EnvServerAddr, config.EnvPrecision,
		config.EnvRedisAddr, config.EnvRedisPass, config.EnvRedisDB,
	} {
		t.Setenv(key, "")
	}
}

const (
	detectionScript = `#!/bin/sh
test "$2" = "--image" && test -s "$3" || exit 9
echo 'model loaded'
echo '{"anomalies":[{"class":2,"confidence":87.456,"box":[0.61234,0.2,0.1,0.90001]},{"class":"Loose Joint Faulty","confidence":"0.33333","box":[-0.1,0,0.5,1.5]}]}'
`
	emptyScript = `#!/bin/sh
echo '{"anomalies":[]}'
`
)

// fakePython installs a shell script as the interpreter of the script backend.
func fakePython(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "python3")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv(config.EnvPythonExec, path)
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 2))))
	return path
}

// TestRunSuccess verifies the normalized JSON written on success.
func TestRunSuccess(t *testing.T) {
	clearEnv(t)
	img := writePNG(t)

	tests := []struct {
		name   string
		script string
		args   []string
		want   string
	}{
		{
			name:   "rounded",
			script: detectionScript,
			args:   []string{"--backend", "exec", "--image", img, "--precision", "3"},
			want: `{"anomalies":[` +
				`{"class":"Point Overload Faulty","confidence":0.875,"box":[0.1,0.2,0.612,0.9]},` +
				`{"class":"Loose Joint Faulty","confidence":0.333,"box":[0,0,0.5,1]}]}` + "\n",
		},
		{
			name:   "nothing found",
			script: emptyScript,
			args:   []string{"--image", img},
			want:   `{"anomalies":[]}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakePython(t, tt.script)

			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, strings.NewReader(""), &stdout, &stderr)

			require.Equal(t, 0, code, stderr.String())
			assert.Equal(t, tt.want, stdout.String())
		})
	}
}

// TestRunFailures verifies every failure writes the empty result and exits 1.
func TestRunFailures(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"unknown flag", []string{"--nope"}, ""},
		{"no image", nil, ""},
		{"missing file", []string{"--image", "does-not-exist.jpg"}, ""},
		{"unknown backend", []string{"--backend", "tflite", "--image", "x.jpg"}, ""},
		{"model backend without model", []string{"--backend", "onnx", "--image", "x.jpg"}, ""},
		{"stdin not an image", []string{"--stdin"}, "hello"},
		{"dash reads stdin", []string{"--image", "-"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, strings.NewReader(tt.stdin), &stdout, &stderr)

			assert.Equal(t, 1, code)
			assert.JSONEq(t, `{"anomalies":[]}`, stdout.String())
		})
	}
}

// TestRunHelp verifies -h prints usage without a result.
func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-h"}, strings.NewReader(""), &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "-backend")
}

// TestFlagsOverrideConfig verifies only flags that were set replace config values.
func TestFlagsOverrideConfig(t *testing.T) {
	opts, err := parseFlags([]string{
		"--backend", "onnx",
		"--model", "model.onnx",
		"--classes", "names.yaml",
		"--confidence", "0.4",
		"--precision", "3",
		"--timeout", "5s",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := config.Default()
	opts.apply(cfg)
	assert.Equal(t, "onnx", cfg.Backend)
	assert.Equal(t, "model.onnx", cfg.Model.Path)
	assert.Equal(t, "names.yaml", cfg.Model.ClassesFile)
	assert.Equal(t, 0.4, cfg.Model.Confidence)
	assert.Equal(t, 3, cfg.Output.Precision)
	assert.Equal(t, 5*time.Second, cfg.Exec.Timeout)

	opts, err = parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)

	cfg = config.Default()
	opts.apply(cfg)
	assert.Equal(t, config.Default(), cfg)
}

// TestParseFlagsStdin verifies "-" selects stdin.
func TestParseFlagsStdin(t *testing.T) {
	opts, err := parseFlags([]string{"--image", "-"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, opts.stdin)
	assert.Empty(t, opts.image)
}
