// Command decode-and-run decodes a base64 image into a temporary file and runs
// anomaly-detect on it, printing the detector's stdout and stderr.
//
// The exit status is the detector's. Decoding failures exit with 2. When the
// detector fails the temporary directory is kept for inspection.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/pkg/errors"
)

const (
	// detectorName is the binary looked up when --detector is not given.
	detectorName = "anomaly-detect"
	// workspacePrefix names the temporary directory holding the decoded image.
	workspacePrefix = "yolo-run-"
	// inputName is the file the decoded bytes are written to.
	inputName = "input.jpg"

	exitFailure = 1
	exitUsage   = 2
)

var errSource = errors.New("exactly one of --b64-file, --b64-stdin or --b64-str is required")

type options struct {
	file       string
	fromStdin  bool
	str        string
	detector   string
	keepOnFail bool
	configPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		return exitUsage
	}

	payload, err := readPayload(opts, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		return exitUsage
	}

	data, err := images.DecodeBase64(payload)
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] Base64 decode failed: %v\n", err)
		return exitUsage
	}

	ws, err := images.NewWorkspace(workspacePrefix)
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		return exitFailure
	}

	path, err := ws.Write(inputName, data)
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		ws.Remove()
		return exitFailure
	}

	detector, err := resolveDetector(opts.detector)
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		ws.Remove()
		return exitFailure
	}

	code, out, errOut, err := runDetector(ctx, detector, path, opts.configPath)

	fmt.Fprintln(stdout, "=== STDOUT (JSON) ===")
	fmt.Fprint(stdout, ensureNewline(out))
	fmt.Fprintln(stdout, "=== STDERR (errors/logs) ===")
	fmt.Fprint(stdout, ensureNewline(errOut))

	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] failed to run %s: %v\n", detector, err)
		code = exitFailure
	}

	if code != 0 {
		fmt.Fprintf(stderr, "[ERROR] Detector exited with code %d\n", code)
		if opts.keepOnFail {
			fmt.Fprintf(stderr, "[INFO] Kept input image at: %s\n", path)
			return code
		}
	}

	ws.Remove()
	return code
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	opts := options{keepOnFail: true}

	fs := flag.NewFlagSet("decode-and-run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.file, "b64-file", "", "Path to a file containing the base64 image")
	fs.BoolVar(&opts.fromStdin, "b64-stdin", false, "Read the base64 image from stdin")
	fs.StringVar(&opts.str, "b64-str", "", "The base64 image itself")
	fs.StringVar(&opts.detector, "detector", "", "Path to anomaly-detect (default: next to this binary, then $PATH)")
	fs.BoolVar(&opts.keepOnFail, "keep-on-fail", true, "Keep the temporary image when detection fails")
	fs.StringVar(&opts.configPath, "config", "", "Config file passed on to the detector")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	sources := 0
	for _, set := range []bool{opts.file != "", opts.fromStdin, opts.str != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return opts, errSource
	}
	return opts, nil
}

// readPayload returns the base64 text from the selected source.
func readPayload(opts options, stdin io.Reader) (string, error) {
	switch {
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return "", errors.Wrap(err, "failed to read base64 file")
		}
		return string(data), nil
	case opts.fromStdin:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", errors.Wrap(err, "failed to read stdin")
		}
		return string(data), nil
	default:
		return opts.str, nil
	}
}

// resolveDetector returns the configured binary, or anomaly-detect next to
// this executable, or anomaly-detect on $PATH.
func resolveDetector(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), detectorName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := osexec.LookPath(detectorName)
	if err != nil {
		return "", errors.Wrapf(err, "%s not found next to this binary or on PATH", detectorName)
	}
	return path, nil
}

// runDetector runs the detector on the image and returns its exit code and
// output. err is set only when the process could not be run at all.
func runDetector(ctx context.Context, detector, image, configPath string) (int, string, string, error) {
	args := []string{"--image", image}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	var stdout, stderr bytes.Buffer
	cmd := osexec.CommandContext(ctx, detector, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *osexec.ExitError
	switch {
	case err == nil:
		return 0, stdout.String(), stderr.String(), nil
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		if code < 0 {
			// Killed by a signal.
			code = exitFailure
		}
		return code, stdout.String(), stderr.String(), nil
	default:
		return exitFailure, stdout.String(), stderr.String(), err
	}
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
