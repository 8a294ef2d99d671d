// Package tools runs the poppler and pdftk command line utilities the
// extraction jobs depend on.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner runs an external command and returns what it wrote on stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as child processes, without a shell.
type ExecRunner struct {
	// Timeout bounds each command when non zero.
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s", name, r.Timeout)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// CheckInstalled returns an error naming the first command missing from PATH.
func CheckInstalled(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("the %s command-line utility is not installed: %w", name, err)
		}
	}
	return nil
}

// PdfToXML converts a pdf into the pdf2xml dialect. pdftohtml appends ".xml"
// to outBase; the path of the produced file is returned.
func PdfToXML(ctx context.Context, r Runner, pdfPath, outBase string) (string, error) {
	_, err := r.Run(ctx, "pdftohtml",
		"-i", "-c", "-hidden", "-nodrm", "-enc", "UTF-8", "-xml",
		argPath(pdfPath), argPath(outBase))
	if err != nil {
		return "", err
	}
	out := outBase + ".xml"
	if err := checkOutput(out); err != nil {
		return "", err
	}
	return out, nil
}

// PdfToBbox writes the words of a pdf with their bounding boxes to outPath.
func PdfToBbox(ctx context.Context, r Runner, pdfPath, outPath string) error {
	_, err := r.Run(ctx, "pdftotext", "-bbox", "-layout", argPath(pdfPath), argPath(outPath))
	if err != nil {
		return err
	}
	return checkOutput(outPath)
}

// DumpData returns the metadata dump of a pdf, bookmarks included.
func DumpData(ctx context.Context, r Runner, pdfPath string) ([]byte, error) {
	return r.Run(ctx, "pdftk", argPath(pdfPath), "dump_data_utf8")
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no output file: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file %s is empty", path)
	}
	return nil
}

// argPath keeps a relative path from being read as an option.
func argPath(path string) string {
	if strings.HasPrefix(path, "-") {
		return "./" + path
	}
	return path
}
