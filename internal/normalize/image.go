package normalize

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// CommandRunner executes an external command with the given stdin and
// returns its stdout. Injectable so OCR can be faked in tests.
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %v: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// ocrImage runs the image through tesseract. Only PNG and JPEG are
// accepted; anything else is an unsupported format before OCR even runs.
func (n *Normalizer) ocrImage(ctx context.Context, content []byte) (string, error) {
	if !bytes.HasPrefix(content, pngMagic) && !bytes.HasPrefix(content, jpegMagic) {
		return "", fmt.Errorf("ocrImage: not a PNG or JPEG image: %w", ErrUnsupportedFormat)
	}

	out, err := n.runner.Run(ctx, content, n.ocrBinary, "stdin", "stdout", "--psm", "6")
	if err != nil {
		return "", fmt.Errorf("ocrImage: %v: %w", err, ErrUnsupportedFormat)
	}
	return string(out), nil
}
