package contents

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command captures a frame by running an external screenshot tool that
// writes PNG or JPEG to stdout, e.g. ["grim", "-t", "png", "-"].
type Command struct {
	argv []string
}

// NewCommand validates argv.
func NewCommand(argv []string) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &Command{argv: append([]string(nil), argv...)}, nil
}

func (c *Command) Luminance(ctx context.Context) (float64, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return 0, fmt.Errorf("capture command %s: %w: %s", c.argv[0], err, msg)
		}
		return 0, fmt.Errorf("capture command %s: %w", c.argv[0], err)
	}
	return DecodeLuminance(&stdout)
}

// File reads the latest frame from an image file kept up to date by
// another program.
type File struct {
	path string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("capture file path is empty")
	}
	return &File{path: path}, nil
}

func (f *File) Luminance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return 0, fmt.Errorf("failed to open frame: %w", err)
	}
	defer fh.Close()
	return DecodeLuminance(fh)
}
