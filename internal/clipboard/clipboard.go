// Package clipboard puts transcriptions on the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
)

// ErrUnsupported is returned when no clipboard utility is available
// (for example xclip/xsel/wl-copy missing on Linux).
var ErrUnsupported = errors.New("clipboard: not supported on this system")

// Copier writes text to a clipboard.
type Copier interface {
	Copy(text string) error
}

type systemCopier struct {
	write       func(string) error
	unsupported bool
}

// New returns a Copier backed by the system clipboard.
func New() Copier {
	return &systemCopier{
		write:       clipboard.WriteAll,
		unsupported: clipboard.Unsupported,
	}
}

func (c *systemCopier) Copy(text string) error {
	if c.unsupported {
		return ErrUnsupported
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("clipboard: nothing to copy")
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}
