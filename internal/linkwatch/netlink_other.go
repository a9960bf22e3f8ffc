//go:build !linux

package linkwatch

import (
	"context"
	"errors"
)

// Run is only available on linux
func (w *Watcher) Run(ctx context.Context) error {
	return errors.New("link watching requires linux netlink")
}
