//go:build linux

package linkwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/logging"
)

// Run subscribes to link and address updates until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	if link, err := netlink.LinkByName(w.station); err == nil {
		w.mu.Lock()
		w.index = link.Attrs().Index
		w.linkUp = link.Attrs().OperState == netlink.OperUp
		w.mu.Unlock()
	} else if _, ok := err.(netlink.LinkNotFoundError); !ok {
		return fmt.Errorf("lookup %s: %w", w.station, err)
	}

	done := make(chan struct{})
	defer close(done)

	subErr := make(chan error, 1)
	onError := func(err error) {
		select {
		case subErr <- err:
		default:
		}
	}

	links := make(chan netlink.LinkUpdate, eventBuffer)
	if err := netlink.LinkSubscribeWithOptions(links, done, netlink.LinkSubscribeOptions{ErrorCallback: onError}); err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}
	addrs := make(chan netlink.AddrUpdate, eventBuffer)
	if err := netlink.AddrSubscribeWithOptions(addrs, done, netlink.AddrSubscribeOptions{ErrorCallback: onError}); err != nil {
		return fmt.Errorf("subscribe to address updates: %w", err)
	}

	logging.Info("Watching station link", zap.String("interface", w.station))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-subErr:
			return fmt.Errorf("netlink subscription: %w", err)
		case u, ok := <-links:
			if !ok {
				return errors.New("link subscription closed")
			}
			attrs := u.Link.Attrs()
			w.linkChanged(attrs.Name, attrs.Index, attrs.OperState == netlink.OperUp)
		case u, ok := <-addrs:
			if !ok {
				return errors.New("address subscription closed")
			}
			if u.NewAddr {
				w.addrAdded(u.LinkIndex, u.LinkAddress.IP)
			}
		}
	}
}
