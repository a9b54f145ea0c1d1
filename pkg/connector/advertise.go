package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"wzrd/pkg/protocol"
)

// ErrNoAdvertisement is returned when the advertisement file does not exist,
// which means no host has started a listener.
var ErrNoAdvertisement = errors.New("no listener advertised")

// ErrStaleAdvertisement is returned when the advertisement file names a port
// that nobody is listening on.
var ErrStaleAdvertisement = errors.New("advertised listener is not running")

// dialCheckTimeout bounds the liveness dial in CheckAdvertisement.
const dialCheckTimeout = 1 * time.Second

// WriteAdvertisement replaces the file at path with the decimal port,
// creating parent directories as needed. The file is written beside path
// and renamed into place so readers never see a partial number.
func WriteAdvertisement(path string, port int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // ports dir is read by other applications
		return fmt.Errorf("create advertisement dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(port)), 0o644); err != nil { //nolint:gosec // port file is read by other applications
		return fmt.Errorf("write advertisement: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace advertisement: %w", err)
	}
	return nil
}

// ReadAdvertisement returns the port stored at path.
func ReadAdvertisement(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s does not exist", ErrNoAdvertisement, path)
	}
	if err != nil {
		return 0, fmt.Errorf("read advertisement: %w", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("advertisement %s holds %q, not a port", path, strings.TrimSpace(string(data)))
	}
	return port, nil
}

// CheckAdvertisement reads the port at path and dials it once.
//
// Behavior:
//   - No file: ErrNoAdvertisement.
//   - File present and the dial succeeds: the port, nil.
//   - File present but the dial is refused or times out: ErrStaleAdvertisement.
//
// A successful dial consumes one accept cycle on the listener. The listener
// sees the peer leave without a reply and keeps any pending command for the
// next peer.
func CheckAdvertisement(ctx context.Context, path string) (int, error) {
	port, err := ReadAdvertisement(path)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, dialCheckTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", loopbackAddr(port))
	if err != nil {
		return port, fmt.Errorf("%w on port %d: %w", ErrStaleAdvertisement, port, err)
	}
	_ = conn.Close()
	return port, nil
}

// WaitForAdvertisement blocks until a readable advertisement exists at path
// or ctx ends. It watches the parent directory instead of polling.
func WaitForAdvertisement(ctx context.Context, path string) (int, error) {
	if port, err := ReadAdvertisement(path); err == nil {
		return port, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // ports dir is read by other applications
		return 0, fmt.Errorf("create advertisement dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return 0, fmt.Errorf("watch %s: %w", dir, err)
	}

	// The file may have appeared between the first read and Add.
	if port, err := ReadAdvertisement(path); err == nil {
		return port, nil
	}

	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("wait for advertisement: %w", ctx.Err())
		case event, ok := <-watcher.Events:
			if !ok {
				return 0, errors.New("advertisement watcher closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if port, err := ReadAdvertisement(path); err == nil {
				return port, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return 0, errors.New("advertisement watcher closed")
			}
			return 0, fmt.Errorf("advertisement watcher: %w", err)
		}
	}
}

func loopbackAddr(port int) string {
	return net.JoinHostPort(protocol.LoopbackHost, strconv.Itoa(port))
}
