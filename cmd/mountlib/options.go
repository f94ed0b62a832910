// Package mountlib holds the options, logging, and lifecycle plumbing
// shared by the cmount, mount and mount2 backends: each backend builds an
// *adapter.Adapter from the same Options and is responsible only for
// translating its own FUSE binding's upcalls onto it.
package mountlib

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/rascalking/javanicus/internal/adapter"
	"github.com/rascalking/javanicus/internal/stagingcache"
	"github.com/rascalking/javanicus/internal/webhdfs"
)

// Options gathers the CLI flags every mount backend needs regardless of
// which FUSE library it binds to.
type Options struct {
	Host       string
	Port       int
	Mountpoint string
	Debug      bool
	Foreground bool
	CacheDir   string
}

// Log builds the logrus logger the rest of the module logs through, at
// the level --debug selects.
func (o *Options) Log() *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetOutput(os.Stderr)
	if o.Debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Validate checks that host, port and mountpoint were all supplied and
// that mountpoint names an existing directory.
func (o *Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("--host is required")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535, got %d", o.Port)
	}
	if o.Mountpoint == "" {
		return fmt.Errorf("--mountpoint is required")
	}
	info, err := os.Stat(o.Mountpoint)
	if err != nil {
		return fmt.Errorf("mountpoint: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mountpoint %s is not a directory", o.Mountpoint)
	}
	return nil
}

// NewAdapter wires a webhdfs.Client and a stagingcache.Cache into an
// adapter.Adapter, the single core object every backend drives.
func (o *Options) NewAdapter() (*adapter.Adapter, error) {
	log := o.Log()

	remote, err := webhdfs.NewClient(o.Host, o.Port, webhdfs.WithLogger(log.WithField("component", "webhdfs")))
	if err != nil {
		return nil, fmt.Errorf("creating webhdfs client: %w", err)
	}

	cacheBase := o.CacheDir
	if cacheBase == "" {
		cacheBase = os.TempDir()
	}
	cache, err := stagingcache.New(cacheBase, remote)
	if err != nil {
		return nil, fmt.Errorf("creating staging cache: %w", err)
	}

	return adapter.New(remote, cache), nil
}
