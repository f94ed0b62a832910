// Package cmd wires the CLI surface: a root command carrying --host,
// --port, --mountpoint, --debug, --foreground and --cache-dir, with one
// subcommand per FUSE binding.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rascalking/javanicus/cmd/cmount"
	"github.com/rascalking/javanicus/cmd/mount"
	"github.com/rascalking/javanicus/cmd/mount2"
	"github.com/rascalking/javanicus/cmd/mountlib"
)

var opt mountlib.Options

// Root is the top-level command; main.go executes it.
var Root = &cobra.Command{
	Use:   "javanicus",
	Short: "Mount a WebHDFS cluster as a POSIX filesystem",
	Long: `javanicus mounts a remote WebHDFS namenode as a local POSIX
filesystem via FUSE, staging file contents on local disk and pushing
writes back to the remote on flush, fsync and release.`,
}

func init() {
	var pf *pflag.FlagSet = Root.PersistentFlags()
	pf.StringVar(&opt.Host, "host", "", "WebHDFS namenode host")
	pf.IntVar(&opt.Port, "port", 50070, "WebHDFS namenode port")
	pf.StringVar(&opt.Mountpoint, "mountpoint", "", "local directory to mount on")
	pf.BoolVar(&opt.Debug, "debug", false, "enable debug logging")
	pf.BoolVar(&opt.Foreground, "foreground", false, "stored in the mount options; no mount backend reads it")
	pf.StringVar(&opt.CacheDir, "cache-dir", "", "local directory for staging files (default: system temp dir)")

	Root.AddCommand(cmountCommand, mountCommand, mount2Command)
}

func runMount(run func(*mountlib.Options) error) error {
	if err := opt.Validate(); err != nil {
		return err
	}
	return run(&opt)
}

var cmountCommand = &cobra.Command{
	Use:   "cmount",
	Short: "Mount using the winfsp/cgofuse binding (primary, cross-platform)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(cmount.Mount)
	},
}

var mountCommand = &cobra.Command{
	Use:   "mount",
	Short: "Mount using the bazil.org/fuse binding",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(mount.Mount)
	},
}

var mount2Command = &cobra.Command{
	Use:   "mount2",
	Short: "Mount using the hanwen/go-fuse pathfs binding",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(mount2.Mount)
	},
}

// Execute runs the root command, exiting with status 1 on error in the
// conventional cobra way.
func Execute() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
