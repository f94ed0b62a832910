// Command javanicus mounts a WebHDFS namenode as a local POSIX
// filesystem. See cmd.Root for the full flag and subcommand surface.
package main

import "github.com/rascalking/javanicus/cmd"

func main() {
	cmd.Execute()
}
