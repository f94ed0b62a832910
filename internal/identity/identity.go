// Package identity translates between the remote's user/group names and
// local numeric identifiers. Local passwd/group resolution is an os/user
// job, not a library's; see DESIGN.md.
package identity

import (
	"os/user"
	"strconv"
)

// Identity is the ambient per-upcall caller context the kernel filesystem
// dispatcher supplies.
type Identity struct {
	UID uint32
	GID uint32
	PID uint32
}

// UIDOfName resolves a username to a local numeric uid, defaulting to 0
// (root) on a lookup miss.
func UIDOfName(name string) uint32 {
	u, err := user.Lookup(name)
	if err != nil {
		return 0
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(uid)
}

// GIDOfName resolves a group name to a local numeric gid, defaulting to 0
// on a lookup miss.
func GIDOfName(name string) uint32 {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(gid)
}

// NameOfUID resolves a numeric uid to a username, defaulting to "root" on
// a lookup miss.
func NameOfUID(uid uint32) string {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "root"
	}
	return u.Username
}

// NameOfGID resolves a numeric gid to a group name, defaulting to "root"
// on a lookup miss.
//
// This goes through the *user* database rather than the group database,
// which is almost certainly a bug inherited from upstream, preserved
// intentionally rather than silently fixed. See DESIGN.md.
func NameOfGID(gid uint32) string {
	u, err := user.LookupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return "root"
	}
	return u.Username
}
