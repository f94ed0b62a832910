package adapter

import (
	"golang.org/x/sys/unix"

	"github.com/rascalking/javanicus/internal/identity"
	"github.com/rascalking/javanicus/internal/posix"
)

// checkAccess classifies the requested access bits and the principal
// classes the caller belongs to, and succeeds if, for every requested
// bit, at least one applicable class grants it.
//
// An F_OK-only request (amode 0) asks for no bits and so succeeds: the
// getattr the caller made before calling this already proves existence.
func checkAccess(stat *posix.Stat, caller identity.Identity, amode uint32) bool {
	perm := stat.Mode & 0o777

	type class struct {
		applies bool
		shift   uint
	}
	classes := []class{
		{applies: caller.UID == stat.UID, shift: 6}, // user
		{applies: caller.GID == stat.GID, shift: 3}, // group
		{applies: true, shift: 0},                   // other
	}

	for _, bit := range []uint32{unix.R_OK, unix.W_OK, unix.X_OK} {
		if amode&bit == 0 {
			continue
		}
		granted := false
		for _, c := range classes {
			if !c.applies {
				continue
			}
			if perm&(bit<<c.shift) != 0 {
				granted = true
				break
			}
		}
		if !granted {
			return false
		}
	}
	return true
}
