// Package posix holds the neutral, FUSE-library-agnostic shapes the
// adapter produces: the outward stat record and the file-type mode
// bits used to build it.
package posix

// File-type bits, matching the POSIX st_mode values the kernel expects in
// the upper bits (S_IFDIR, S_IFREG, S_IFLNK). These are the three types
// WebHDFS can report. Spelled out numerically rather than taken from
// the syscall package so this type stays buildable on every platform a
// FUSE binding in cmd/ might target.
const (
	ModeDir     uint32 = 0o040000
	ModeRegular uint32 = 0o100000
	ModeSymlink uint32 = 0o120000
)

// Stat is the adapter's outward shape for a getattr result.
type Stat struct {
	Mode  uint32 // file-type bits OR'd with permission bits
	UID   uint32
	GID   uint32
	Size  int64
	Atime float64 // seconds since epoch
	Mtime float64 // seconds since epoch
}

// StatFS is the fixed, generous answer Adapter.Statfs returns. WebHDFS
// has no quota/capacity operation this could be grounded on truthfully,
// so every field here is a static sentinel.
type StatFS struct {
	Bsize   uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen uint32
}

// DefaultStatFS is what every mount backend reports for statfs/statvfs.
var DefaultStatFS = StatFS{
	Bsize:   4096,
	Blocks:  1 << 30,
	Bfree:   1 << 30,
	Bavail:  1 << 30,
	Files:   1 << 20,
	Ffree:   1 << 20,
	NameLen: 255,
}
