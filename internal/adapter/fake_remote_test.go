package adapter

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/rascalking/javanicus/internal/webhdfs"
)

// fakeRemote is an in-process stand-in for a WebHDFS namenode, covering
// just enough of the protocol to drive the adapter's end-to-end test
// scenarios without an HTTP server. It satisfies both adapter.Remote
// and stagingcache.Remote.
type fakeRemote struct {
	nodes map[string]*fakeNode
}

type fakeNode struct {
	isDir   bool
	perm    int
	owner   string
	group   string
	content []byte
	atimeMs int64
	mtimeMs int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nodes: map[string]*fakeNode{
			"/": {isDir: true, perm: 0o755, owner: "root", group: "root"},
		},
	}
}

func (f *fakeRemote) checksumFor(n *fakeNode) *webhdfs.Checksum {
	sum := sha1.Sum(n.content)
	return &webhdfs.Checksum{Algorithm: "SHA1", Length: int64(len(n.content)), Bytes: hex.EncodeToString(sum[:])}
}

func (f *fakeRemote) GetFileStatus(ctx context.Context, p, asUser string) (*webhdfs.FileStatus, error) {
	n, ok := f.nodes[p]
	if !ok {
		return nil, &webhdfs.Error{Kind: webhdfs.KindNotFound, Op: "GETFILESTATUS", URL: p, StatusCode: 404}
	}
	typ := webhdfs.TypeFile
	if n.isDir {
		typ = webhdfs.TypeDirectory
	}
	return &webhdfs.FileStatus{
		Type:             typ,
		Permission:       strconv.FormatInt(int64(n.perm), 8),
		Owner:            n.owner,
		Group:            n.group,
		Length:           int64(len(n.content)),
		AccessTime:       n.atimeMs,
		ModificationTime: n.mtimeMs,
		PathSuffix:       path.Base(p),
	}, nil
}

func (f *fakeRemote) List(ctx context.Context, p, asUser string) ([]webhdfs.FileStatus, error) {
	parent := strings.TrimSuffix(p, "/")
	if parent == "" {
		parent = "/"
	}
	var out []webhdfs.FileStatus
	for child, n := range f.nodes {
		if child == "/" || path.Dir(child) != parent {
			continue
		}
		typ := webhdfs.TypeFile
		if n.isDir {
			typ = webhdfs.TypeDirectory
		}
		out = append(out, webhdfs.FileStatus{
			Type:       typ,
			PathSuffix: path.Base(child),
		})
	}
	return out, nil
}

func (f *fakeRemote) Checksum(ctx context.Context, p, asUser string) (*webhdfs.Checksum, error) {
	n, ok := f.nodes[p]
	if !ok {
		return nil, &webhdfs.Error{Kind: webhdfs.KindNotFound, Op: "GETFILECHECKSUM", URL: p, StatusCode: 404}
	}
	return f.checksumFor(n), nil
}

func (f *fakeRemote) Get(ctx context.Context, p, asUser string) ([]byte, error) {
	n, ok := f.nodes[p]
	if !ok {
		return nil, &webhdfs.Error{Kind: webhdfs.KindNotFound, Op: "OPEN", URL: p, StatusCode: 404}
	}
	return append([]byte(nil), n.content...), nil
}

func (f *fakeRemote) Put(ctx context.Context, p string, data []byte, perm *int, asUser string) (int64, error) {
	n, ok := f.nodes[p]
	if !ok {
		n = &fakeNode{owner: asUser, group: asUser}
		f.nodes[p] = n
	}
	n.content = append([]byte(nil), data...)
	return int64(len(data)), nil
}

func (f *fakeRemote) Mkdir(ctx context.Context, p string, perm *int, asUser string) error {
	permVal := 0o755
	if perm != nil {
		permVal = *perm
	}
	f.nodes[p] = &fakeNode{isDir: true, perm: permVal, owner: asUser, group: asUser}
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, p string, recursive bool, asUser string) error {
	n, ok := f.nodes[p]
	if !ok {
		return &webhdfs.Error{Kind: webhdfs.KindNotFound, Op: "DELETE", URL: p, StatusCode: 404}
	}
	if n.isDir && !recursive {
		for child := range f.nodes {
			if child != p && path.Dir(child) == strings.TrimSuffix(p, "/") {
				return &webhdfs.Error{
					Kind:       webhdfs.KindDirectoryNotEmpty,
					Op:         "DELETE",
					URL:        p,
					StatusCode: 403,
					Body:       fmt.Sprintf("%s is non empty", p),
				}
			}
		}
	}
	delete(f.nodes, p)
	return nil
}

func (f *fakeRemote) Rename(ctx context.Context, oldPath, newPath, asUser string) error {
	n, ok := f.nodes[oldPath]
	if !ok {
		return &webhdfs.Error{Kind: webhdfs.KindGeneric, Op: "RENAME", URL: oldPath, StatusCode: 200, Body: "boolean: false"}
	}
	delete(f.nodes, oldPath)
	f.nodes[newPath] = n
	return nil
}

func (f *fakeRemote) Chmod(ctx context.Context, p string, perm int, asUser string) error {
	n, ok := f.nodes[p]
	if !ok {
		return &webhdfs.Error{Kind: webhdfs.KindNotFound, Op: "SETPERMISSION", URL: p, StatusCode: 404}
	}
	n.perm = perm
	return nil
}

func (f *fakeRemote) Chown(ctx context.Context, p, user, group, asUser string) error {
	n, ok := f.nodes[p]
	if !ok {
		return &webhdfs.Error{Kind: webhdfs.KindNotFound, Op: "SETOWNER", URL: p, StatusCode: 404}
	}
	n.owner, n.group = user, group
	return nil
}

func (f *fakeRemote) Utime(ctx context.Context, p string, atimeMs, mtimeMs int64, asUser string) error {
	n, ok := f.nodes[p]
	if !ok {
		return &webhdfs.Error{Kind: webhdfs.KindNotFound, Op: "SETTIMES", URL: p, StatusCode: 404}
	}
	n.atimeMs, n.mtimeMs = atimeMs, mtimeMs
	return nil
}

func (f *fakeRemote) Create(ctx context.Context, p string, perm int, asUser string) error {
	f.nodes[p] = &fakeNode{perm: perm, owner: asUser, group: asUser}
	return nil
}

func (f *fakeRemote) Close() error { return nil }
