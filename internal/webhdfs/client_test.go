package webhdfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	c, err := NewClient(host, port)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return c, srv
}

func TestGetFileStatusNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GETFILESTATUS", r.URL.Query().Get("op"))
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetFileStatus(context.Background(), "/missing", "alice")
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, KindNotFound, werr.Kind)
}

func TestGetFileStatusOK(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("user.name"))
		fmt.Fprint(w, `{"FileStatus":{"type":"FILE","permission":"644","owner":"bob","group":"users","length":5,"accessTime":1000,"modificationTime":2000,"pathSuffix":""}}`)
	})
	st, err := c.GetFileStatus(context.Background(), "/x", "alice")
	require.NoError(t, err)
	assert.Equal(t, TypeFile, st.Type)
	assert.Equal(t, "644", st.Permission)
	assert.EqualValues(t, 5, st.Length)
}

func TestList(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "LISTSTATUS", r.URL.Query().Get("op"))
		fmt.Fprint(w, `{"FileStatuses":{"FileStatus":[
			{"type":"DIRECTORY","permission":"755","owner":"a","group":"a","length":0,"accessTime":0,"modificationTime":0,"pathSuffix":"foo"},
			{"type":"FILE","permission":"644","owner":"a","group":"a","length":1,"accessTime":0,"modificationTime":0,"pathSuffix":"bar"}
		]}}`)
	})
	entries, err := c.List(context.Background(), "/", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "foo", entries[0].PathSuffix)
	assert.Equal(t, "bar", entries[1].PathSuffix)
}

func TestChecksumEqual(t *testing.T) {
	a := &Checksum{Algorithm: "MD5", Length: 1, Bytes: "aa"}
	b := &Checksum{Algorithm: "MD5", Length: 1, Bytes: "aa"}
	c := &Checksum{Algorithm: "MD5", Length: 1, Bytes: "bb"}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, (*Checksum)(nil).Equal(nil))
	assert.False(t, a.Equal(nil))
}

// TestPutTwoStep exercises the exact two-step, no-auto-follow CREATE dance
// that is the protocol's central awkwardness.
func TestPutTwoStep(t *testing.T) {
	var datanode *httptest.Server
	namenode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CREATE", r.URL.Query().Get("op"))
		assert.Equal(t, "true", r.URL.Query().Get("overwrite"))
		w.Header().Set("Location", datanode.URL+"/webhdfs/v1/x?op=CREATE")
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer namenode.Close()

	var receivedBody []byte
	datanode = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer datanode.Close()

	u, _ := url.Parse(namenode.URL)
	port, _ := strconv.Atoi(u.Port())
	c, err := NewClient(u.Hostname(), port)
	require.NoError(t, err)

	n, err := c.Put(context.Background(), "/x", []byte("HELLO"), nil, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "HELLO", string(receivedBody))
}

func TestPutMissingLocation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTemporaryRedirect)
	})
	_, err := c.Put(context.Background(), "/x", []byte("d"), nil, "")
	require.ErrorIs(t, err, ErrMissingLocation)
}

func TestDeleteDirectoryNotEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"RemoteException":{"exception":"PathIsNotEmptyDirectoryException","message":"/new is non empty"}}`)
	})
	err := c.Delete(context.Background(), "/new", false, "")
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, KindDirectoryNotEmpty, werr.Kind)
}

func TestChownPermissionDenied(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"RemoteException":{"exception":"AccessControlException","message":"nope"}}`)
	})
	err := c.Chown(context.Background(), "/x", "bob", "users", "alice")
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, KindPermissionDenied, werr.Kind)
}

func TestMkdirFalseResult(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"boolean":false}`)
	})
	err := c.Mkdir(context.Background(), "/x", nil, "")
	require.Error(t, err)
	assert.True(t, IsFalseResult(err))
}

// TestPermissionEncoding verifies, for a sample of permission integers
// from 0 to 0o7777, that the query parameter is its octal string
// representation.
func TestPermissionEncoding(t *testing.T) {
	for _, perm := range []int{0, 1, 8, 0o644, 0o755, 0o7777} {
		var got string
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query().Get("permission")
		})
		require.NoError(t, c.Chmod(context.Background(), "/x", perm, ""))
		assert.Equal(t, strconv.FormatInt(int64(perm), 8), got)
	}
}

// TestTimestampEncoding verifies SETTIMES sends atime/mtime as integer
// millisecond query parameters.
func TestTimestampEncoding(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000", r.URL.Query().Get("accesstime"))
		assert.Equal(t, "2000", r.URL.Query().Get("modificationtime"))
	})
	require.NoError(t, c.Utime(context.Background(), "/x", 1000, 2000, ""))
}
