package webhdfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client is a typed client over a WebHDFS v1 namenode. It holds a single
// long-lived HTTP session for connection reuse and has no disk state of
// its own.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	// noRedirect is a second client sharing the same Transport but
	// refusing to auto-follow redirects, used for the two-step CREATE
	// dance.
	noRedirect *http.Client
	log        *logrus.Entry
}

// Option configures a Client constructed by NewClient.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client used for
// redirect-following requests (GET OPEN and the like). The caller owns
// whatever retry/TLS middleware it wants to layer on. The no-redirect
// variant is a copy of this client, sharing its Transport.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger overrides the logrus entry requests are logged through.
func WithLogger(l *logrus.Entry) Option {
	return func(cl *Client) { cl.log = l }
}

// NewClient builds a Client talking to http://host:port/webhdfs/v1/.
func NewClient(host string, port int, opts ...Option) (*Client, error) {
	base, err := url.Parse(fmt.Sprintf("http://%s:%d/webhdfs/v1/", host, port))
	if err != nil {
		return nil, errors.Wrap(err, "parsing namenode base URL")
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{},
		log:     logrus.WithField("component", "webhdfs"),
	}
	for _, opt := range opts {
		opt(c)
	}

	noRedirect := *c.http
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.noRedirect = &noRedirect

	return c, nil
}

// Close releases the client's connection pool. The caller should not issue
// further requests on this Client afterwards.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// resolve joins the client's base URL with path, stripping any leading '/'
// so url.Parse doesn't treat it as absolute.
func (c *Client) resolve(path string) *url.URL {
	rel := &url.URL{Path: strings.TrimPrefix(path, "/")}
	return c.baseURL.ResolveReference(rel)
}

// octal renders perm as its octal string representation, e.g. 493 -> "755".
func octal(perm int) string {
	return strconv.FormatInt(int64(perm), 8)
}

func (c *Client) do(ctx context.Context, client *http.Client, method string, u *url.URL, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	c.log.Debugf("%s %s", method, u)
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, u)
	}
	return resp, nil
}

// buildURL attaches op (and, when asUser is non-empty, user.name) plus any
// extra query parameters to path.
func (c *Client) buildURL(path, op, asUser string, extra map[string]string) *url.URL {
	u := c.resolve(path)
	q := u.Query()
	q.Set("op", op)
	if asUser != "" {
		q.Set("user.name", asUser)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u
}

// checkStatus classifies a non-success response. 3xx responses count as
// success (see isSuccess).
func (c *Client) checkStatus(op string, u *url.URL, resp *http.Response) error {
	if isSuccess(resp.StatusCode) {
		return nil
	}
	body := readBody(resp)
	err := classify(op, u.String(), resp, body)
	c.log.Errorf("%s %s failed: %v", op, u, err)
	return err
}

// GetFileStatus implements GETFILESTATUS.
func (c *Client) GetFileStatus(ctx context.Context, path, asUser string) (*FileStatus, error) {
	u := c.buildURL(path, "GETFILESTATUS", asUser, nil)
	resp, err := c.do(ctx, c.http, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("GETFILESTATUS", u, resp); err != nil {
		return nil, err
	}
	var env fileStatusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decoding GETFILESTATUS response")
	}
	return &env.FileStatus, nil
}

// List implements LISTSTATUS, returning entries in the order the remote
// returns them.
func (c *Client) List(ctx context.Context, path, asUser string) ([]FileStatus, error) {
	u := c.buildURL(path, "LISTSTATUS", asUser, nil)
	resp, err := c.do(ctx, c.http, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("LISTSTATUS", u, resp); err != nil {
		return nil, err
	}
	var env listStatusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decoding LISTSTATUS response")
	}
	return env.FileStatuses.FileStatus, nil
}

// Checksum implements GETFILECHECKSUM.
func (c *Client) Checksum(ctx context.Context, path, asUser string) (*Checksum, error) {
	u := c.buildURL(path, "GETFILECHECKSUM", asUser, nil)
	resp, err := c.do(ctx, c.http, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("GETFILECHECKSUM", u, resp); err != nil {
		return nil, err
	}
	var env checksumEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decoding GETFILECHECKSUM response")
	}
	return &env.FileChecksum, nil
}

// Get implements OPEN: the namenode's redirect to a datanode is followed
// automatically by the default client.
func (c *Client) Get(ctx context.Context, path, asUser string) ([]byte, error) {
	u := c.buildURL(path, "OPEN", asUser, nil)
	resp, err := c.do(ctx, c.http, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("OPEN", u, resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading OPEN response body")
	}
	return data, nil
}

// Put implements the two-step CREATE/overwrite dance that is the
// protocol's central awkwardness. It returns the number of bytes written.
func (c *Client) Put(ctx context.Context, path string, data []byte, perm *int, asUser string) (int64, error) {
	extra := map[string]string{"overwrite": "true"}
	if perm != nil {
		extra["permission"] = octal(*perm)
	}
	u := c.buildURL(path, "CREATE", asUser, extra)

	// Step 1: PUT to the namenode without following the redirect.
	resp, err := c.do(ctx, c.noRedirect, http.MethodPut, u, nil)
	if err != nil {
		return 0, err
	}
	body := readBody(resp)
	if !isSuccess(resp.StatusCode) {
		err := classify("CREATE", u.String(), resp, body)
		c.log.Errorf("CREATE %s failed: %v", u, err)
		return 0, err
	}
	location := resp.Header.Get("Location")
	if location == "" {
		c.log.Errorf("CREATE %s: %v", u, ErrMissingLocation)
		return 0, ErrMissingLocation
	}

	// Step 2: PUT the raw bytes to the datanode Location.
	dataURL, err := url.Parse(location)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing Location header %q", location)
	}
	resp2, err := c.do(ctx, c.http, http.MethodPut, dataURL, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	defer resp2.Body.Close()
	if err := c.checkStatus("CREATE (datanode)", dataURL, resp2); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Create implements the empty-file CREATE used by Adapter.create. It
// deliberately ignores whatever the namenode's redirect points at and
// treats any 2xx/3xx response as success.
func (c *Client) Create(ctx context.Context, path string, perm int, asUser string) error {
	u := c.buildURL(path, "CREATE", asUser, map[string]string{
		"permission": octal(perm),
	})
	resp, err := c.do(ctx, c.noRedirect, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		body := readBody(resp)
		err := classify("CREATE", u.String(), resp, body)
		c.log.Errorf("CREATE %s failed: %v", u, err)
		return err
	}
	return nil
}

// Delete implements DELETE.
func (c *Client) Delete(ctx context.Context, path string, recursive bool, asUser string) error {
	u := c.buildURL(path, "DELETE", asUser, map[string]string{
		"recursive": strconv.FormatBool(recursive),
	})
	resp, err := c.do(ctx, c.http, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("DELETE", u, resp); err != nil {
		return err
	}
	return decodeBoolean("DELETE", u, resp)
}

// Mkdir implements MKDIRS.
func (c *Client) Mkdir(ctx context.Context, path string, perm *int, asUser string) error {
	extra := map[string]string{}
	if perm != nil {
		extra["permission"] = octal(*perm)
	}
	u := c.buildURL(path, "MKDIRS", asUser, extra)
	resp, err := c.do(ctx, c.http, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("MKDIRS", u, resp); err != nil {
		return err
	}
	return decodeBoolean("MKDIRS", u, resp)
}

// Rename implements RENAME.
func (c *Client) Rename(ctx context.Context, oldPath, newPath, asUser string) error {
	u := c.buildURL(oldPath, "RENAME", asUser, map[string]string{
		"destination": newPath,
	})
	resp, err := c.do(ctx, c.http, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("RENAME", u, resp); err != nil {
		return err
	}
	return decodeBoolean("RENAME", u, resp)
}

// Chmod implements SETPERMISSION.
func (c *Client) Chmod(ctx context.Context, path string, perm int, asUser string) error {
	u := c.buildURL(path, "SETPERMISSION", asUser, map[string]string{
		"permission": octal(perm),
	})
	resp, err := c.do(ctx, c.http, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus("SETPERMISSION", u, resp)
}

// Chown implements SETOWNER.
func (c *Client) Chown(ctx context.Context, path, user, group, asUser string) error {
	u := c.buildURL(path, "SETOWNER", asUser, map[string]string{
		"user":  user,
		"group": group,
	})
	resp, err := c.do(ctx, c.http, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus("SETOWNER", u, resp)
}

// Utime implements SETTIMES. atimeMs/mtimeMs are milliseconds since the
// Unix epoch.
func (c *Client) Utime(ctx context.Context, path string, atimeMs, mtimeMs int64, asUser string) error {
	u := c.buildURL(path, "SETTIMES", asUser, map[string]string{
		"accesstime":       strconv.FormatInt(atimeMs, 10),
		"modificationtime": strconv.FormatInt(mtimeMs, 10),
	})
	resp, err := c.do(ctx, c.http, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus("SETTIMES", u, resp)
}

// decodeBoolean reads a {"boolean": ...} response body and maps a false
// result to a generic failure the adapter maps to EREMOTEIO.
func decodeBoolean(op string, u *url.URL, resp *http.Response) error {
	var env booleanEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "decoding %s response", op)
	}
	if !env.Boolean {
		return &Error{
			Kind:       KindGeneric,
			Op:         op,
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			Body:       "boolean: false",
		}
	}
	return nil
}

// IsFalseResult reports whether err is the "remote boolean-result op
// returned false" condition, as opposed to any other classified or
// transport failure.
func IsFalseResult(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindGeneric && e.Body == "boolean: false"
}
