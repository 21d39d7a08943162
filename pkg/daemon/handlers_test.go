package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreseed/torrentio/internal/config"
	"github.com/libreseed/torrentio/pkg/api"
	"github.com/libreseed/torrentio/pkg/engine/enginetest"
	"github.com/libreseed/torrentio/pkg/snapshot"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

var testMagnet = "magnet:?xt=urn:btih:" + testHash + "&dn=debian-12"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Storage.DownloadDir = t.TempDir()
	return cfg
}

func setupTestServer(t *testing.T) (*httptest.Server, *Daemon, *enginetest.Client) {
	t.Helper()

	client := enginetest.NewClient()
	d, err := New(testConfig(t), client, nil, WithVersion("1.2.3"))
	require.NoError(t, err)

	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return srv, d, client
}

func doRequest(t *testing.T, method, target string, body io.Reader, header map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postJSON(t *testing.T, target string, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return doRequest(t, http.MethodPost, target, bytes.NewReader(data), map[string]string{"Content-Type": "application/json"})
}

func decodeSnapshot(t *testing.T, resp *http.Response) snapshot.Snapshot {
	t.Helper()
	var snap snapshot.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func decodeError(t *testing.T, resp *http.Response) api.ErrorResponse {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestTorrentLifecycle(t *testing.T) {
	srv, _, client := setupTestServer(t)
	base := srv.URL + "/torrents"

	resp := postJSON(t, base, AddRequest{Source: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.ErrCodeBadRequest, decodeError(t, resp).Code)

	resp = postJSON(t, base, AddRequest{Source: "magnet:?xt=urn:btih:" + testHash})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	snap := decodeSnapshot(t, resp)
	require.Len(t, snap.Torrents, 1)
	assert.NotEqual(t, snapshot.StatusPaused, snap.Torrents[0].Status)
	id := snap.Torrents[0].ID

	resp = doRequest(t, http.MethodPost, base+"/"+id+"/pause", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, snapshot.StatusPaused, decodeSnapshot(t, resp).Torrents[0].Status)

	resp = doRequest(t, http.MethodPost, base+"/"+id+"/resume", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, []snapshot.Status{
		snapshot.StatusQueued,
		snapshot.StatusDownloading,
		snapshot.StatusSeeding,
		snapshot.StatusCompleted,
	}, decodeSnapshot(t, resp).Torrents[0].Status)

	resp = doRequest(t, http.MethodGet, base+"/"+id+"/files", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files FilesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	assert.Empty(t, files.Files)

	resp = doRequest(t, http.MethodGet, base+"/"+id+"/files/0/stream", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, base+"/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeSnapshot(t, resp).Torrents)
	assert.True(t, client.DataDeleted(testHash))
}

func TestAddExistingReturnsCreated(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/api/torrents", AddRequest{Source: testMagnet})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Len(t, decodeSnapshot(t, resp).Torrents, 1)
	}
}

func TestAddInvalidBody(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/torrents", strings.NewReader("{"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/torrents", AddRequest{Source: "not a magnet"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownTorrent(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	base := srv.URL + "/torrents/deadbeef"

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/pause"},
		{http.MethodPost, "/resume"},
		{http.MethodDelete, ""},
		{http.MethodGet, "/files"},
		{http.MethodGet, "/files/0/stream"},
	}

	for _, tt := range tests {
		t.Run(tt.method+tt.path, func(t *testing.T) {
			resp := doRequest(t, tt.method, base+tt.path, nil, nil)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, api.ErrCodeNotFound, decodeError(t, resp).Code)
		})
	}
}

func TestRemoveFailure(t *testing.T) {
	srv, _, client := setupTestServer(t)

	resp := postJSON(t, srv.URL+"/torrents", AddRequest{Source: testMagnet})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	client.FailRemovals(errors.New("disk busy"))

	resp = doRequest(t, http.MethodDelete, srv.URL+"/torrents/"+testHash, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/torrents", nil, nil)
	assert.Len(t, decodeSnapshot(t, resp).Torrents, 1)
}

func TestPauseByAlternateIDs(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"uppercase hash", strings.ToUpper(testHash)},
		{"escaped source", url.PathEscape(testMagnet)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := setupTestServer(t)

			resp := postJSON(t, srv.URL+"/torrents", AddRequest{Source: testMagnet})
			require.Equal(t, http.StatusCreated, resp.StatusCode)

			resp = doRequest(t, http.MethodPost, srv.URL+"/torrents/"+tt.id+"/pause", nil, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, snapshot.StatusPaused, decodeSnapshot(t, resp).Torrents[0].Status)
		})
	}
}

func addReadyTorrent(t *testing.T, client *enginetest.Client, data []byte) {
	t.Helper()
	h := enginetest.NewHandle(testHash, testMagnet)
	h.SetFiles(enginetest.File{FilePath: "debian/debian-12.iso", Data: data})
	client.Insert(h)
}

func TestStreamRanges(t *testing.T) {
	srv, _, client := setupTestServer(t)
	addReadyTorrent(t, client, []byte("0123456789"))
	streamURL := srv.URL + "/torrents/" + testHash + "/files/0/stream"

	tests := []struct {
		name         string
		rangeHeader  string
		wantStatus   int
		wantBody     string
		contentRange string
	}{
		{"full", "", http.StatusOK, "0123456789", ""},
		{"bounded", "bytes=2-5", http.StatusPartialContent, "2345", "bytes 2-5/10"},
		{"open ended", "bytes=7-", http.StatusPartialContent, "789", "bytes 7-9/10"},
		{"past end", "bytes=10-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
		{"inverted", "bytes=5-2", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.rangeHeader != "" {
				header["Range"] = tt.rangeHeader
			}
			resp := doRequest(t, http.MethodGet, streamURL, nil, header)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.contentRange, resp.Header.Get("Content-Range"))

			if tt.wantStatus == http.StatusRequestedRangeNotSatisfiable {
				assert.Equal(t, api.ErrCodeRangeNotSatisfiable, decodeError(t, resp).Code)
				return
			}

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(body))
			assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
		})
	}
}

func TestStreamStopsWhenClientDisconnects(t *testing.T) {
	srv, _, client := setupTestServer(t)
	file := enginetest.NewStalledFile("debian/debian-12.iso", []byte("first pieces"), 1<<20)
	h := enginetest.NewHandle(testHash, testMagnet)
	h.SetFiles(file)
	client.Insert(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/torrents/"+testHash+"/files/0/stream", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	select {
	case <-file.Opened():
	case <-time.After(5 * time.Second):
		t.Fatal("stream never opened the file")
	}
	cancel()

	select {
	case <-file.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("stream kept its reader open after the client went away")
	}
	<-done
}

func TestStreamUnknownFile(t *testing.T) {
	srv, _, client := setupTestServer(t)
	addReadyTorrent(t, client, []byte("data"))

	for _, index := range []string{"1", "-1", "abc"} {
		resp := doRequest(t, http.MethodGet, srv.URL+"/torrents/"+testHash+"/files/"+index+"/stream", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "index %s", index)
	}
}

func TestFilesAfterMetadata(t *testing.T) {
	srv, _, client := setupTestServer(t)
	addReadyTorrent(t, client, []byte("hello"))

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/torrents/"+testHash+"/files", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var files FilesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	require.Len(t, files.Files, 1)
	assert.Equal(t, "debian-12.iso", files.Files[0].Name)
	assert.Equal(t, "5 B", files.Files[0].Size)
}

func TestUploadMultipart(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	meta, err := enginetest.Metainfo("notes.txt", []byte("some payload"))
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("torrent", "notes.torrent")
	require.NoError(t, err)
	_, err = part.Write(meta)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := doRequest(t, http.MethodPost, srv.URL+"/torrents/upload", &buf, map[string]string{
		"Content-Type": mw.FormDataContentType(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, decodeSnapshot(t, resp).Torrents, 1)
}

func TestUploadRawBody(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	meta, err := enginetest.Metainfo("notes.txt", []byte("some payload"))
	require.NoError(t, err)

	resp := doRequest(t, http.MethodPost, srv.URL+"/torrents/upload", bytes.NewReader(meta), map[string]string{
		"Content-Type": "application/x-bittorrent",
		"X-Filename":   "notes.torrent",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, decodeSnapshot(t, resp).Torrents, 1)
}

func TestUploadRejectsBadPayloads(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/torrents/upload", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/torrents/upload", strings.NewReader("garbage"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("comment", "no file"))
	require.NoError(t, mw.Close())
	resp = doRequest(t, http.MethodPost, srv.URL+"/torrents/upload", &buf, map[string]string{
		"Content-Type": mw.FormDataContentType(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxUploadMB = 1
	d, err := New(cfg, enginetest.NewClient(), nil)
	require.NoError(t, err)

	big := bytes.Repeat([]byte{'x'}, 1<<20+1)
	req := httptest.NewRequest(http.MethodPost, "/torrents/upload", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, api.ErrCodePayloadTooLarge, body.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	resp := postJSON(t, srv.URL+"/torrents", AddRequest{Source: testMagnet})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, 1, status.Torrents)
	assert.Equal(t, 0, status.Subscribers)
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func TestEventStream(t *testing.T) {
	srv, d, _ := setupTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "retry: 3000\n", first)

	var snap snapshot.Snapshot
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader)), &snap))
	assert.Empty(t, snap.Torrents)

	assert.Eventually(t, func() bool {
		return d.Service().Hub().Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = d.Service().Add(context.Background(), testMagnet)
	require.NoError(t, err)

	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader)), &snap))
	assert.Len(t, snap.Torrents, 1)

	cancel()
	assert.Eventually(t, func() bool {
		return d.Service().Hub().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	doRequest(t, http.MethodGet, srv.URL+"/torrents", nil, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "torrentio_http_requests_total")
}

func TestDownloadsHidesDotfiles(t *testing.T) {
	srv, d, _ := setupTestServer(t)
	dir := d.config.Storage.DownloadDir

	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mkv"), []byte("frames"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".torrentio-session.yaml"), []byte("secret"), 0644))

	resp := doRequest(t, http.MethodGet, srv.URL+"/downloads/movie.mkv", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(body))

	resp = doRequest(t, http.MethodGet, srv.URL+"/downloads/.torrentio-session.yaml", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
