package fsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yarrco/ewmill/arbiter"
	"github.com/yarrco/ewmill/fsoplock"
	"github.com/yarrco/ewmill/msc"
	"github.com/yarrco/ewmill/overlay"
	"github.com/yarrco/ewmill/usbstack"
	fixtures "github.com/yarrco/ewmill/testing"
)

func newTestHandlers(t *testing.T) *Handlers {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	adapter := msc.NewBlockAdapter(dev, 8)
	a := arbiter.New(arbiter.Config{
		Device:     dev,
		Adapter:    adapter,
		USBStack:   &usbstack.Noop{},
		Overlay:    overlay.NewMemory(),
		MountPoint: "/mnt/sd",
		FsLock:     fsoplock.New(),
		StartMode:  arbiter.ModeAppMounted,
	})
	return &Handlers{Arbiter: a, FsLock: fsoplock.New(), MountPoint: "/mnt/sd"}
}

func TestHandlers_MkdirThenListShowsEntry(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(mkdirRequest{Path: "/", Name: "docs"})
	req := httptest.NewRequest(http.MethodPost, "/api/fs/mkdir", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Mkdir(w, req)
	require.Equal(t, 200, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/fs/list?path=/", nil)
	w2 := httptest.NewRecorder()
	h.List(w2, req2)
	require.Equal(t, 200, w2.Code)
	assert.Contains(t, w2.Body.String(), `"docs"`)
}

func TestHandlers_MkdirRejectsEmptyName(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(mkdirRequest{Path: "/", Name: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/fs/mkdir", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Mkdir(w, req)

	assert.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "NAME_REQUIRED")
}

func TestHandlers_MkdirRefusedWhenNotMounted(t *testing.T) {
	h := newTestHandlers(t)
	require.NoError(t, h.Arbiter.TryRequest(context.Background(), arbiter.ModeUsbExposed))

	body, _ := json.Marshal(mkdirRequest{Path: "/", Name: "docs"})
	req := httptest.NewRequest(http.MethodPost, "/api/fs/mkdir", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Mkdir(w, req)

	assert.Equal(t, 409, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_MOUNTED")
}

func TestHandlers_UploadRawThenDownloadRoundTrips(t *testing.T) {
	h := newTestHandlers(t)

	payload := []byte("hello world")
	req := httptest.NewRequest(http.MethodPost, "/api/fs/upload_raw?path=/&name=greeting.txt", bytes.NewReader(payload))
	req.ContentLength = int64(len(payload))
	w := httptest.NewRecorder()
	h.UploadRaw(w, req)
	require.Equal(t, 200, w.Code, w.Body.String())

	req2 := httptest.NewRequest(http.MethodGet, "/api/fs/download?path=/greeting.txt", nil)
	w2 := httptest.NewRecorder()
	h.Download(w2, req2)
	require.Equal(t, 200, w2.Code)
	assert.Equal(t, "hello world", w2.Body.String())
}

func TestHandlers_UploadRawRejectsExistingFileWithoutOverwrite(t *testing.T) {
	h := newTestHandlers(t)

	payload := []byte("v1")
	req := httptest.NewRequest(http.MethodPost, "/api/fs/upload_raw?path=/&name=f.txt", bytes.NewReader(payload))
	req.ContentLength = int64(len(payload))
	w := httptest.NewRecorder()
	h.UploadRaw(w, req)
	require.Equal(t, 200, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/fs/upload_raw?path=/&name=f.txt", bytes.NewReader(payload))
	req2.ContentLength = int64(len(payload))
	w2 := httptest.NewRecorder()
	h.UploadRaw(w2, req2)
	assert.Equal(t, 409, w2.Code)
	assert.Contains(t, w2.Body.String(), "FILE_EXISTS")
}

func TestHandlers_DeleteRejectsDirectory(t *testing.T) {
	h := newTestHandlers(t)

	mkBody, _ := json.Marshal(mkdirRequest{Path: "/", Name: "docs"})
	mkReq := httptest.NewRequest(http.MethodPost, "/api/fs/mkdir", bytes.NewReader(mkBody))
	mkW := httptest.NewRecorder()
	h.Mkdir(mkW, mkReq)
	require.Equal(t, 200, mkW.Code)

	delBody, _ := json.Marshal(deleteRequest{Path: "/docs"})
	delReq := httptest.NewRequest(http.MethodPost, "/api/fs/delete", bytes.NewReader(delBody))
	delW := httptest.NewRecorder()
	h.Delete(delW, delReq)
	assert.Equal(t, 409, delW.Code)
	assert.Contains(t, delW.Body.String(), "IS_DIRECTORY")
}

func TestHandlers_AttachDetachTransitionsMode(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/usb/attach", nil)
	w := httptest.NewRecorder()
	h.Attach(w, req)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, arbiter.ModeUsbExposed, h.Arbiter.CurrentMode())

	req2 := httptest.NewRequest(http.MethodPost, "/api/usb/detach", nil)
	w2 := httptest.NewRecorder()
	h.Detach(w2, req2)
	require.Equal(t, 200, w2.Code)
	assert.Equal(t, arbiter.ModeAppMounted, h.Arbiter.CurrentMode())
}

func TestHandlers_StatusReportsMode(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/fs/status", nil)
	w := httptest.NewRecorder()
	h.Status(w, req)
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"AppMounted"`)
	assert.Contains(t, w.Body.String(), `"mounted":true`)
}
