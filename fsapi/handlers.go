// Package fsapi translates HTTP requests into path-safe filesystem calls,
// per §4.5: every handler consults the Arbiter and the FsOpLock before
// touching the filesystem overlay, and every path is run through PathGuard.
package fsapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yarrco/ewmill/arbiter"
	"github.com/yarrco/ewmill/fsoplock"
	"github.com/yarrco/ewmill/opkind"
	"github.com/yarrco/ewmill/overlay"
	"github.com/yarrco/ewmill/pathguard"
	"github.com/yarrco/ewmill/upload"
)

// Handlers wires the Arbiter, FsOpLock, and mount point into the endpoint
// table of §4.5.
type Handlers struct {
	Arbiter    *arbiter.Arbiter
	FsLock     *fsoplock.Lock
	MountPoint string
	Log        *logrus.Entry
}

// RegisterRoutes attaches every endpoint named in §4.5 and §5's
// supplemented features to mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/fs/list", h.List)
	mux.HandleFunc("/api/fs/mkdir", h.Mkdir)
	mux.HandleFunc("/api/fs/delete", h.Delete)
	mux.HandleFunc("/api/fs/rename", h.Rename)
	mux.HandleFunc("/api/fs/download", h.Download)
	mux.HandleFunc("/api/fs/upload_raw", h.UploadRaw)
	mux.HandleFunc("/api/fs/upload", h.Upload)
	mux.HandleFunc("/api/fs/status", h.Status)
	mux.HandleFunc("/api/sd/selftest", h.SelfTest)
	mux.HandleFunc("/api/usb/attach", h.Attach)
	mux.HandleFunc("/api/usb/detach", h.Detach)
}

func (h *Handlers) logger() *logrus.Entry {
	if h.Log != nil {
		return h.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

type okResponse struct {
	OK   bool   `json:"ok"`
	Mode string `json:"mode,omitempty"`
}

type errResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates an OpError's Kind into the HTTP status table of §7;
// a non-OpError is surfaced as a generic 500 without leaking its text.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	opErr, ok := err.(opkind.OpError)
	if !ok {
		h.logger().WithError(err).Error("unclassified error crossed a handler boundary")
		writeJSON(w, 500, errResponse{Error: "WRITE_FAIL"})
		return
	}
	if opErr.Kind().HTTPStatus() >= 500 {
		h.logger().WithError(opErr).Error("operation failed")
	}
	writeJSON(w, opErr.Kind().HTTPStatus(), errResponse{Error: string(opErr.Kind())})
}

// withMutation performs the Arbiter gate + FsOpLock try-acquire + PathGuard
// sequence common to every mutating endpoint, then calls op with the
// normalized virtual path and the live overlay. It is the single place that
// implements steps 1-3 and 5 of the handler execution order in §4.5.
func (h *Handlers) withMutation(w http.ResponseWriter, virtualPath string, op func(fs overlay.FilesystemOverlay, fullPath string) error) {
	if h.Arbiter.CurrentMode() != arbiter.ModeAppMounted {
		h.writeError(w, opkind.New(opkind.NotMounted))
		return
	}
	if !h.FsLock.TryAcquire() {
		h.writeError(w, opkind.New(opkind.FileopInProgress))
		return
	}
	defer h.FsLock.Release()

	normalized, err := pathguard.Normalize(virtualPath)
	if err != nil {
		h.writeError(w, err)
		return
	}

	_, err = arbiter.WithAppFS(h.Arbiter, func(fs overlay.FilesystemOverlay) (struct{}, error) {
		full := pathguard.MountPath(h.MountPoint, normalized)
		return struct{}{}, op(fs, full)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, 200, okResponse{OK: true})
}

type listItem struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

// List streams {path, items:[...]} as chunked JSON, per §4.5's endpoint
// table — flushing after each item so a large directory doesn't force the
// client to wait for the whole listing to buffer.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	if h.Arbiter.CurrentMode() != arbiter.ModeAppMounted {
		h.writeError(w, opkind.New(opkind.NotMounted))
		return
	}

	normalized, err := pathguard.Normalize(r.URL.Query().Get("path"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := arbiter.WithAppFS(h.Arbiter, func(fs overlay.FilesystemOverlay) ([]overlay.Entry, error) {
		full := pathguard.MountPath(h.MountPoint, normalized)
		return fs.ListDir(full)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	flusher, _ := w.(http.Flusher)

	fmt.Fprintf(w, `{"path":%s,"items":[`, mustJSONString(normalized))
	for i, e := range entries {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		item := listItem{Name: e.Name, Type: "file"}
		if e.IsDir {
			item.Type = "dir"
		} else {
			size := e.Size
			item.Size = &size
		}
		data, _ := json.Marshal(item)
		w.Write(data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "]}")
}

func mustJSONString(s string) []byte {
	data, _ := json.Marshal(s)
	return data
}

type mkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func (h *Handlers) Mkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, opkind.New(opkind.BadBody))
		return
	}
	if req.Path == "" {
		h.writeError(w, opkind.New(opkind.PathRequired))
		return
	}
	if req.Name == "" {
		h.writeError(w, opkind.New(opkind.NameRequired))
		return
	}
	name, err := pathguard.SanitizeName(req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.withMutation(w, joinVirtual(req.Path, name), func(fs overlay.FilesystemOverlay, full string) error {
		if err := fs.Mkdir(full); err != nil {
			return opkind.NewFromError(opkind.MkdirFail, err)
		}
		return nil
	})
}

type deleteRequest struct {
	Path string `json:"path"`
}

// Delete removes a file. Directory deletes are out of scope per §9's open
// question: the source rejects directories explicitly, and so do we.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, opkind.New(opkind.BadBody))
		return
	}
	if req.Path == "" {
		h.writeError(w, opkind.New(opkind.PathRequired))
		return
	}

	h.withMutation(w, req.Path, func(fs overlay.FilesystemOverlay, full string) error {
		stat, err := fs.Stat(full)
		if err != nil {
			return opkind.NewFromError(opkind.NotFound, err)
		}
		if stat.IsDir {
			return opkind.New(opkind.IsDirectory)
		}
		if err := fs.Unlink(full); err != nil {
			return opkind.NewFromError(opkind.DeleteFail, err)
		}
		return nil
	})
}

type renameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

// Rename only supports same-parent renames, per §9's open question: the
// source only renames within the same parent, and so do we.
func (h *Handlers) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, opkind.New(opkind.BadBody))
		return
	}
	if req.Path == "" {
		h.writeError(w, opkind.New(opkind.PathRequired))
		return
	}
	if req.NewName == "" {
		h.writeError(w, opkind.New(opkind.NewNameRequired))
		return
	}
	newName, err := pathguard.SanitizeName(req.NewName)
	if err != nil {
		h.writeError(w, err)
		return
	}

	normalized, err := pathguard.Normalize(req.Path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	parent, _ := splitVirtual(normalized)

	h.withMutation(w, req.Path, func(fs overlay.FilesystemOverlay, oldFull string) error {
		newFull := pathguard.MountPath(h.MountPoint, joinVirtual(parent, newName))
		if err := fs.Rename(oldFull, newFull); err != nil {
			return opkind.NewFromError(opkind.RenameFail, err)
		}
		return nil
	})
}

// Download streams a file with Content-Disposition: attachment.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	if h.Arbiter.CurrentMode() != arbiter.ModeAppMounted {
		h.writeError(w, opkind.New(opkind.NotMounted))
		return
	}

	normalized, err := pathguard.Normalize(r.URL.Query().Get("path"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	_, err = arbiter.WithAppFS(h.Arbiter, func(fs overlay.FilesystemOverlay) (struct{}, error) {
		full := pathguard.MountPath(h.MountPoint, normalized)
		stat, statErr := fs.Stat(full)
		if statErr != nil {
			return struct{}{}, opkind.NewFromError(opkind.NotFound, statErr)
		}
		if stat.IsDir {
			return struct{}{}, opkind.New(opkind.IsDirectory)
		}
		rc, openErr := fs.OpenRead(full)
		if openErr != nil {
			return struct{}{}, opkind.NewFromError(opkind.OpenFail, openErr)
		}
		defer rc.Close()

		_, name := splitVirtual(normalized)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		w.WriteHeader(200)
		buf := make([]byte, upload.RecvBufSize)
		for {
			n, readErr := rc.Read(buf)
			if n > 0 {
				w.Write(buf[:n])
			}
			if readErr != nil {
				break
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		h.writeError(w, err)
	}
}

// UploadRaw implements POST /api/fs/upload_raw?path=&name=&overwrite=.
func (h *Handlers) UploadRaw(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		h.writeError(w, opkind.New(opkind.NoName))
		return
	}
	name, err := pathguard.SanitizeName(name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.ContentLength == 0 {
		h.writeError(w, opkind.New(opkind.NoBody))
		return
	}

	h.runUpload(w, r, r.URL.Query().Get("path"), name, parseOverwrite(r.URL.Query()), func(fs overlay.FilesystemOverlay, staging, final string) error {
		p, pipeErr := upload.New()
		if pipeErr != nil {
			return pipeErr
		}
		return upload.StageAndFinalize(fs, staging, final, func(w io.Writer) error {
			return p.RunRaw(r.Context(), r.Body, r.ContentLength, w)
		})
	})
}

// Upload implements POST /api/fs/upload?path= with a multipart body.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		h.writeError(w, opkind.New(opkind.NoContentType))
		return
	}

	h.runMultipartUpload(w, r, r.URL.Query().Get("path"), contentType)
}

func (h *Handlers) runUpload(w http.ResponseWriter, r *http.Request, virtualDir, name string, overwrite bool, stage func(fs overlay.FilesystemOverlay, staging, final string) error) {
	if h.Arbiter.CurrentMode() != arbiter.ModeAppMounted {
		h.writeError(w, opkind.New(opkind.NotMounted))
		return
	}
	if !h.FsLock.TryAcquire() {
		h.writeError(w, opkind.New(opkind.FileopInProgress))
		return
	}
	defer h.FsLock.Release()

	normalizedDir, err := pathguard.Normalize(virtualDir)
	if err != nil {
		h.writeError(w, err)
		return
	}

	_, err = arbiter.WithAppFS(h.Arbiter, func(fs overlay.FilesystemOverlay) (struct{}, error) {
		finalPath := pathguard.MountPath(h.MountPoint, joinVirtual(normalizedDir, name))
		if conflictErr := checkOverwrite(fs, finalPath, overwrite); conflictErr != nil {
			return struct{}{}, conflictErr
		}
		staging := upload.StagingPath(finalPath)
		return struct{}{}, stage(fs, staging, finalPath)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, 200, okResponse{OK: true})
}

func (h *Handlers) runMultipartUpload(w http.ResponseWriter, r *http.Request, virtualDir, contentType string) {
	if h.Arbiter.CurrentMode() != arbiter.ModeAppMounted {
		h.writeError(w, opkind.New(opkind.NotMounted))
		return
	}
	if !h.FsLock.TryAcquire() {
		h.writeError(w, opkind.New(opkind.FileopInProgress))
		return
	}
	defer h.FsLock.Release()

	normalizedDir, err := pathguard.Normalize(virtualDir)
	if err != nil {
		h.writeError(w, err)
		return
	}

	_, err = arbiter.WithAppFS(h.Arbiter, func(fs overlay.FilesystemOverlay) (struct{}, error) {
		boundary, boundaryErr := upload.ExtractBoundary(contentType)
		if boundaryErr != nil {
			return struct{}{}, boundaryErr
		}

		p, pipeErr := upload.New()
		if pipeErr != nil {
			return struct{}{}, pipeErr
		}

		// The uploaded filename isn't known until the part header has been
		// parsed, so it's staged under a disambiguating token name and
		// renamed into place once RunMultipart returns it.
		var finalPath, stagingPath string

		runErr := func() error {
			tmpStaging := pathguard.MountPath(h.MountPoint, joinVirtual(normalizedDir, uuid.NewString()+".part"))
			dst, openErr := fs.OpenWrite(tmpStaging)
			if openErr != nil {
				return opkind.NewFromError(opkind.OpenFail, openErr)
			}

			name, multipartErr := p.RunMultipart(r.Context(), r.Body, boundary, dst)
			var syncErr error
			if multipartErr == nil {
				syncErr = dst.Sync()
			}
			closeErr := dst.Close()
			if multipartErr != nil {
				_ = fs.Unlink(tmpStaging)
				return multipartErr
			}
			if syncErr != nil {
				_ = fs.Unlink(tmpStaging)
				return opkind.NewFromError(opkind.WriteFail, syncErr)
			}
			if closeErr != nil {
				_ = fs.Unlink(tmpStaging)
				return opkind.NewFromError(opkind.WriteFail, closeErr)
			}

			cleanName, sanitizeErr := pathguard.SanitizeName(name)
			if sanitizeErr != nil {
				_ = fs.Unlink(tmpStaging)
				return sanitizeErr
			}

			candidate := pathguard.MountPath(h.MountPoint, joinVirtual(normalizedDir, cleanName))
			if conflictErr := checkOverwrite(fs, candidate, false); conflictErr != nil {
				_ = fs.Unlink(tmpStaging)
				return conflictErr
			}
			finalPath = candidate
			stagingPath = tmpStaging
			return nil
		}()
		if runErr != nil {
			return struct{}{}, runErr
		}

		if err := fs.Rename(stagingPath, finalPath); err != nil {
			_ = fs.Unlink(stagingPath)
			return struct{}{}, opkind.NewFromError(opkind.RenameFail, err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, 200, okResponse{OK: true})
}

func checkOverwrite(fs overlay.FilesystemOverlay, finalPath string, overwrite bool) error {
	stat, err := fs.Stat(finalPath)
	if err != nil {
		return nil // doesn't exist: proceed
	}
	if stat.IsDir {
		return opkind.New(opkind.IsDirectory)
	}
	if !overwrite {
		return opkind.New(opkind.FileExists)
	}
	if err := fs.Unlink(finalPath); err != nil {
		return opkind.NewFromError(opkind.DeleteFail, err)
	}
	return nil
}

func parseOverwrite(q url.Values) bool {
	v := q.Get("overwrite")
	b, _ := strconv.ParseBool(v)
	return b
}

// Attach requests UsbExposed mode.
func (h *Handlers) Attach(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, arbiter.ModeUsbExposed)
}

// Detach requests AppMounted mode.
func (h *Handlers) Detach(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, arbiter.ModeAppMounted)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, target arbiter.Mode) {
	if err := h.Arbiter.TryRequest(r.Context(), target); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, 200, okResponse{OK: true, Mode: h.Arbiter.CurrentMode().String()})
}

type statusResponse struct {
	Mode       string `json:"mode"`
	Mounted    bool   `json:"mounted"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// Status implements the supplemented GET /api/fs/status endpoint.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	mode := h.Arbiter.CurrentMode()
	resp := statusResponse{Mode: mode.String(), Mounted: mode == arbiter.ModeAppMounted}

	if resp.Mounted {
		_, _ = arbiter.WithAppFS(h.Arbiter, func(fs overlay.FilesystemOverlay) (struct{}, error) {
			resp.TotalBytes, _ = fs.TotalBytes()
			resp.FreeBytes, _ = fs.FreeBytes()
			return struct{}{}, nil
		})
	}
	writeJSON(w, 200, resp)
}

// SelfTest implements the supplemented POST /api/sd/selftest endpoint.
func (h *Handlers) SelfTest(w http.ResponseWriter, r *http.Request) {
	sizeMB := 1
	if v := r.URL.Query().Get("size_mb"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			sizeMB = parsed
		}
	}

	result, err := h.Arbiter.SelfTest(r.Context(), sizeMB)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, 200, result)
}

func joinVirtual(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func splitVirtual(p string) (dir, name string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			if i == 0 {
				return "/", p[1:]
			}
			return p[:i], p[i+1:]
		}
	}
	return "/", p
}
