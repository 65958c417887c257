// Package overlay implements the FilesystemOverlay external collaborator:
// the mounted SD filesystem as seen by FsHandlers, once Mode is
// AppMounted.
package overlay

import (
	"io"
	"os"
	"syscall"
)

// Entry describes one directory entry returned by ListDir.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// WriteFile is the handle OpenWrite returns. Sync must push whatever has
// been written so far to stable storage while the handle is still open —
// callers that need a durable write call Sync before Close, the same order
// config.Store.Save fsyncs its temp file before renaming it into place.
type WriteFile interface {
	io.Writer
	io.Closer
	Sync() error
}

// FilesystemOverlay is the external collaborator named in §6: mount/unmount
// lifecycle plus the file operations FsHandlers needs. FsHandlers only
// borrows this while Mode == AppMounted, per the ownership rule in §3.
type FilesystemOverlay interface {
	Mount(mountPoint string) error
	Unmount() error

	ListDir(path string) ([]Entry, error)
	Stat(path string) (Entry, error)
	OpenRead(path string) (io.ReadCloser, error)
	OpenWrite(path string) (WriteFile, error)
	Unlink(path string) error
	Mkdir(path string) error
	Rename(oldPath, newPath string) error

	// FreeBytes / TotalBytes support the supplemented GET /api/fs/status
	// endpoint (§5 of SPEC_FULL).
	FreeBytes() (uint64, error)
	TotalBytes() (uint64, error)
}

// OS is the production FilesystemOverlay: a thin wrapper around os.* rooted
// at mountPoint, exactly the role the teacher's BaseDriver plays for a
// format driver, minus any format-specific bookkeeping — mount/unmount here
// is binding/releasing the real OS mount, not laying down a filesystem.
type OS struct {
	mountPoint string
	mounted    bool
	mount      func(mountPoint string) error
	unmount    func() error
}

// NewOS creates an OS overlay. mountFn/unmountFn perform the actual
// SD-SPI/SDMMC mount syscalls; they're injected so tests can use a no-op
// pair against a plain temp directory.
func NewOS(mountFn func(string) error, unmountFn func() error) *OS {
	return &OS{mount: mountFn, unmount: unmountFn}
}

func (o *OS) Mount(mountPoint string) error {
	if o.mount != nil {
		if err := o.mount(mountPoint); err != nil {
			return err
		}
	}
	o.mountPoint = mountPoint
	o.mounted = true
	return nil
}

func (o *OS) Unmount() error {
	o.mounted = false
	if o.unmount != nil {
		return o.unmount()
	}
	return nil
}

func (o *OS) ListDir(path string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: de.Name(), IsDir: de.IsDir(), Size: info.Size()})
	}
	return out, nil
}

func (o *OS) Stat(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: info.Name(), IsDir: info.IsDir(), Size: info.Size()}, nil
}

func (o *OS) OpenRead(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (o *OS) OpenWrite(path string) (WriteFile, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (o *OS) Unlink(path string) error {
	return os.Remove(path)
}

func (o *OS) Mkdir(path string) error {
	return os.Mkdir(path, 0o755)
}

func (o *OS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (o *OS) FreeBytes() (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(o.mountPoint, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func (o *OS) TotalBytes() (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(o.mountPoint, &st); err != nil {
		return 0, err
	}
	return st.Blocks * uint64(st.Bsize), nil
}
