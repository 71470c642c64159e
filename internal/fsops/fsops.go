package fsops

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
)

// FS is an abstract filesystem used by storage, checkpoints and tests.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Stat(name string) (fs.FileInfo, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	MkdirAll(path string, perm os.FileMode) error
}

// ---------- OS-backed implementation ----------

type OS struct{}

func NewOS() OS { return OS{} }

func (OS) ReadFile(name string) ([]byte, error) { return os.ReadFile(filepath.Clean(name)) }
func (OS) WriteFile(name string, b []byte, p os.FileMode) error {
	return os.WriteFile(filepath.Clean(name), b, p)
}
func (OS) Stat(name string) (fs.FileInfo, error)     { return os.Stat(filepath.Clean(name)) }
func (OS) Rename(a, b string) error                  { return os.Rename(a, b) }
func (OS) Remove(name string) error                  { return os.Remove(filepath.Clean(name)) }
func (OS) MkdirAll(path string, p os.FileMode) error { return os.MkdirAll(filepath.Clean(path), p) }

// ---------- In-memory implementation (for tests) ----------

type Mem struct{ Fs afero.Fs }

func NewMem() Mem { return Mem{Fs: afero.NewMemMapFs()} }

func (m Mem) ReadFile(name string) ([]byte, error) { return afero.ReadFile(m.Fs, filepath.Clean(name)) }
func (m Mem) WriteFile(name string, b []byte, p os.FileMode) error {
	return afero.WriteFile(m.Fs, filepath.Clean(name), b, p)
}
func (m Mem) Stat(name string) (fs.FileInfo, error) { return m.Fs.Stat(filepath.Clean(name)) }
func (m Mem) Rename(a, b string) error              { return m.Fs.Rename(filepath.Clean(a), filepath.Clean(b)) }
func (m Mem) Remove(name string) error              { return m.Fs.Remove(filepath.Clean(name)) }
func (m Mem) MkdirAll(path string, p os.FileMode) error {
	return m.Fs.MkdirAll(filepath.Clean(path), p)
}

// ---------- High-level façade ----------

type Ops struct{ FS FS }

func NewOps(fs FS) Ops { return Ops{FS: fs} }

var tempCounter atomic.Uint64

// WriteFileAtomic writes data next to path and renames it into place, so a
// reader sees either the old content or the new, never a partial file.
func (o Ops) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := o.EnsureDir(path); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	temp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(tempCounter.Add(1), 36)
	if err := o.FS.WriteFile(temp, data, perm); err != nil {
		return errors.Wrapf(err, "write %s", temp)
	}
	if err := o.FS.Rename(temp, path); err != nil {
		_ = o.FS.Remove(temp)
		return errors.Wrapf(err, "rename %s", temp)
	}
	return nil
}

// ReadFileIfExists returns (nil, false, nil) when path does not exist.
func (o Ops) ReadFileIfExists(path string) ([]byte, bool, error) {
	data, err := o.FS.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (o Ops) EnsureDir(path string) error { return o.FS.MkdirAll(filepath.Dir(path), 0o755) }
func (o Ops) FileExists(p string) bool    { _, err := o.FS.Stat(p); return err == nil }
