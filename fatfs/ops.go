package fatfs

import (
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/fat32"

	"github.com/ardnew/mscfs/diskio"
	"github.com/ardnew/mscfs/pkg"
)

// rootInfo describes the root directory, which has no directory entry.
type rootInfo struct{}

func (rootInfo) Name() string       { return "/" }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() any           { return nil }

// lookupLocked finds the entry for r.path. It returns the entry and its
// path spelled as stored on disk.
func lookupLocked(op string, r resolved) (os.FileInfo, string, error) {
	if r.path == "/" {
		return rootInfo{}, "/", nil
	}
	dir, name := split(r.path)
	if dir != "/" {
		parent := r
		parent.path = dir
		info, canon, err := lookupLocked(op, parent)
		if err != nil || !info.IsDir() {
			return nil, "", newError(op, r.show, NoPath, nil)
		}
		dir = canon
	}

	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		return nil, "", newError(op, r.show, NoPath, err)
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			return e, childPath(dir, e.Name()), nil
		}
	}
	return nil, childPath(dir, name), newError(op, r.show, NoFile, nil)
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func isDot(name string) bool {
	return name == "." || name == ".."
}

// protectedLocked reports an error if r's drive is write protected.
func (v *Volumes) protectedLocked(op string, r resolved) error {
	if v.disks.Status(r.vol.pdrv)&diskio.StatusProtect != 0 {
		return newError(op, r.show, WriteProtected, diskio.ErrWriteProtected)
	}
	return nil
}

// Getcwd returns the working directory of the current drive with its
// drive prefix, for example "0:/docs".
func (v *Volumes) Getcwd() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return displayPath(v.current, v.vols[v.current].cwd)
}

// Chdir changes the working directory of the drive named by p, or of the
// current drive if p has no prefix. It does not change the current drive.
func (v *Volumes) Chdir(p string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("chdir", p)
	if err != nil {
		return err
	}
	info, canon, err := lookupLocked("chdir", r)
	if err != nil {
		if Code(err) == NoFile {
			return newError("chdir", r.show, NoPath, nil)
		}
		return err
	}
	if !info.IsDir() {
		return newError("chdir", r.show, NoPath, nil)
	}
	r.vol.cwd = canon
	return nil
}

// Stat returns the directory entry for p.
func (v *Volumes) Stat(p string) (os.FileInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("stat", p)
	if err != nil {
		return nil, err
	}
	info, _, err := lookupLocked("stat", r)
	return info, err
}

// ReadDir lists the directory p in on-disk order, without the dot
// entries.
func (v *Volumes) ReadDir(p string) ([]os.FileInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("opendir", p)
	if err != nil {
		return nil, err
	}
	return readDirLocked("opendir", r)
}

func readDirLocked(op string, r resolved) ([]os.FileInfo, error) {
	info, canon, err := lookupLocked(op, r)
	if err != nil {
		if Code(err) == NoFile {
			return nil, newError(op, r.show, NoPath, nil)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, newError(op, r.show, NoPath, nil)
	}
	entries, err := r.fs.ReadDir(canon)
	if err != nil {
		return nil, wrap(op, r.show, err)
	}
	list := entries[:0]
	for _, e := range entries {
		if !isDot(e.Name()) {
			list = append(list, e)
		}
	}
	return list, nil
}

// File is an open file on a volume.
type File struct {
	filesystem.File
	name  string
	drive *diskio.Drive
	write bool
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Close closes the file and, if it was opened for writing, flushes the
// drive's write cache.
func (f *File) Close() error {
	err := f.File.Close()
	if f.write {
		if serr := f.drive.Sync(); err == nil {
			err = serr
		}
	}
	return wrap("close", f.name, err)
}

// Open opens the file p for reading.
func (v *Volumes) Open(p string) (*File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("open", p)
	if err != nil {
		return nil, err
	}
	info, canon, err := lookupLocked("open", r)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, newError("open", r.show, NoFile, nil)
	}
	f, err := r.fs.OpenFile(canon, os.O_RDONLY)
	if err != nil {
		return nil, wrap("open", r.show, err)
	}
	return &File{File: f, name: r.show, drive: r.vol.drive}, nil
}

// Create creates the file p and opens it for writing. It fails with
// Exist if p already exists.
func (v *Volumes) Create(p string) (*File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("open", p)
	if err != nil {
		return nil, err
	}
	canon, err := v.absentLocked("open", r)
	if err != nil {
		return nil, err
	}
	f, err := r.fs.OpenFile(canon, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return nil, wrap("open", r.show, err)
	}
	pkg.LogDebug(pkg.ComponentFS, "file created", "path", r.show)
	return &File{File: f, name: r.show, drive: r.vol.drive, write: true}, nil
}

// absentLocked checks that r may be created: it must not exist, its parent
// must be a directory and the drive must be writable.
func (v *Volumes) absentLocked(op string, r resolved) (string, error) {
	_, canon, err := lookupLocked(op, r)
	switch {
	case err == nil:
		return "", newError(op, r.show, Exist, fs.ErrExist)
	case Code(err) != NoFile:
		return "", err
	}
	if err := v.protectedLocked(op, r); err != nil {
		return "", err
	}
	return canon, nil
}

// Mkdir creates the directory p.
func (v *Volumes) Mkdir(p string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("mkdir", p)
	if err != nil {
		return err
	}
	canon, err := v.absentLocked("mkdir", r)
	if err != nil {
		return err
	}
	if err := r.fs.Mkdir(canon); err != nil {
		return wrap("mkdir", r.show, err)
	}
	if err := r.vol.drive.Sync(); err != nil {
		return wrap("mkdir", r.show, err)
	}
	return nil
}

// Remove removes the file or empty directory p. The root and the working
// directory cannot be removed.
func (v *Volumes) Remove(p string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("unlink", p)
	if err != nil {
		return err
	}
	info, canon, err := lookupLocked("unlink", r)
	if err != nil {
		return err
	}
	if canon == "/" || strings.EqualFold(canon, r.vol.cwd) {
		return newError("unlink", r.show, Denied, nil)
	}
	if info.IsDir() {
		entries, err := readDirLocked("unlink", r)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return newError("unlink", r.show, Denied, nil)
		}
	}
	if err := v.protectedLocked("unlink", r); err != nil {
		return err
	}

	if err := r.fs.Remove(canon); err != nil {
		return wrap("unlink", r.show, err)
	}
	return wrap("unlink", r.show, r.vol.drive.Sync())
}

// Rename renames oldpath to newpath on the same drive. Within one
// directory the entry is renamed in place. A file moved to another
// directory is copied and the original removed; directories can only be
// renamed in place.
func (v *Volumes) Rename(oldpath, newpath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	from, err := v.resolveLocked("rename", oldpath)
	if err != nil {
		return err
	}
	rest := newpath
	if n, r, ok := splitDrive(newpath); ok {
		if n != int(from.vol.pdrv) {
			return newError("rename", newpath, InvalidDrive, nil)
		}
		rest = r
	}
	if !validName(rest) {
		return newError("rename", newpath, InvalidName, nil)
	}
	to := from
	to.path = join(from.vol.cwd, rest)
	to.show = displayPath(from.vol.pdrv, to.path)

	info, src, err := lookupLocked("rename", from)
	if err != nil {
		return err
	}
	if src == "/" {
		return newError("rename", from.show, Denied, nil)
	}
	dst, err := v.absentLocked("rename", to)
	if err != nil {
		return err
	}

	srcDir, _ := split(src)
	dstDir, _ := split(dst)
	if srcDir == dstDir {
		if err := from.fs.Rename(src, dst); err != nil {
			return wrap("rename", from.show, err)
		}
		return wrap("rename", from.show, from.vol.drive.Sync())
	}

	if info.IsDir() {
		return newError("rename", from.show, Denied, nil)
	}
	if err := copyLocked(from.fs, src, dst); err != nil {
		return wrap("rename", from.show, err)
	}
	if err := from.fs.Remove(src); err != nil {
		return wrap("rename", from.show, err)
	}
	pkg.LogDebug(pkg.ComponentFS, "file moved", "from", from.show, "to", to.show)
	return wrap("rename", from.show, from.vol.drive.Sync())
}

// copyLocked copies the file src to the new file dst on one filesystem.
func copyLocked(fsys *fat32.FileSystem, src, dst string) error {
	in, err := fsys.OpenFile(src, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
