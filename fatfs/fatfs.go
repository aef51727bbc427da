package fatfs

import (
	"context"
	"sync"

	"github.com/diskfs/go-diskfs/backend"
	"github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/filesystem/fat32"

	"github.com/ardnew/mscfs/diskio"
	"github.com/ardnew/mscfs/pkg"
)

// volume is the filesystem state of one physical drive.
type volume struct {
	pdrv  uint8
	drive *diskio.Drive
	fs    *fat32.FileSystem // nil until first use
	cwd   string
}

// Volumes is a set of FAT volumes, one per diskio drive, addressed by
// paths with an optional "N:" drive prefix. Paths without a prefix refer
// to the current drive, and relative paths resolve against the drive's
// working directory.
//
// A volume is mounted lazily by the first operation that needs it and
// dropped by Unmount. Volumes serializes all operations.
type Volumes struct {
	disks *diskio.Disks

	mu      sync.Mutex
	ctx     context.Context
	vols    []*volume
	current uint8
}

// New creates a volume set over the drives of disks.
func New(disks *diskio.Disks) *Volumes {
	v := &Volumes{
		disks: disks,
		ctx:   context.Background(),
		vols:  make([]*volume, disks.NumDrives()),
	}
	for i := range v.vols {
		v.vols[i] = &volume{pdrv: uint8(i), cwd: "/"}
	}
	return v
}

// SetContext sets the context used for the block transfers of later
// operations.
func (v *Volumes) SetContext(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ctx = ctx
	for _, vol := range v.vols {
		vol.drive = nil
		vol.fs = nil
	}
}

// NumDrives returns the number of drives.
func (v *Volumes) NumDrives() int {
	return len(v.vols)
}

// Disks returns the underlying drive set.
func (v *Volumes) Disks() *diskio.Disks {
	return v.disks
}

// CurrentDrive returns the current drive number.
func (v *Volumes) CurrentDrive() uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// ChangeDrive makes pdrv the current drive. The drive need not be ready.
func (v *Volumes) ChangeDrive(pdrv uint8) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if int(pdrv) >= len(v.vols) {
		return newError("chdrive", displayPath(pdrv, ""), InvalidDrive, nil)
	}
	v.current = pdrv
	return nil
}

// Unmount drops the cached filesystem of pdrv and resets its working
// directory. The next operation on the drive mounts it again.
func (v *Volumes) Unmount(pdrv uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if int(pdrv) >= len(v.vols) {
		return
	}
	vol := v.vols[pdrv]
	if vol.fs != nil {
		pkg.LogDebug(pkg.ComponentFS, "volume unmounted", "pdrv", pdrv)
	}
	vol.fs = nil
	vol.drive = nil
	vol.cwd = "/"
}

// Mount mounts pdrv now instead of on first use.
func (v *Volumes) Mount(pdrv uint8) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if int(pdrv) >= len(v.vols) {
		return newError("mount", displayPath(pdrv, ""), InvalidDrive, nil)
	}
	_, err := v.mountLocked("mount", v.vols[pdrv])
	return err
}

// Format creates a new FAT32 filesystem with the given label on pdrv,
// replacing whatever it held.
func (v *Volumes) Format(pdrv uint8, label string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if int(pdrv) >= len(v.vols) {
		return newError("format", displayPath(pdrv, ""), InvalidDrive, nil)
	}
	vol := v.vols[pdrv]
	drive, err := v.driveLocked("format", vol)
	if err != nil {
		return err
	}
	if v.disks.Status(pdrv)&diskio.StatusProtect != 0 {
		return newError("format", displayPath(pdrv, ""), WriteProtected, nil)
	}

	fs, err := fat32.Create(storage(drive), drive.Size(), 0, drive.SectorSize(), label)
	if err != nil {
		return newError("format", displayPath(pdrv, ""), MkfsAborted, err)
	}
	if err := drive.Sync(); err != nil {
		return wrap("format", displayPath(pdrv, ""), err)
	}
	vol.fs = fs
	vol.cwd = "/"

	pkg.LogInfo(pkg.ComponentFS, "volume formatted", "pdrv", pdrv, "label", label)
	return nil
}

// driveLocked returns the byte view of vol's drive if the drive is ready.
func (v *Volumes) driveLocked(op string, vol *volume) (*diskio.Drive, error) {
	status := v.disks.Status(vol.pdrv)
	if !status.Ready() {
		vol.fs = nil
		return nil, newError(op, displayPath(vol.pdrv, ""), NotReady, diskio.ErrNotReady)
	}
	if vol.drive == nil {
		vol.drive = v.disks.Drive(vol.pdrv).WithContext(v.ctx)
	}
	return vol.drive, nil
}

// storage presents drive as the backing store of a filesystem. Write
// protection is reported by the drive itself.
func storage(drive *diskio.Drive) backend.Storage {
	return file.New(drive, false)
}

// mountLocked returns vol's filesystem, reading it from the drive if it is
// not cached.
func (v *Volumes) mountLocked(op string, vol *volume) (*fat32.FileSystem, error) {
	drive, err := v.driveLocked(op, vol)
	if err != nil {
		return nil, err
	}
	if vol.fs != nil {
		return vol.fs, nil
	}

	size, ssize := drive.Size(), drive.SectorSize()
	fs, err := fat32.Read(storage(drive), size, 0, ssize)
	if err != nil {
		if diskio.IsNotReady(err) {
			return nil, wrap(op, displayPath(vol.pdrv, ""), err)
		}
		return nil, newError(op, displayPath(vol.pdrv, ""), NoFilesystem, err)
	}
	vol.fs = fs

	pkg.LogInfo(pkg.ComponentFS, "volume mounted",
		"pdrv", vol.pdrv, "label", fs.Label(), "bytes", size)
	return fs, nil
}

// resolved is a path located on a mounted volume.
type resolved struct {
	vol  *volume
	fs   *fat32.FileSystem
	path string // absolute within the volume
	show string // with drive prefix, for errors
}

// resolveLocked locates p, mounting its volume if needed.
func (v *Volumes) resolveLocked(op, p string) (resolved, error) {
	pdrv := int(v.current)
	rest := p
	if n, r, ok := splitDrive(p); ok {
		pdrv, rest = n, r
	}
	if pdrv < 0 || pdrv >= len(v.vols) {
		return resolved{}, newError(op, p, InvalidDrive, nil)
	}
	if !validName(rest) {
		return resolved{}, newError(op, p, InvalidName, nil)
	}

	vol := v.vols[pdrv]
	abs := join(vol.cwd, rest)
	fs, err := v.mountLocked(op, vol)
	if err != nil {
		return resolved{}, err
	}
	return resolved{vol: vol, fs: fs, path: abs, show: displayPath(vol.pdrv, abs)}, nil
}
