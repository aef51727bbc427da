package diskio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"
)

// Drive is a byte-addressed view of one physical drive. It implements
// fs.File together with io.ReaderAt, io.WriterAt and io.Seeker for
// filesystem libraries that expect a file-like device. Accesses that do not
// cover whole sectors are done by read-modify-write.
type Drive struct {
	disks *Disks
	pdrv  uint8
	ctx   context.Context

	mu  sync.Mutex
	pos int64
	buf []byte
}

// Drive returns a byte view of drive pdrv. Operations use
// context.Background; see WithContext.
func (d *Disks) Drive(pdrv uint8) *Drive {
	return &Drive{disks: d, pdrv: pdrv, ctx: context.Background()}
}

// WithContext returns a copy of v whose transfers use ctx.
func (v *Drive) WithContext(ctx context.Context) *Drive {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &Drive{disks: v.disks, pdrv: v.pdrv, ctx: ctx, pos: v.pos}
}

// Number returns the physical drive number.
func (v *Drive) Number() uint8 {
	return v.pdrv
}

// SectorSize returns the sector size, or 0 if the drive is not ready.
func (v *Drive) SectorSize() int64 {
	size, res := v.disks.SectorSize(v.pdrv)
	if res != OK {
		return 0
	}
	return int64(size)
}

// Size returns the drive capacity in bytes, or 0 if the drive is not ready.
func (v *Drive) Size() int64 {
	count, res := v.disks.SectorCount(v.pdrv)
	if res != OK {
		return 0
	}
	return int64(count) * v.SectorSize()
}

// Sync flushes the device's write cache.
func (v *Drive) Sync() error {
	return resultErr("sync", v.disks.Sync(v.ctx, v.pdrv))
}

// ReadAt reads len(p) bytes starting at byte offset off.
func (v *Drive) ReadAt(p []byte, off int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transfer(p, off, false)
}

// WriteAt writes len(p) bytes starting at byte offset off.
func (v *Drive) WriteAt(p []byte, off int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transfer(p, off, true)
}

// Read reads from the current position and advances it.
func (v *Drive) Read(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.transfer(p, v.pos, false)
	v.pos += int64(n)
	return n, err
}

// Stat describes the drive as a file named after its drive prefix.
func (v *Drive) Stat() (fs.FileInfo, error) {
	if !v.disks.Status(v.pdrv).Ready() {
		return nil, fmt.Errorf("drive %d: %w", v.pdrv, ErrNotReady)
	}
	return driveInfo{name: fmt.Sprintf("%d:", v.pdrv), size: v.Size()}, nil
}

// Close does nothing. The drive stays usable until it is unplugged.
func (v *Drive) Close() error {
	return nil
}

// driveInfo is the fs.FileInfo of a Drive.
type driveInfo struct {
	name string
	size int64
}

func (i driveInfo) Name() string       { return i.name }
func (i driveInfo) Size() int64        { return i.size }
func (i driveInfo) Mode() fs.FileMode  { return fs.ModeDevice | 0o600 }
func (i driveInfo) ModTime() time.Time { return time.Time{} }
func (i driveInfo) IsDir() bool        { return false }
func (i driveInfo) Sys() any           { return nil }

// Seek moves the position used by Read. ReadAt and WriteAt ignore it;
// filesystem libraries use Seek(0, io.SeekEnd) to find the size.
func (v *Drive) Seek(offset int64, whence int) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = v.pos
	case io.SeekEnd:
		base = v.Size()
	default:
		return v.pos, fmt.Errorf("seek whence %d: %w", whence, ErrParameter)
	}
	if base+offset < 0 {
		return v.pos, fmt.Errorf("seek to %d: %w", base+offset, ErrParameter)
	}
	v.pos = base + offset
	return v.pos, nil
}

// transfer moves p to or from the drive, one run of whole sectors at a
// time, with partial sectors at either end read and patched first.
func (v *Drive) transfer(p []byte, off int64, write bool) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("offset %d: %w", off, ErrParameter)
	}
	ssize := v.SectorSize()
	if ssize == 0 {
		return 0, fmt.Errorf("drive %d: %w", v.pdrv, ErrNotReady)
	}
	size := v.Size()
	if off >= size {
		if write {
			return 0, fmt.Errorf("offset %d: %w", off, io.ErrShortWrite)
		}
		return 0, io.EOF
	}

	var short error
	if off+int64(len(p)) > size {
		p = p[:size-off]
		short = io.EOF
		if write {
			short = io.ErrShortWrite
		}
	}

	done := 0
	for done < len(p) {
		pos := off + int64(done)
		sector := pos / ssize
		within := pos % ssize
		remain := int64(len(p) - done)

		if within == 0 && remain >= ssize {
			// Aligned run: move as many whole sectors as fit in one command
			count := min(remain/ssize, 0xFFFF)
			n := int(count * ssize)
			if err := v.sectors(p[done:done+n], sector, count, write); err != nil {
				return done, err
			}
			done += n
			continue
		}

		// Partial sector
		if int64(len(v.buf)) < ssize {
			v.buf = make([]byte, ssize)
		}
		scratch := v.buf[:ssize]
		if err := v.sectors(scratch, sector, 1, false); err != nil {
			return done, err
		}
		n := int(min(ssize-within, remain))
		if write {
			copy(scratch[within:], p[done:done+n])
			if err := v.sectors(scratch, sector, 1, true); err != nil {
				return done, err
			}
		} else {
			copy(p[done:done+n], scratch[within:])
		}
		done += n
	}

	return done, short
}

func (v *Drive) sectors(buf []byte, sector, count int64, write bool) error {
	var res Result
	if write {
		res = v.disks.Write(v.ctx, v.pdrv, buf, uint32(sector), uint(count))
	} else {
		res = v.disks.Read(v.ctx, v.pdrv, buf, uint32(sector), uint(count))
	}
	op := "read"
	if write {
		op = "write"
	}
	return resultErr(fmt.Sprintf("%s sector %d", op, sector), res)
}

// resultErr wraps the error of a non-OK result with context.
func resultErr(op string, res Result) error {
	if err := res.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsNotReady reports whether err means the drive was not ready.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
