package sim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrStorageRange is returned when a block range falls outside the medium.
var ErrStorageRange = errors.New("sim: block range out of bounds")

// Storage is the medium behind a simulated mass storage target.
// Block addresses and lengths are in units of BlockSize.
type Storage interface {
	// BlockSize returns the size of a storage block in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of blocks.
	BlockCount() uint32

	// ReadBlocks fills buf, a whole number of blocks, starting at lba.
	ReadBlocks(lba uint32, buf []byte) error

	// WriteBlocks stores buf, a whole number of blocks, starting at lba.
	WriteBlocks(lba uint32, buf []byte) error

	// Sync flushes any cached writes to the medium.
	Sync() error

	// ReadOnly returns true if the medium rejects writes.
	ReadOnly() bool
}

// checkRange validates that buf covers whole blocks inside the medium and
// returns the byte offset of lba.
func checkRange(s Storage, lba uint32, buf []byte) (int64, error) {
	size := s.BlockSize()
	if size == 0 || len(buf)%int(size) != 0 {
		return 0, io.ErrShortBuffer
	}
	blocks := uint64(len(buf)) / uint64(size)
	if uint64(lba)+blocks > uint64(s.BlockCount()) {
		return 0, fmt.Errorf("lba %d+%d: %w", lba, blocks, ErrStorageRange)
	}
	return int64(lba) * int64(size), nil
}

// MemoryStorage keeps the medium in a byte slice.
type MemoryStorage struct {
	data      []byte
	blockSize uint32
	readOnly  bool
	mutex     sync.RWMutex
}

// NewMemoryStorage creates an in-memory medium of size bytes, rounded down
// to a whole number of blocks.
func NewMemoryStorage(size int64, blockSize uint32) *MemoryStorage {
	size -= size % int64(blockSize)
	return &MemoryStorage{
		data:      make([]byte, size),
		blockSize: blockSize,
	}
}

// BlockSize returns the block size.
func (m *MemoryStorage) BlockSize() uint32 {
	return m.blockSize
}

// BlockCount returns the number of blocks.
func (m *MemoryStorage) BlockCount() uint32 {
	return uint32(len(m.data) / int(m.blockSize))
}

// ReadBlocks copies blocks out of memory.
func (m *MemoryStorage) ReadBlocks(lba uint32, buf []byte) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	off, err := checkRange(m, lba, buf)
	if err != nil {
		return err
	}
	copy(buf, m.data[off:])
	return nil
}

// WriteBlocks copies blocks into memory.
func (m *MemoryStorage) WriteBlocks(lba uint32, buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.readOnly {
		return os.ErrPermission
	}
	off, err := checkRange(m, lba, buf)
	if err != nil {
		return err
	}
	copy(m.data[off:], buf)
	return nil
}

// Sync is a no-op for memory storage.
func (m *MemoryStorage) Sync() error {
	return nil
}

// ReadOnly returns whether the storage is read-only.
func (m *MemoryStorage) ReadOnly() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.readOnly
}

// SetReadOnly sets the read-only flag.
func (m *MemoryStorage) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = readOnly
}

// FileStorage backs the medium with a disk image file.
type FileStorage struct {
	file      *os.File
	blockSize uint32
	blocks    uint32
	readOnly  bool
	mutex     sync.RWMutex
}

// NewFileStorage opens an existing image file.
// If readOnly is true, the file is opened in read-only mode.
func NewFileStorage(path string, blockSize uint32, readOnly bool) (*FileStorage, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileStorage{
		file:      file,
		blockSize: blockSize,
		blocks:    uint32(stat.Size() / int64(blockSize)),
		readOnly:  readOnly,
	}, nil
}

// CreateFileStorage creates (or truncates) an image file of size bytes and
// opens it for reading and writing.
func CreateFileStorage(path string, size int64, blockSize uint32) (*FileStorage, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	size -= size % int64(blockSize)
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, err
	}

	return &FileStorage{
		file:      file,
		blockSize: blockSize,
		blocks:    uint32(size / int64(blockSize)),
	}, nil
}

// BlockSize returns the block size.
func (f *FileStorage) BlockSize() uint32 {
	return f.blockSize
}

// BlockCount returns the number of blocks.
func (f *FileStorage) BlockCount() uint32 {
	return f.blocks
}

// ReadBlocks reads blocks from the image.
func (f *FileStorage) ReadBlocks(lba uint32, buf []byte) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		return os.ErrClosed
	}
	off, err := checkRange(f, lba, buf)
	if err != nil {
		return err
	}
	_, err = f.file.ReadAt(buf, off)
	return err
}

// WriteBlocks writes blocks to the image.
func (f *FileStorage) WriteBlocks(lba uint32, buf []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return os.ErrClosed
	}
	if f.readOnly {
		return os.ErrPermission
	}
	off, err := checkRange(f, lba, buf)
	if err != nil {
		return err
	}
	_, err = f.file.WriteAt(buf, off)
	return err
}

// Sync flushes file writes to disk.
func (f *FileStorage) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil || f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// ReadOnly returns whether the storage is read-only.
func (f *FileStorage) ReadOnly() bool {
	return f.readOnly
}

// Close closes the underlying file.
func (f *FileStorage) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}
