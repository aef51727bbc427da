package fatfs

import (
	"encoding/binary"
	"errors"

	"github.com/ardnew/mscfs/diskio"
)

// Boot sector field offsets.
const (
	bpbBytsPerSec = 11
	bpbSecPerClus = 13
	bpbRsvdSecCnt = 14
	bpbNumFATs    = 16
	bpbRootEntCnt = 17
	bpbTotSec16   = 19
	bpbFATSz16    = 22
	bpbTotSec32   = 32
	bpbFATSz32    = 36
	bsSignature   = 510
)

const (
	fat32EntryMask = 0x0FFFFFFF
	fatScanSectors = 64
)

var errBootSector = errors.New("invalid boot sector")

// geometry is the cluster layout of a FAT32 volume.
type geometry struct {
	sectorSize  uint32
	clusterSize uint32 // sectors per cluster
	fatStart    uint32 // first sector of the first FAT
	fatSectors  uint32
	clusters    uint32 // data clusters
}

// readGeometry parses the boot sector of a FAT32 volume.
func readGeometry(d *diskio.Drive) (geometry, error) {
	bs := make([]byte, 512)
	if _, err := d.ReadAt(bs, 0); err != nil {
		return geometry{}, err
	}
	if binary.LittleEndian.Uint16(bs[bsSignature:]) != 0xAA55 {
		return geometry{}, errBootSector
	}

	g := geometry{
		sectorSize:  uint32(binary.LittleEndian.Uint16(bs[bpbBytsPerSec:])),
		clusterSize: uint32(bs[bpbSecPerClus]),
	}
	reserved := uint32(binary.LittleEndian.Uint16(bs[bpbRsvdSecCnt:]))
	fats := uint32(bs[bpbNumFATs])
	if g.sectorSize == 0 || g.sectorSize%512 != 0 || reserved == 0 || (fats != 1 && fats != 2) {
		return geometry{}, errBootSector
	}
	if g.clusterSize == 0 || g.clusterSize&(g.clusterSize-1) != 0 {
		return geometry{}, errBootSector
	}
	// FAT32 leaves the 16-bit FAT size and root entry count zero
	if binary.LittleEndian.Uint16(bs[bpbFATSz16:]) != 0 || binary.LittleEndian.Uint16(bs[bpbRootEntCnt:]) != 0 {
		return geometry{}, errBootSector
	}

	total := uint32(binary.LittleEndian.Uint16(bs[bpbTotSec16:]))
	if total == 0 {
		total = binary.LittleEndian.Uint32(bs[bpbTotSec32:])
	}
	g.fatSectors = binary.LittleEndian.Uint32(bs[bpbFATSz32:])
	g.fatStart = reserved

	system := reserved + fats*g.fatSectors
	if total <= system {
		return geometry{}, errBootSector
	}
	g.clusters = (total - system) / g.clusterSize
	if entries := g.fatSectors * g.sectorSize / 4; g.clusters+2 > entries {
		g.clusters = entries - 2
	}
	if g.clusters == 0 {
		return geometry{}, errBootSector
	}
	return g, nil
}

// countFree scans the first FAT for free clusters.
func countFree(d *diskio.Drive, g geometry) (uint32, error) {
	buf := make([]byte, fatScanSectors*g.sectorSize)
	last := uint64(g.clusters) + 2 // entries 0 and 1 are reserved
	var free uint32
	var entry uint64

	for sector := uint32(0); sector < g.fatSectors && entry < last; sector += fatScanSectors {
		n := min(fatScanSectors, g.fatSectors-sector)
		chunk := buf[:n*g.sectorSize]
		if _, err := d.ReadAt(chunk, int64(g.fatStart+sector)*int64(g.sectorSize)); err != nil {
			return 0, err
		}
		for off := 0; off+4 <= len(chunk) && entry < last; off += 4 {
			if entry >= 2 && binary.LittleEndian.Uint32(chunk[off:])&fat32EntryMask == 0 {
				free++
			}
			entry++
		}
	}
	return free, nil
}

// Free returns the total and free data space in bytes of the drive named
// by p, or of the current drive if p has no prefix.
func (v *Volumes) Free(p string) (total, free uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolveLocked("getfree", p)
	if err != nil {
		return 0, 0, err
	}
	g, err := readGeometry(r.vol.drive)
	if err != nil {
		if errors.Is(err, errBootSector) {
			return 0, 0, newError("getfree", r.show, NoFilesystem, err)
		}
		return 0, 0, wrap("getfree", r.show, err)
	}
	clusters, err := countFree(r.vol.drive, g)
	if err != nil {
		return 0, 0, wrap("getfree", r.show, err)
	}

	bytesPerCluster := uint64(g.clusterSize) * uint64(g.sectorSize)
	return uint64(g.clusters) * bytesPerCluster, uint64(clusters) * bytesPerCluster, nil
}
