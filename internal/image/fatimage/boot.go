package fatimage

import (
	"encoding/binary"
	"fmt"
)

// FSINFO field offsets and values.
const (
	fsInfoLeadSig      uint32 = 0x41615252
	fsInfoStructSig    uint32 = 0x61417272
	fsInfoTrailSig     uint32 = 0xAA550000
	fsInfoUnknown      uint32 = 0xFFFFFFFF
	fsInfoLeadOff             = 0
	fsInfoStructOff           = 484
	fsInfoFreeCountOff        = 488
	fsInfoNextFreeOff         = 492
	fsInfoTrailOff            = 508
)

// BootSignature is the two-byte marker expected at offsets 510-511 of a
// bootable sector.
var BootSignature = [2]byte{0x55, 0xAA}

// HasBootSignature reports whether sector carries 0x55 0xAA at 510-511.
func HasBootSignature(sector []byte) bool {
	return len(sector) >= 512 && sector[510] == BootSignature[0] && sector[511] == BootSignature[1]
}

// HasFSInfoSignatures reports whether sector carries the three FSINFO
// signatures.
func HasFSInfoSignatures(sector []byte) bool {
	if len(sector) < 512 {
		return false
	}
	return binary.LittleEndian.Uint32(sector[fsInfoLeadOff:]) == fsInfoLeadSig &&
		binary.LittleEndian.Uint32(sector[fsInfoStructOff:]) == fsInfoStructSig &&
		binary.LittleEndian.Uint32(sector[fsInfoTrailOff:]) == fsInfoTrailSig
}

// WriteBootRegion installs stage 1 in sector 0, FSINFO in sectors 1 and 7, a
// backup of sector 0 in sector 6 and stage 2 from sector 8 on. Both stages are
// size-checked before anything is written.
func (im *Image) WriteBootRegion(stage1, stage2 []byte) error {
	bps := int(im.geo.BytesPerSector)
	if len(stage1) > bps {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrBootSectorTooLarge, len(stage1), bps)
	}
	if limit := im.geo.Stage2Capacity(); len(stage2) > limit {
		return fmt.Errorf("%w: %d bytes, limit %d (sectors %d-%d)",
			ErrStage2TooLarge, len(stage2), limit, Stage2Sector, im.geo.ReservedSectors-1)
	}

	copy(im.buf, stage1)

	im.writeFSInfo(FSInfoSector)
	im.writeFSInfo(BackupFSInfoSector)

	// the backup must be taken after stage 1 is in place
	copy(im.Sector(BackupBootSector), im.Sector(0))

	copy(im.buf[im.sectorOffset(Stage2Sector):], stage2)
	return nil
}

func (im *Image) writeFSInfo(lba uint32) {
	off := im.sectorOffset(lba)
	im.putUint32(off+fsInfoLeadOff, fsInfoLeadSig)
	im.putUint32(off+fsInfoStructOff, fsInfoStructSig)
	im.putUint32(off+fsInfoFreeCountOff, fsInfoUnknown)
	im.putUint32(off+fsInfoNextFreeOff, fsInfoUnknown)
	im.putUint32(off+fsInfoTrailOff, fsInfoTrailSig)
}
