package platform

// Geometry of the flash part. Pages are the program unit, blocks the
// erase unit. Offsets in every Flash call are absolute device offsets.
type Geometry struct {
	Size      uint32
	PageSize  uint32
	BlockSize uint32
}

// Flash is the raw program/erase primitive. Implementations validate
// bounds and alignment and surface failures as errcode values; callers
// decide retry vs abort.
type Flash interface {
	Geometry() Geometry
	ReadAt(p []byte, off uint32) error
	// EraseBlock erases the BlockSize block at off (block-aligned).
	EraseBlock(off uint32) error
	// ProgramPage programs up to PageSize bytes at off (page-aligned).
	// The target range must have been erased since its last program.
	ProgramPage(off uint32, p []byte) error
}

// Layout reserves regions of the part. The two record sectors sit near
// the top of flash; the staging region never overlaps the resident one.
type Layout struct {
	ResidentOff  uint32
	ResidentSize uint32
	StagingOff   uint32
	StagingSize  uint32
	ConfigOff    uint32 // one erase block
	StatsOff     uint32 // one erase block
	SectorSize   uint32 // install copy granularity (= erase block)
}

// DefaultLayout carves up a 2 MiB part: two 960 KiB firmware regions and
// two record sectors directly below the top.
func DefaultLayout() Layout {
	return Layout{
		ResidentOff:  0x000000,
		ResidentSize: 0x0F0000,
		StagingOff:   0x0F0000,
		StagingSize:  0x0F0000,
		ConfigOff:    0x1FE000,
		StatsOff:     0x1FF000,
		SectorSize:   0x1000,
	}
}
