package boot

import (
	"encoding/binary"
	"hash/crc32"

	"brewcode-go/errcode"
	"brewcode-go/internal/platform"
	"brewcode-go/x/timex"
)

// Session receives one firmware image into the staging region. It is
// transient: one Receive call, then the session is dead. The resident
// region is never touched here.
type Session struct {
	link   platform.Link
	flash  platform.Flash
	layout platform.Layout
	clock  timex.Clock

	// Deadlines are fields so tests can shrink them.
	ChunkTimeoutMs uint32
	TotalTimeoutMs uint32

	startMs   timex.Millis
	nextSeq   uint32
	received  uint32
	crc       uint32 // running CRC32 of the image bytes
	page      []byte
	pageFill  uint32
	flushedTo uint32          // next staging offset to program
	erased    map[uint32]bool // erase blocks cleared this session
}

func NewSession(link platform.Link, flash platform.Flash, layout platform.Layout, clock timex.Clock) *Session {
	return &Session{
		link:           link,
		flash:          flash,
		layout:         layout,
		clock:          clock,
		ChunkTimeoutMs: defaultChunkTimeoutMs,
		TotalTimeoutMs: defaultTotalTimeoutMs,
		page:           make([]byte, flash.Geometry().PageSize),
		erased:         make(map[uint32]bool),
	}
}

// Receive runs the chunk protocol to completion. On success it returns
// the staged image length and its CRC32, with the success byte already
// acknowledged. On failure it sends the matching error byte and returns
// the abort code; the caller must not install.
func (s *Session) Receive() (imageLen, imageCRC uint32, err error) {
	s.startMs = s.clock.Now()
	if err := s.run(); err != nil {
		s.ack(wireByte(err))
		return 0, 0, err
	}
	s.ack(wireOK)
	return s.received, s.crc, nil
}

func (s *Session) run() error {
	var marker [2]byte
	var header [chunkHeaderLen]byte
	payload := make([]byte, maxChunkPayload+1) // +1 checksum byte

	for {
		if err := s.readFull(marker[:]); err != nil {
			return err
		}
		if marker[0] == endMarker0 && marker[1] == endMarker1 {
			return s.finish()
		}
		if marker[0] != chunkMarker0 || marker[1] != chunkMarker1 {
			return errcode.BootBadMarker
		}

		if err := s.readFull(header[:]); err != nil {
			return err
		}
		seq := binary.LittleEndian.Uint32(header[0:])
		n := binary.LittleEndian.Uint16(header[4:])
		if n == 0 || n > maxChunkPayload {
			return errcode.BootOversize
		}
		if seq != s.nextSeq {
			return errcode.BootOutOfOrder
		}

		if err := s.readFull(payload[:int(n)+1]); err != nil {
			return err
		}
		body := payload[:n]
		if xorSum(body) != payload[n] {
			return errcode.BootChecksum
		}
		if s.received+uint32(n) > s.layout.StagingSize {
			return errcode.BootOverflow
		}

		if err := s.stage(body); err != nil {
			return err
		}
		s.nextSeq++
		s.ack(wireOK)
	}
}

// finish flushes the partial page and seals the image.
func (s *Session) finish() error {
	if s.received == 0 {
		return errcode.BootBadMarker
	}
	return s.flushPage()
}

// stage folds payload bytes into the page buffer, programming each page
// as it fills. The containing erase block is erased lazily, once per
// session, before the first program into it.
func (s *Session) stage(p []byte) error {
	s.crc = crc32.Update(s.crc, crc32.IEEETable, p)
	s.received += uint32(len(p))
	for len(p) > 0 {
		n := copy(s.page[s.pageFill:], p)
		s.pageFill += uint32(n)
		p = p[n:]
		if s.pageFill == uint32(len(s.page)) {
			if err := s.flushPage(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) flushPage() error {
	if s.pageFill == 0 {
		return nil
	}
	off := s.layout.StagingOff + s.flushedTo
	if err := s.ensureErased(off); err != nil {
		return err
	}
	if err := s.flash.ProgramPage(off, s.page[:s.pageFill]); err != nil {
		return err
	}
	s.flushedTo += s.pageFill
	s.pageFill = 0
	return nil
}

func (s *Session) ensureErased(off uint32) error {
	block := off &^ (s.flash.Geometry().BlockSize - 1)
	if s.erased[block] {
		return nil
	}
	if err := s.flash.EraseBlock(block); err != nil {
		return err
	}
	s.erased[block] = true
	return nil
}

// readFull blocks until p is full or a deadline trips. Both the per-read
// and the whole-session deadline apply to every byte.
func (s *Session) readFull(p []byte) error {
	deadline := s.clock.Now() + timex.Millis(s.ChunkTimeoutMs)
	for got := 0; got < len(p); {
		now := s.clock.Now()
		if now >= deadline || timex.Since(now, s.startMs) >= s.TotalTimeoutMs {
			return errcode.BootTimeout
		}
		wait := timex.Since(deadline, now)
		if rem := s.TotalTimeoutMs - timex.Since(now, s.startMs); rem < wait {
			wait = rem
		}
		n, err := s.link.Read(p[got:], wait)
		got += n
		if err != nil && errcode.Of(err) != errcode.Timeout {
			return err
		}
	}
	return nil
}

func (s *Session) ack(b byte) {
	// A failed ack write is unactionable; the peer's timeout covers it.
	_, _ = s.link.Write([]byte{b})
}
