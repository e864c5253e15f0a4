package logkv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/logkv/storage"
)

// On-disk entry layout, little endian:
//
//	[flags:1][slot:1][keyLen:4][valLen:4][version:8][crc:4] key value
//
// flags: bit0 tombstone, bit1 commit frame, bit2 zstd-compressed value.
// crc is CRC-32 (IEEE) over the stored key and value bytes. A commit frame
// has no key, an 8-byte payload holding the record count of its batch, and
// its crc field carries the running checksum over every record byte of the
// batch plus the frame payload.
const (
	entryHeaderSize = 22

	flagTombstone  = 1 << 0
	flagCommit     = 1 << 1
	flagCompressed = 1 << 2
	flagsKnown     = flagTombstone | flagCommit | flagCompressed

	commitPayloadSize = 8

	// Values below this size are never compressed; the zstd frame overhead
	// would outweigh the savings.
	compressMinSize = 512
)

var (
	errInvalidHeader   = errors.New("invalid entry header")
	errChecksum        = errors.New("entry checksum mismatch")
	errNotCommitFrame  = errors.New("not a commit frame")
	errCommitFrameForm = errors.New("malformed commit frame")
)

// entryCodec maps entries to and from contiguous byte ranges of the log.
type entryCodec struct {
	maxKeySize   int
	maxValueSize int
	enc          *zstd.Encoder // nil when compression is disabled
	dec          *zstd.Decoder
}

func newEntryCodec(o options) (*entryCodec, error) {
	c := &entryCodec{
		maxKeySize:   o.maxKeySize,
		maxValueSize: o.maxValueSize,
	}

	// The decoder always exists so a store opened without compression can
	// still read a log written with it.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c.dec = dec

	if o.compressionLevel > 0 {
		level := zstd.EncoderLevelFromZstd(o.compressionLevel)
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

func (c *entryCodec) close() {
	c.dec.Close()
	if c.enc != nil {
		_ = c.enc.Close()
	}
}

// decodedEntry is the in-memory form of one log entry.
//
// value holds the stored bytes, which may still be compressed; payload
// access goes through (*entryCodec).value.
type decodedEntry struct {
	flags   byte
	slot    uint8
	version uint64
	key     []byte
	value   []byte
	crc     uint32
	size    int64 // total encoded length in bytes
}

func (e *decodedEntry) isCommit() bool    { return e.flags&flagCommit != 0 }
func (e *decodedEntry) isTombstone() bool { return e.flags&flagTombstone != 0 }

// commitCount returns the record count carried by a commit frame.
func (e *decodedEntry) commitCount() (uint64, error) {
	if !e.isCommit() {
		return 0, errNotCommitFrame
	}
	if len(e.value) != commitPayloadSize {
		return 0, errCommitFrameForm
	}
	return binary.LittleEndian.Uint64(e.value), nil
}

// appendRecord encodes one key-value record (or tombstone) and appends it to
// buf. The caller has already validated slot and size bounds.
func (c *entryCodec) appendRecord(buf []byte, slot uint8, key, value []byte, tombstone bool, version uint64) []byte {
	var flags byte
	stored := value
	if tombstone {
		flags |= flagTombstone
		stored = nil
	} else if c.enc != nil && len(value) >= compressMinSize {
		if compressed := c.enc.EncodeAll(value, nil); len(compressed) < len(value) {
			flags |= flagCompressed
			stored = compressed
		}
	}

	crc := crc32.NewIEEE()
	_, _ = crc.Write(key)
	_, _ = crc.Write(stored)

	buf = appendHeader(buf, flags, slot, uint32(len(key)), uint32(len(stored)), version, crc.Sum32())
	buf = append(buf, key...)
	buf = append(buf, stored...)
	return buf
}

// appendCommit encodes a commit frame terminating a batch of count records
// and appends it to buf. batchCRC must cover every encoded record byte of
// the batch followed by the frame payload.
func appendCommit(buf []byte, version, count uint64, batchCRC uint32) []byte {
	buf = appendHeader(buf, flagCommit, 0, 0, commitPayloadSize, version, batchCRC)
	return binary.LittleEndian.AppendUint64(buf, count)
}

// commitPayload returns the payload bytes of a commit frame for count, so
// the running batch checksum can include them before the frame is encoded.
func commitPayload(count uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, count)
}

func appendHeader(buf []byte, flags byte, slot uint8, keyLen, valLen uint32, version uint64, crc uint32) []byte {
	buf = append(buf, flags, slot)
	buf = binary.LittleEndian.AppendUint32(buf, keyLen)
	buf = binary.LittleEndian.AppendUint32(buf, valLen)
	buf = binary.LittleEndian.AppendUint64(buf, version)
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	return buf
}

// readEntry reads and validates the entry starting at off.
//
// Errors: storage.ErrOutOfRange means the entry extends past the end of the
// log (a partial append). A *CorruptEntryError comes with a non-nil entry
// whose size field holds the declared (header) or actual entry size, so the
// caller can tell whether the damaged entry is the final one.
func (c *entryCodec) readEntry(ctx context.Context, st storage.Storage, off int64) (*decodedEntry, error) {
	hdr, err := st.Read(ctx, off, entryHeaderSize)
	if err != nil {
		return nil, err
	}

	flags := hdr[0]
	slot := hdr[1]
	keyLen := binary.LittleEndian.Uint32(hdr[2:6])
	valLen := binary.LittleEndian.Uint32(hdr[6:10])
	version := binary.LittleEndian.Uint64(hdr[10:18])
	crc := binary.LittleEndian.Uint32(hdr[18:22])

	// An entry rejected before its content is read still reports the size
	// its header declares, so the caller can tell whether the damage could
	// be a torn append at the physical end of the log.
	declared := &decodedEntry{
		flags:   flags,
		slot:    slot,
		version: version,
		crc:     crc,
		size:    entryHeaderSize + int64(keyLen) + int64(valLen),
	}
	if flags&^flagsKnown != 0 {
		return declared, &CorruptEntryError{Offset: off, cause: errInvalidHeader}
	}
	if flags&flagCommit != 0 {
		if keyLen != 0 || valLen != commitPayloadSize || flags != flagCommit {
			return declared, &CorruptEntryError{Offset: off, cause: errCommitFrameForm}
		}
	} else if int(keyLen) > c.maxKeySize || int(valLen) > c.maxValueSize || keyLen == 0 {
		return declared, &CorruptEntryError{Offset: off, cause: errInvalidHeader}
	}

	content, err := st.Read(ctx, off+entryHeaderSize, int(keyLen+valLen))
	if err != nil {
		return nil, err
	}

	e := &decodedEntry{
		flags:   flags,
		slot:    slot,
		version: version,
		key:     content[:keyLen],
		value:   content[keyLen:],
		crc:     crc,
		size:    entryHeaderSize + int64(keyLen) + int64(valLen),
	}

	// Commit frame checksums span the whole batch and are verified by the
	// replay loop, not per entry.
	if !e.isCommit() {
		sum := crc32.NewIEEE()
		_, _ = sum.Write(e.key)
		_, _ = sum.Write(e.value)
		if sum.Sum32() != crc {
			return e, &CorruptEntryError{Offset: off, cause: errChecksum}
		}
	}
	return e, nil
}

// value returns the payload of a record entry, decompressing if needed.
// Tombstones yield nil.
func (c *entryCodec) value(e *decodedEntry) ([]byte, error) {
	if e.isTombstone() {
		return nil, nil
	}
	if e.flags&flagCompressed == 0 {
		return e.value, nil
	}
	out, err := c.dec.DecodeAll(e.value, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress value: %w", err)
	}
	return out, nil
}
