package redo

import (
	"EmberDB/types"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Each record is framed as LSN (8 bytes) | LEN (4) | CRC (4) | payload.
// The CRC covers the payload only; the LSN in the header mirrors the
// one inside the payload so a scan can report where corruption starts.
const frameHeaderSize = 16

func encodeRecords(records []*types.RedoRecord) []byte {
	var out []byte
	for _, r := range records {
		payload := r.Encode()
		header := make([]byte, frameHeaderSize)
		binary.BigEndian.PutUint64(header[0:8], uint64(r.LSN))
		binary.BigEndian.PutUint32(header[8:12], uint32(len(payload)))
		binary.BigEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(payload))
		out = append(out, header...)
		out = append(out, payload...)
	}
	return out
}

func decodeRecords(data []byte) ([]*types.RedoRecord, error) {
	var records []*types.RedoRecord
	off := 0
	for off < len(data) {
		if len(data)-off < frameHeaderSize {
			return nil, fmt.Errorf("%w: truncated frame header at offset %d", ErrCorruptLog, off)
		}
		lsn := binary.BigEndian.Uint64(data[off : off+8])
		length := binary.BigEndian.Uint32(data[off+8 : off+12])
		sum := binary.BigEndian.Uint32(data[off+12 : off+16])
		off += frameHeaderSize
		if len(data)-off < int(length) {
			return nil, fmt.Errorf("%w: truncated payload for lsn=%d", ErrCorruptLog, lsn)
		}
		payload := data[off : off+int(length)]
		off += int(length)
		if crc32.ChecksumIEEE(payload) != sum {
			return nil, fmt.Errorf("%w: crc mismatch at lsn=%d", ErrCorruptLog, lsn)
		}
		rec, err := types.DecodeRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: bad payload at lsn=%d: %v", ErrCorruptLog, lsn, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
