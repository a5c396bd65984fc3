package reqlog

import (
	"encoding/binary"
	"fmt"
)

// reservedFieldLen is the width of ReqLogHead's reserved timestamp
// field, per spec.md §6's binary layout.
const reservedFieldLen = 16

// HeadSize is the on-disk, packed, little-endian size of one
// ReqLogHead record. Every node in a cluster must agree on this exact
// value.
const HeadSize = 4 + 4 + 8 + 4 + 4 + reservedFieldLen // 40 bytes

// Head is the fixed-size record appended to head.req.log for every
// accepted write, per spec.md §6:
//
//	u32 inc_id
//	u32 reqtype
//	u64 req_data_offset
//	u32 req_data_len
//	u32 req_data_crc
//	u8[16] reserved   // reserved for a UTC timestamp string
type Head struct {
	IncID         uint32
	ReqType       uint16 // stored as u32 on disk; kept narrow in memory since no request type exceeds it
	ReqDataOffset uint64
	ReqDataLen    uint32
	ReqDataCRC    uint32
	Reserved      [reservedFieldLen]byte
}

// MarshalBinary encodes h into HeadSize bytes.
func (h Head) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeadSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.IncID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ReqType))
	binary.LittleEndian.PutUint64(buf[8:16], h.ReqDataOffset)
	binary.LittleEndian.PutUint32(buf[16:20], h.ReqDataLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.ReqDataCRC)
	copy(buf[24:24+reservedFieldLen], h.Reserved[:])
	return buf, nil
}

// UnmarshalBinary decodes h from exactly HeadSize bytes.
func (h *Head) UnmarshalBinary(buf []byte) error {
	if len(buf) != HeadSize {
		return fmt.Errorf("reqlog: head record must be %d bytes, got %d", HeadSize, len(buf))
	}
	h.IncID = binary.LittleEndian.Uint32(buf[0:4])
	h.ReqType = uint16(binary.LittleEndian.Uint32(buf[4:8]))
	h.ReqDataOffset = binary.LittleEndian.Uint64(buf[8:16])
	h.ReqDataLen = binary.LittleEndian.Uint32(buf[16:20])
	h.ReqDataCRC = binary.LittleEndian.Uint32(buf[20:24])
	copy(h.Reserved[:], buf[24:24+reservedFieldLen])
	return nil
}

func decodeHead(buf []byte) (Head, error) {
	var h Head
	err := h.UnmarshalBinary(buf)
	return h, err
}
