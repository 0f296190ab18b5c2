package idxstore

import "encoding/binary"

// A key record is [4-byte keyLen][key bytes][8-byte valueOffset][4-byte
// valueLength]: a length-prefixed serialized form of (key, value_offset,
// value_length). The outer 4-byte record length
// that precedes it in the file is handled by the caller (Store), since
// that length is what the append cursor and restore scan key off of.
func encodeKeyRecord(key []byte, valueOffset int64, valueLength int32) []byte {
	buf := make([]byte, recordSize(len(key)))

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:4+len(key)], key)
	binary.BigEndian.PutUint64(buf[4+len(key):12+len(key)], uint64(valueOffset))
	binary.BigEndian.PutUint32(buf[12+len(key):16+len(key)], uint32(valueLength))

	return buf
}

func decodeKeyRecord(buf []byte) (key []byte, valueOffset int64, valueLength int32, ok bool) {
	if len(buf) < 4 {
		return nil, 0, 0, false
	}

	keyLen := binary.BigEndian.Uint32(buf[0:4])
	if int(keyLen) > len(buf)-16 {
		return nil, 0, 0, false
	}

	key = make([]byte, keyLen)
	copy(key, buf[4:4+keyLen])

	valueOffset = int64(binary.BigEndian.Uint64(buf[4+keyLen : 12+keyLen]))
	valueLength = int32(binary.BigEndian.Uint32(buf[12+keyLen : 16+keyLen]))

	return key, valueOffset, valueLength, true
}

// recordSize returns the length of the serialized (key, offset, length)
// tuple, excluding the 4-byte outer record-length prefix.
func recordSize(keyLen int) int {
	return 4 + keyLen + 8 + 4
}

// onDiskSize returns the total bytes a key record occupies in the
// append area, including its 4-byte length prefix.
func onDiskSize(keyLen int) int64 {
	return 4 + int64(recordSize(keyLen))
}
