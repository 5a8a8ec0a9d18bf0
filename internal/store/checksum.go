package store

// Checksum is the rotate-accumulate digest guarding persisted regions. It is
// cheap enough to run on every save and catches the torn writes a brownout
// leaves behind.
func Checksum(data []byte) uint32 {
	var ck uint32
	for _, b := range data {
		ck += uint32(b)
		ck = ck<<1 | ck>>31
	}
	return ck
}
