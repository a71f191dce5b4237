package sclone

// Structured clone tag values, as persisted by Gecko. The serializer packs
// the stream as 8-byte little-endian pairs: a 32-bit data word in the low
// half and a 32-bit tag in the high half. Tag values live in the NaN space
// above TagFloatMax; a high word at or below it is a raw IEEE-754 double.
const (
	TagFloatMax uint32 = 0xFFF00000
	TagHeader   uint32 = 0xFFF10000

	TagNull                uint32 = 0xFFFF0000
	TagUndefined           uint32 = 0xFFFF0001
	TagBoolean             uint32 = 0xFFFF0002
	TagInt32               uint32 = 0xFFFF0003
	TagString              uint32 = 0xFFFF0004
	TagDateObject          uint32 = 0xFFFF0005
	TagRegexpObject        uint32 = 0xFFFF0006
	TagArrayObject         uint32 = 0xFFFF0007
	TagObjectObject        uint32 = 0xFFFF0008
	TagArrayBufferObjectV2 uint32 = 0xFFFF0009
	TagBooleanObject       uint32 = 0xFFFF000A
	TagStringObject        uint32 = 0xFFFF000B
	TagNumberObject        uint32 = 0xFFFF000C
	TagBackReference       uint32 = 0xFFFF000D
	TagTypedArrayObjectV2  uint32 = 0xFFFF0010
	TagMapObject           uint32 = 0xFFFF0011
	TagSetObject           uint32 = 0xFFFF0012
	TagEndOfKeys           uint32 = 0xFFFF0013
	TagDataViewObjectV2    uint32 = 0xFFFF0015
	TagSavedFrameObject    uint32 = 0xFFFF0016
	TagBigInt              uint32 = 0xFFFF001D
	TagBigIntObject        uint32 = 0xFFFF001E
	TagArrayBufferObject   uint32 = 0xFFFF001F
	TagTypedArrayObject    uint32 = 0xFFFF0020
	TagDataViewObject      uint32 = 0xFFFF0021
	TagErrorObject         uint32 = 0xFFFF0022

	tagBuiltinMax uint32 = 0xFFFF0024

	// Old-style typed arrays carry the scalar type in the tag itself.
	TagTypedArrayV1Min uint32 = 0xFFFF0100
	TagTypedArrayV1Max uint32 = 0xFFFF0108

	// Transferable-only tags; not written to disk but tolerated when
	// carving memory-derived streams.
	TagTransferMapHeader uint32 = 0xFFFF0200
	tagTransferMax       uint32 = 0xFFFF0205

	// DOM tags (JS_SCTAG_USER_MIN and up).
	TagDOMBase      uint32 = 0xFFFF8000
	TagDOMBlob      uint32 = 0xFFFF8001
	TagDOMFile      uint32 = 0xFFFF8005
	TagDOMImageData uint32 = 0xFFFF8007
	TagDOMCryptoKey uint32 = 0xFFFF800A

	tagDOMMax uint32 = 0xFFFF8040
)

// KnownTag reports whether tag falls in one of the ranges the serializer
// emits. Used as the carving plausibility test.
func KnownTag(tag uint32) bool {
	switch {
	case tag == TagHeader:
		return true
	case tag >= TagNull && tag <= tagBuiltinMax:
		return true
	case tag >= TagTypedArrayV1Min && tag <= TagTypedArrayV1Max:
		return true
	case tag >= TagTransferMapHeader && tag <= tagTransferMax:
		return true
	case tag >= TagDOMBase && tag <= tagDOMMax:
		return true
	}
	return false
}

// latin1Flag marks the string length word as one-byte characters rather
// than UTF-16 code units.
const latin1Flag = 0x80000000
