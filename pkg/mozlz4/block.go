package mozlz4

// decodeBlock is a tolerant LZ4 block decoder. Unlike the strict decoder
// it never rejects the whole payload: it walks the sequence stream and
// stops at the first byte it cannot justify, reporting how far it got.
// Every byte it emits is provably what the compressor wrote, because LZ4
// decoding is a deterministic prefix operation.
func decodeBlock(src []byte, sizeHint int) ([]byte, Flag) {
	if sizeHint < 0 || sizeHint > maxDeclaredSize {
		sizeHint = 0
	}
	dst := make([]byte, 0, sizeHint)

	i := 0
	for i < len(src) {
		token := src[i]
		i++

		// Literal length, with 255-byte extensions.
		litLen := int(token >> 4)
		if litLen == 15 {
			extended := false
			for i < len(src) {
				b := src[i]
				i++
				litLen += int(b)
				if b != 255 {
					extended = true
					break
				}
			}
			if !extended {
				return dst, Truncated
			}
		}

		if litLen > len(src)-i {
			// The sequence claims more literals than exist. The ones that
			// are present are still genuine output; salvage them.
			dst = append(dst, src[i:]...)
			return dst, Truncated
		}
		dst = append(dst, src[i:i+litLen]...)
		i += litLen

		if i == len(src) {
			// A block legitimately ends with a literals-only sequence.
			return dst, Complete
		}
		if len(src)-i < 2 {
			return dst, Truncated
		}

		offset := int(src[i]) | int(src[i+1])<<8
		i += 2
		if offset == 0 || offset > len(dst) {
			// A back-reference outside the produced output is impossible
			// in a well-formed stream; nothing beyond here is trustworthy.
			return dst, Corrupt
		}

		// Match length, with the same extension scheme. If the extension
		// bytes are cut off we still know the minimum length reached so
		// far, so copy that much before reporting truncation.
		matchLen := int(token & 0x0F)
		extCut := false
		if matchLen == 15 {
			extended := false
			for i < len(src) {
				b := src[i]
				i++
				matchLen += int(b)
				if b != 255 {
					extended = true
					break
				}
			}
			if !extended {
				extCut = true
			}
		}
		matchLen += 4

		// Byte-at-a-time copy: matches may overlap their own output.
		for k := 0; k < matchLen; k++ {
			dst = append(dst, dst[len(dst)-offset])
		}
		if extCut {
			return dst, Truncated
		}
	}
	return dst, Complete
}
