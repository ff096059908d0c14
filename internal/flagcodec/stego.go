package flagcodec

import "strings"

// stegoBanner is the fixed multi-codepoint emoji prefix of a stego token.
const stegoBanner = "\U0001F3F4\u200D\u2620\uFE0F" // pirate flag emoji

// stegoMarkers seed the four byte buckets. Combining marks attach visually
// to the preceding marker character, so a rendered token reads "FLAG" under
// a storm of diacritics.
var stegoMarkers = [4]byte{'F', 'L', 'A', 'G'}

// symbolTable is the closed 256-entry byte→rune alphabet: Unicode combining
// marks taken from three fixed blocks. The table is a bijection; do not
// reorder entries, existing flags in the wild depend on it.
var symbolTable = buildSymbolTable()

// symbolIndex is the reverse rune→byte mapping.
var symbolIndex = func() map[rune]byte {
	m := make(map[rune]byte, len(symbolTable))
	for i, r := range symbolTable {
		m[r] = byte(i)
	}
	return m
}()

func buildSymbolTable() [256]rune {
	var table [256]rune
	i := 0
	for _, rng := range [][2]rune{
		{0x0300, 0x036F}, // Combining Diacritical Marks (112)
		{0x1AB0, 0x1AFF}, // Combining Diacritical Marks Extended (80)
		{0x1DC0, 0x1DFF}, // Combining Diacritical Marks Supplement (64)
	} {
		for r := rng[0]; r <= rng[1] && i < 256; r++ {
			table[i] = r
			i++
		}
	}
	return table
}

// stegoEncode distributes the block's bytes round-robin across the four
// marker buckets and concatenates banner + buckets.
func stegoEncode(block []byte) string {
	var buckets [4]strings.Builder
	for i := range buckets {
		buckets[i].WriteByte(stegoMarkers[i])
	}
	for i, b := range block {
		buckets[i%4].WriteRune(symbolTable[b])
	}

	var out strings.Builder
	out.WriteString(stegoBanner)
	for i := range buckets {
		out.WriteString(buckets[i].String())
	}
	return out.String()
}

// stegoDecode reverses stegoEncode: strip the banner, slice the four marker
// buckets, map each combining mark back to its byte (stopping a bucket at
// the first unmapped symbol), and re-interleave by position mod 4.
func stegoDecode(token []byte) ([]byte, error) {
	s := strings.TrimSpace(string(token))
	if !strings.HasPrefix(s, stegoBanner) {
		return nil, ErrInvalidFlag
	}
	s = s[len(stegoBanner):]

	var buckets [4][]byte
	for i := 3; i >= 0; i-- {
		idx := strings.LastIndexByte(s, stegoMarkers[i])
		if idx < 0 {
			return nil, ErrInvalidFlag
		}
		buckets[i] = decodeBucket(s[idx+1:])
		s = s[:idx]
	}
	if s != "" {
		return nil, ErrInvalidFlag
	}

	var out []byte
	for i := 0; ; i++ {
		bucket := buckets[i%4]
		pos := i / 4
		if pos >= len(bucket) {
			break
		}
		out = append(out, bucket[pos])
	}
	return out, nil
}

func decodeBucket(s string) []byte {
	var out []byte
	for _, r := range s {
		b, ok := symbolIndex[r]
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}
