// Package wire implements the Z85 codec and peekable-header framing
// described in spec.md §4.1 and §6. Z85 (ZeroMQ RFC 32) has no Go
// implementation anywhere in the example pack's dependency graph, so it is
// implemented directly here rather than inventing a fake module; see
// DESIGN.md for the justification.
package wire

import "fmt"

const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]int8

func init() {
	for i := range z85Decode {
		z85Decode[i] = -1
	}
	for i, c := range z85Alphabet {
		z85Decode[byte(c)] = int8(i)
	}
}

// Z85Encode encodes src (whose length must be a multiple of 4) into the
// Z85 printable alphabet.
func Z85Encode(src []byte) (string, error) {
	if len(src)%4 != 0 {
		return "", fmt.Errorf("wire: z85 encode requires length multiple of 4, got %d", len(src))
	}
	out := make([]byte, 0, len(src)/4*5)
	for i := 0; i < len(src); i += 4 {
		value := uint32(src[i])<<24 | uint32(src[i+1])<<16 | uint32(src[i+2])<<8 | uint32(src[i+3])
		var chunk [5]byte
		chunk[4] = z85Alphabet[value%85]
		value /= 85
		chunk[3] = z85Alphabet[value%85]
		value /= 85
		chunk[2] = z85Alphabet[value%85]
		value /= 85
		chunk[1] = z85Alphabet[value%85]
		value /= 85
		chunk[0] = z85Alphabet[value%85]
		out = append(out, chunk[:]...)
	}
	return string(out), nil
}

// Z85Decode decodes a Z85-encoded string (whose length must be a multiple
// of 5) back into bytes.
func Z85Decode(src string) ([]byte, error) {
	if len(src)%5 != 0 {
		return nil, fmt.Errorf("wire: z85 decode requires length multiple of 5, got %d", len(src))
	}
	out := make([]byte, 0, len(src)/5*4)
	for i := 0; i < len(src); i += 5 {
		var value uint32
		for j := 0; j < 5; j++ {
			digit := z85Decode[src[i+j]]
			if digit < 0 {
				return nil, fmt.Errorf("wire: invalid z85 character %q", src[i+j])
			}
			value = value*85 + uint32(digit)
		}
		out = append(out, byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
	}
	return out, nil
}
