package protocol

import (
	"bytes"
	"testing"
)

func TestVLQInt(t *testing.T) {
	testCases := []struct {
		value int32
		size  int
	}{
		{0, 1},
		{1, 1},
		{-1, 1},
		{-32, 1},
		{95, 1},
		{96, 2},
		{-33, 2},
		{1000, 2},
		{-1000, 2},
		{65535, 3},
		{1000000, 3},
		{-1000000, 4},
		{1 << 30, 5},
	}

	for _, tc := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, tc.value)
		encoded := output.Result()
		if len(encoded) != tc.size {
			t.Errorf("EncodeVLQInt(%d) used %d bytes, want %d", tc.value, len(encoded), tc.size)
		}

		data := encoded
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("DecodeVLQInt(%v): %v", encoded, err)
			continue
		}
		if decoded != tc.value {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", tc.value, decoded, encoded)
		}
		if len(data) != 0 {
			t.Errorf("%d bytes left after decoding %d", len(data), tc.value)
		}
	}
}

// Register words use the full unsigned range
func TestVLQRegisterWords(t *testing.T) {
	words := []uint32{
		0x00000000,
		0x000001AA,
		0x59B40500,
		0x80000000,
		0xC1FF8000,
		0xFFFFFFFF,
	}

	output := NewScratchOutput()
	for _, w := range words {
		EncodeVLQUint(output, w)
	}

	data := output.Result()
	for _, want := range words {
		got, err := DecodeVLQUint(&data)
		if err != nil {
			t.Fatalf("DecodeVLQUint: %v", err)
		}
		if got != want {
			t.Errorf("word mismatch: expected 0x%08X, got 0x%08X", want, got)
		}
	}
}

func TestVLQBytes(t *testing.T) {
	testCases := [][]byte{
		{},
		{0x01},
		{0xFF, 0xFE, 0xFD},
		bytes.Repeat([]byte{0xA5}, 32), // one block_data chunk
	}

	for i, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQBytes(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQBytes(&data)
		if err != nil {
			t.Errorf("Test case %d: Failed to decode bytes: %v", i, err)
			continue
		}
		if !bytes.Equal(decoded, expected) {
			t.Errorf("Test case %d: expected %v, got %v", i, expected, decoded)
		}
	}
}

func TestVLQString(t *testing.T) {
	for _, expected := range []string{"", "sd_init", "sdhost-bridge-0.1.0"} {
		output := NewScratchOutput()
		EncodeVLQString(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQString(&data)
		if err != nil {
			t.Errorf("Failed to decode string '%s': %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("String mismatch: expected '%s', got '%s'", expected, decoded)
		}
	}
}

func TestVLQMalformed(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, ErrBufferTooSmall},
		{"missing continuation", []byte{0x80}, ErrBufferTooSmall},
		{"too many groups", []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}, ErrInvalidVLQ},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.data
			if _, err := DecodeVLQInt(&data); err != tc.err {
				t.Errorf("DecodeVLQInt(%v) = %v, want %v", tc.data, err, tc.err)
			}
		})
	}

	data := []byte{5, 1, 2}
	if _, err := DecodeVLQBytes(&data); err != ErrBufferTooSmall {
		t.Errorf("short byte string: got %v, want ErrBufferTooSmall", err)
	}
}
