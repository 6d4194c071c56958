package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})

	if buf.Available() != 5 {
		t.Errorf("Expected 5 bytes available, got %d", buf.Available())
	}

	buf.Pop(2)
	if data := buf.Data(); len(data) != 3 || data[0] != 3 {
		t.Errorf("After popping 2, got %v", data)
	}

	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Pop past the end left %d bytes", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output([]byte{1, 2, 3})
	scratch.Output([]byte{4, 5})

	if scratch.CurPosition() != 5 {
		t.Errorf("Expected position 5, got %d", scratch.CurPosition())
	}

	scratch.Update(0, 99)
	scratch.Update(7, 42) // past the write position, ignored
	if got := scratch.Result(); !bytes.Equal(got, []byte{99, 2, 3, 4, 5}) {
		t.Errorf("Result() = %v", got)
	}
	if since := scratch.DataSince(2); !bytes.Equal(since, []byte{3, 4, 5}) {
		t.Errorf("DataSince(2) = %v", since)
	}

	scratch.Reset()
	if scratch.CurPosition() != 0 {
		t.Errorf("After reset, expected position 0, got %d", scratch.CurPosition())
	}
}

func TestScratchOutputTruncates(t *testing.T) {
	scratch := NewScratchOutput()
	if scratch.Free() != scratchSize {
		t.Errorf("Free() = %d, want %d", scratch.Free(), scratchSize)
	}
	scratch.Output(make([]byte, scratchSize+10))
	if scratch.CurPosition() != scratchSize {
		t.Errorf("position = %d, want %d", scratch.CurPosition(), scratchSize)
	}
	if scratch.Free() != 0 {
		t.Errorf("Free() = %d after filling", scratch.Free())
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(10)
	if !fifo.IsEmpty() || fifo.Available() != 0 {
		t.Error("New FIFO should be empty")
	}

	if n := fifo.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Errorf("Expected to write 5 bytes, wrote %d", n)
	}

	readBuf := make([]byte, 3)
	if n := fifo.Read(readBuf); n != 3 || !bytes.Equal(readBuf, []byte{1, 2, 3}) {
		t.Errorf("Read() = %d, %v", n, readBuf)
	}

	fifo.Pop(1)
	if fifo.Available() != 1 || fifo.Free() != 8 {
		t.Errorf("Available() = %d, Free() = %d", fifo.Available(), fifo.Free())
	}

	fifo.Reset()
	if n := fifo.Write(make([]byte, 12)); n != 9 {
		t.Errorf("Expected to write 9 bytes to size-10 FIFO, wrote %d", n)
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	fifo := NewFifoBuffer(5)
	fifo.Write([]byte{1, 2, 3, 4})
	fifo.Pop(2)

	if n := fifo.Write([]byte{5, 6}); n != 2 {
		t.Errorf("Expected to write 2 bytes, wrote %d", n)
	}

	// Data must present the wrapped contents contiguously
	if got := fifo.Data(); !bytes.Equal(got, []byte{3, 4, 5, 6}) {
		t.Errorf("Data() = %v, want [3 4 5 6]", got)
	}

	all := make([]byte, 4)
	if n := fifo.Read(all); n != 4 || !bytes.Equal(all, []byte{3, 4, 5, 6}) {
		t.Errorf("Read() = %d, %v", n, all)
	}
}
