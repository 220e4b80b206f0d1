package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		rb  ringBuffer
		buf bytes.Buffer
	)

	t.Run("read from empty buffer", func(t *testing.T) {
		if n, err := rb.Read(make([]byte, 4)); n != 0 || err != io.EOF {
			t.Fatalf("expected (0, io.EOF); got (%d, %v)", n, err)
		}
	})

	t.Run("write without wrapping", func(t *testing.T) {
		rb = ringBuffer{}
		buf.Reset()

		rb.Write([]byte("hello"))
		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if got := buf.String(); got != "hello" {
			t.Fatalf("expected to read back %q; got %q", "hello", got)
		}
	})

	t.Run("write with wrapping", func(t *testing.T) {
		rb = ringBuffer{}
		buf.Reset()

		data := make([]byte, ringBufferSize+10)
		for i := range data {
			data[i] = byte('a' + i%26)
		}

		if n, _ := rb.Write(data); n != len(data) {
			t.Fatalf("expected Write to report %d bytes; got %d", len(data), n)
		}

		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if exp := data[10:]; !bytes.Equal(buf.Bytes(), exp) {
			t.Fatalf("expected to read back the last %d bytes written", ringBufferSize)
		}
	})

	t.Run("partial reads", func(t *testing.T) {
		rb = ringBuffer{}
		rb.Write([]byte("abcdef"))

		p := make([]byte, 4)
		if n, _ := rb.Read(p); n != 4 || string(p) != "abcd" {
			t.Fatalf("expected first read to return %q; got %q", "abcd", p[:n])
		}

		if n, _ := rb.Read(p); n != 2 || string(p[:n]) != "ef" {
			t.Fatalf("expected second read to return %q; got %q", "ef", p[:n])
		}
	})
}
