package protocol

import (
	"bytes"
	"testing"
)

// TestHeaderLayout verifies the little-endian header layout
func TestHeaderLayout(t *testing.T) {
	b := make([]byte, HeaderSize)
	PutHeader(b, Header{Src: 0x50, Dst: 0x400, Len: 4})

	want := []byte{
		0x50, 0, 0, 0,
		0x00, 0x04, 0, 0,
		0, 0, 0, 0,
		4, 0,
		0, 0,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("PutHeader() = % x, want % x", b, want)
	}

	h, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.Src != 0x50 || h.Dst != 0x400 || h.Len != 4 {
		t.Fatalf("ParseHeader() = %+v", h)
	}
}

// TestEncodeFrameTruncates verifies a single frame never carries more than MaxPayload
func TestEncodeFrameTruncates(t *testing.T) {
	slot := make([]byte, FrameSize)
	payload := bytes.Repeat([]byte{0xaa}, MaxPayload+10)

	if n := EncodeFrame(slot, 1, 2, payload); n != MaxPayload {
		t.Fatalf("EncodeFrame() = %d, want %d", n, MaxPayload)
	}

	f, err := DecodeFrame(slot)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if int(f.Len) != MaxPayload || !bytes.Equal(f.Payload, payload[:MaxPayload]) {
		t.Fatalf("DecodeFrame() len = %d, want %d", f.Len, MaxPayload)
	}
}

// TestEncodeFrameClearsSlot verifies stale bytes from a previous frame are wiped
func TestEncodeFrameClearsSlot(t *testing.T) {
	slot := bytes.Repeat([]byte{0xff}, FrameSize)
	EncodeFrame(slot, 1, 2, []byte{1})

	if !bytes.Equal(slot[HeaderSize+1:], make([]byte, FrameSize-HeaderSize-1)) {
		t.Fatal("EncodeFrame() left stale bytes after the payload")
	}
}

// TestDecodeFrameRejectsBadLength verifies corrupted lengths are caught
func TestDecodeFrameRejectsBadLength(t *testing.T) {
	slot := make([]byte, FrameSize)
	PutHeader(slot, Header{Len: MaxPayload + 1})

	if _, err := DecodeFrame(slot); err != ErrBadLength {
		t.Fatalf("DecodeFrame() error = %v, want %v", err, ErrBadLength)
	}
	if _, err := DecodeFrame(slot[:4]); err != ErrShortFrame {
		t.Fatalf("DecodeFrame() error = %v, want %v", err, ErrShortFrame)
	}
}

// TestChunks verifies a 3.5 frame payload is split into exactly 4 chunks
func TestChunks(t *testing.T) {
	data := make([]byte, MaxPayload*7/2)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := Chunks(data)
	if len(chunks) != 4 {
		t.Fatalf("Chunks() returned %d chunks, want 4", len(chunks))
	}
	if len(chunks[3]) != MaxPayload/2 {
		t.Fatalf("last chunk = %d bytes, want %d", len(chunks[3]), MaxPayload/2)
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
		t.Fatal("joined chunks differ from the source")
	}

	if len(Chunks(nil)) != 0 {
		t.Fatal("Chunks(nil) returned chunks")
	}
}

// TestCommandWords verifies command codes, tags and the ACK bit
func TestCommandWords(t *testing.T) {
	w := CmdClone.Word(0x2a)
	cmd, tag, ack := ParseWord(w)
	if cmd != CmdClone || tag != 0x2a || ack {
		t.Fatalf("ParseWord(%#x) = (%v, %d, %v)", w, cmd, tag, ack)
	}

	cmd, tag, ack = ParseWord(AckWord(w))
	if cmd != CmdClone || tag != 0x2a || !ack {
		t.Fatalf("ParseWord(ack) = (%v, %d, %v)", cmd, tag, ack)
	}

	if FirstWord(PutWord(w)) != w {
		t.Fatal("FirstWord(PutWord()) mismatch")
	}
	if FirstWord([]byte{3}) != 3 {
		t.Fatal("FirstWord() did not zero extend a short payload")
	}
}

// TestCommandString verifies the generated names
func TestCommandString(t *testing.T) {
	if CmdGet.String() != "Get" {
		t.Errorf("CmdGet.String() = %q, want %q", CmdGet.String(), "Get")
	}
	if Command(9).String() != "Command(9)" {
		t.Errorf("Command(9).String() = %q", Command(9).String())
	}
	if Command(9).Valid() {
		t.Error("Command(9).Valid() = true")
	}
}

// TestChannelInfo verifies the name-service record layout
func TestChannelInfo(t *testing.T) {
	in := ChannelInfo{Name: "rpmsg-timer-statistic", Src: 0x50}
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if len(b) != ChannelInfoSize {
		t.Fatalf("len = %d, want %d", len(b), ChannelInfoSize)
	}

	var out ChannelInfo
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if out != in {
		t.Fatalf("UnmarshalBinary() = %+v, want %+v", out, in)
	}
}
