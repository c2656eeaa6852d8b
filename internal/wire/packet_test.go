package wire

import (
	"bytes"
	"testing"
)

func mustPacket(t *testing.T, payload []byte, seq byte) Packet {
	t.Helper()
	p, err := NewPacket(payload, seq)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	return p
}

// Framing law 3: parse_length(encode_length(L)) = L.
func TestParseLengthRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 255, 256, 65535, 65536, MaxPayloadLen}
	for _, l := range lengths {
		p := mustPacket(t, make([]byte, l), 0)
		if got := ParseLength(p.Bytes); got != l {
			t.Errorf("ParseLength(encode(%d)) = %d", l, got)
		}
	}
}

// Framing law 2: parsing the header recovers the payload length.
func TestPacketLengthMatchesPayload(t *testing.T) {
	p := mustPacket(t, []byte("SELECT 1"), 7)
	if got, want := p.Length(), len("SELECT 1"); got != want {
		t.Errorf("Length() = %d, want %d", got, want)
	}
	if got, want := len(p.Payload()), len("SELECT 1"); got != want {
		t.Errorf("len(Payload()) = %d, want %d", got, want)
	}
}

func TestNewPacketRejectsOversizedPayload(t *testing.T) {
	_, err := NewPacket(make([]byte, MaxPayloadLen+1), 0)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

// Framing law 1: feeding concatenated packets in arbitrary chunk sizes and
// extracting to exhaustion yields the packets back in order.
func TestExtractPacketChunked(t *testing.T) {
	var want []Packet
	var all []byte
	for i := 0; i < 5; i++ {
		p := mustPacket(t, []byte{byte(ComPing)}, byte(i))
		want = append(want, p)
		all = append(all, p.Bytes...)
	}

	chunkSizes := []int{1, 2, 3, 7, 50}
	for _, chunk := range chunkSizes {
		var buf []byte
		var got []Packet
		for off := 0; off < len(all); off += chunk {
			end := off + chunk
			if end > len(all) {
				end = len(all)
			}
			buf = append(buf, all[off:end]...)
			for {
				pkt, consumed, ok := ExtractPacket(buf, len(buf))
				if !ok {
					break
				}
				got = append(got, pkt)
				buf = append(buf[:0], buf[consumed:]...)
			}
		}
		if len(got) != len(want) {
			t.Fatalf("chunk=%d: got %d packets, want %d", chunk, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i].Bytes, want[i].Bytes) {
				t.Errorf("chunk=%d packet %d mismatch", chunk, i)
			}
		}
	}
}

// Framing law 4: shifting after extraction preserves buffer validity.
func TestExtractPacketShift(t *testing.T) {
	p1 := mustPacket(t, []byte("abc"), 0)
	p2 := mustPacket(t, []byte("defgh"), 1)
	buf := append(append([]byte{}, p1.Bytes...), p2.Bytes...)
	oldReadPos := len(buf)

	got, consumed, ok := ExtractPacket(buf, oldReadPos)
	if !ok {
		t.Fatal("expected a packet")
	}
	if consumed != len(p1.Bytes) {
		t.Fatalf("consumed = %d, want %d", consumed, len(p1.Bytes))
	}
	if !bytes.Equal(got.Bytes, p1.Bytes) {
		t.Fatalf("got %v, want %v", got.Bytes, p1.Bytes)
	}

	rest := buf[consumed:oldReadPos]
	newReadPos := oldReadPos - consumed
	if newReadPos != len(rest) {
		t.Fatalf("newReadPos = %d, want %d", newReadPos, len(rest))
	}
	if !bytes.Equal(rest, p2.Bytes) {
		t.Fatalf("remaining buffer = %v, want %v", rest, p2.Bytes)
	}
}

func TestExtractPacketIncomplete(t *testing.T) {
	if _, _, ok := ExtractPacket([]byte{1, 2, 3}, 3); ok {
		t.Fatal("expected no packet with fewer than 4 header bytes")
	}
	p := mustPacket(t, []byte("hello"), 0)
	short := p.Bytes[:len(p.Bytes)-1]
	if _, _, ok := ExtractPacket(short, len(short)); ok {
		t.Fatal("expected no packet when payload is truncated")
	}
}

// Error-packet round-trip (spec.md §8 property 5).
func TestBuildErrorPacket(t *testing.T) {
	msg := "Proxy rejecting any avocado-related queries"
	p, err := BuildErrorPacket(1064, "12345", msg)
	if err != nil {
		t.Fatalf("BuildErrorPacket: %v", err)
	}
	if got, want := ParseLength(p.Bytes), 9+len(msg); got != want {
		t.Errorf("length header = %d, want %d", got, want)
	}
	if got := p.SequenceID(); got != 1 {
		t.Errorf("sequence id = %d, want 1", got)
	}
	payload := p.Payload()
	if payload[0] != 0xff {
		t.Errorf("payload[0] = %#x, want 0xff", payload[0])
	}
	if got, want := int(payload[1])|int(payload[2])<<8, 1064; got != want {
		t.Errorf("error code = %d, want %d", got, want)
	}
	if payload[3] != '#' {
		t.Errorf("payload[3] = %q, want '#'", payload[3])
	}
	if got, want := string(payload[4:9]), "12345"; got != want {
		t.Errorf("sql state = %q, want %q", got, want)
	}
	if got := string(payload[9:]); got != msg {
		t.Errorf("message = %q, want %q", got, msg)
	}
}

func TestBuildErrorPacketNormalizesShortState(t *testing.T) {
	p, err := BuildErrorPacket(1045, "28", "denied")
	if err != nil {
		t.Fatalf("BuildErrorPacket: %v", err)
	}
	state := p.Payload()[4:9]
	if string(state) != "28   " {
		t.Errorf("state = %q, want %q", state, "28   ")
	}
}

func TestClassifyCommand(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		want    CommandCode
		wantErr bool
	}{
		{"ping", []byte{0x0e}, ComPing, false},
		{"query", append([]byte{0x03}, "SELECT 1"...), ComQuery, false},
		{"reserved 0x1b", []byte{0x1b}, CommandCode(0x1b), true},
		{"reserved 0x1c", []byte{0x1c}, CommandCode(0x1c), true},
		{"out of range", []byte{0x20}, CommandCode(0x20), true},
		{"empty payload", []byte{}, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := mustPacket(t, tc.payload, 0)
			got, err := ClassifyCommand(p)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("code = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPacketCloneIsIndependent(t *testing.T) {
	p := mustPacket(t, []byte("hello"), 3)
	c := p.Clone()
	c.Bytes[4] = 'H'
	if p.Bytes[4] == 'H' {
		t.Fatal("mutating the clone affected the original")
	}
}
