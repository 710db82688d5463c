package packet

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	got := Encode(3, 25, []byte{0x00, 0xC0, '|'})
	want := append([]byte("SEQ:3|TOTAL:25|DATA:"), 0x00, 0xC0, '|')
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("hello"),
		[]byte("|DATA:inside payload"),
		bytes.Repeat([]byte{0xFF}, 1024),
	}
	for i, p := range payloads {
		f, err := Decode(Encode(i, 7, p))
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if f.Seq != i || f.Total != 7 || !bytes.Equal(f.Payload, p) {
			t.Fatalf("payload %d: got %+v", i, f)
		}
	}
}

func TestDecodeCopiesPayload(t *testing.T) {
	buf := Encode(0, 1, []byte("abc"))
	f, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] = 'z'
	if string(f.Payload) != "abc" {
		t.Fatalf("payload aliases input buffer: %q", f.Payload)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no data marker": "SEQ:1|TOTAL:2",
		"no seq":         "|TOTAL:2|DATA:x",
		"no total":       "SEQ:1|DATA:x",
		"seq not int":    "SEQ:a|TOTAL:2|DATA:x",
		"total not int":  "SEQ:1|TOTAL:two|DATA:x",
		"negative seq":   "SEQ:-1|TOTAL:2|DATA:x",
		"signed seq":     "SEQ:+1|TOTAL:2|DATA:x",
		"padded total":   "SEQ:1|TOTAL:02|DATA:x",
		"spaced seq":     "SEQ: 1|TOTAL:2|DATA:x",
		"empty seq":      "SEQ:|TOTAL:2|DATA:x",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%q) err = %v, want *DecodeError", in, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
		chk  func(Message) bool
	}{
		{"END", KindEnd, nil},
		{"READY", KindReady, nil},
		{"ACK:12", KindAck, func(m Message) bool { return m.Ack == 12 }},
		{"ACK:-1", KindAck, func(m Message) bool { return m.Ack == -1 }},
		{"ACK:x", KindInvalid, nil},
		{"ACK:+3", KindInvalid, nil},
		{"ACK:03", KindInvalid, nil},
		{"ACK:-2", KindInvalid, nil},
		{"ACK:0", KindAck, func(m Message) bool { return m.Ack == 0 }},
		{"ERROR:file not found", KindError, func(m Message) bool { return m.Reason == "file not found" }},
		{"OK:GBN|SIZE:25000", KindOK, func(m Message) bool { return m.Protocol == GBN && m.Size == 25000 }},
		{"OK:SR|SIZE:0", KindOK, func(m Message) bool { return m.Protocol == SR && m.Size == 0 }},
		{"OK:XYZ|SIZE:1", KindInvalid, nil},
		{"OK:SR|SIZE:+5", KindInvalid, nil},
		{"DOWNLOAD:a.txt", KindDownload, func(m Message) bool { return m.Name == "a.txt" }},
		{"REQUEST:b.bin", KindDownload, func(m Message) bool { return m.Name == "b.bin" }},
		{"UPLOAD_GBN:big", KindUploadGBN, func(m Message) bool { return m.Name == "big" && m.Protocol == GBN }},
		{"UPLOAD_SR:small", KindUploadSR, func(m Message) bool { return m.Name == "small" && m.Protocol == SR }},
		{"SEQ:0|TOTAL:1|DATA:END", KindFrame, func(m Message) bool { return string(m.Frame.Payload) == "END" }},
		{"HELLO", KindInvalid, nil},
	}
	for _, c := range cases {
		m := Classify([]byte(c.in))
		if m.Kind != c.kind {
			t.Errorf("Classify(%q).Kind = %v, want %v", c.in, m.Kind, c.kind)
			continue
		}
		if c.chk != nil && !c.chk(m) {
			t.Errorf("Classify(%q) = %+v", c.in, m)
		}
	}
}

func TestControlBuilders(t *testing.T) {
	cases := map[string][]byte{
		"ACK:-1":          Ack(-1),
		"END":             End(),
		"READY":           Ready(),
		"ERROR:nope":      Error("nope"),
		"OK:SR|SIZE:500":  OK(SR, 500),
		"DOWNLOAD:x":      DownloadRequest("x"),
		"UPLOAD_GBN:file": UploadRequest(GBN, "file"),
		"UPLOAD_SR:file":  UploadRequest(SR, "file"),
	}
	for want, got := range cases {
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
