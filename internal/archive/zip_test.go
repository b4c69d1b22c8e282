package archive

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zip"
)

func TestWriteAllReadAll(t *testing.T) {
	in := []Entry{
		{Name: "a.dcm", Data: []byte("first")},
		{Name: "nested/b.raw", Data: bytes.Repeat([]byte{7}, 1000)},
		{Name: "c.txt", Data: nil},
	}

	var buf bytes.Buffer
	if err := WriteAll(&buf, in); err != nil {
		t.Fatalf("WriteAll error: %v", err)
	}

	out, err := ReadBytes(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("ReadBytes error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d entries, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Name != in[i].Name {
			t.Errorf("entry %d name = %q, want %q", i, out[i].Name, in[i].Name)
		}
		if !bytes.Equal(out[i].Data, in[i].Data) {
			t.Errorf("entry %d data mismatch", i)
		}
	}
}

func TestReadAll_SkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("folder/"); err != nil {
		t.Fatal(err)
	}
	w, err := zw.Create("folder/x.dcm")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte("x"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := ReadBytes(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("ReadBytes error: %v", err)
	}
	if len(out) != 1 || out[0].Name != "folder/x.dcm" {
		t.Errorf("entries = %+v, want only folder/x.dcm", out)
	}
}

func TestReadAll_Corrupt(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("PK\x03\x04 not really a zip"), bytes.Repeat([]byte{0xff}, 512)} {
		_, err := ReadBytes(data, 0)
		var aerr *Error
		if !errors.As(err, &aerr) {
			t.Errorf("ReadBytes(%d bytes) = %v, want archive Error", len(data), err)
		}
	}
}

func TestReadAll_SizeLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAll(&buf, []Entry{
		{Name: "a", Data: make([]byte, 600)},
		{Name: "b", Data: make([]byte, 600)},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadBytes(buf.Bytes(), 2000); err != nil {
		t.Errorf("within limit: unexpected error %v", err)
	}

	_, err := ReadBytes(buf.Bytes(), 1000)
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Errorf("over limit: got %v, want archive Error", err)
	}
}

func TestReadAll_UnsafeNames(t *testing.T) {
	for _, name := range []string{"../evil.dcm", "/etc/passwd", `..\evil.dcm`} {
		var buf bytes.Buffer
		if err := WriteAll(&buf, []Entry{{Name: name, Data: []byte("x")}}); err != nil {
			t.Fatal(err)
		}
		_, err := ReadBytes(buf.Bytes(), 0)
		var aerr *Error
		if !errors.As(err, &aerr) {
			t.Errorf("entry %q: got %v, want archive Error", name, err)
		}
	}
}
