package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/mrsinham/dicomfix/internal/archive"
	"github.com/mrsinham/dicomfix/internal/dicom"
	"github.com/mrsinham/dicomfix/internal/dicom/dicomtest"
	"github.com/mrsinham/dicomfix/internal/nifti"
	"github.com/mrsinham/dicomfix/internal/record"
	"github.com/mrsinham/dicomfix/internal/volume"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "--version")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if stdout != "dicomfix dev\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunHelp(t *testing.T) {
	code, stdout, _ := runCLI(t, "--help")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"serve", "fix", "batch", "nifti", "--default"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("help does not mention %q", want)
		}
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"unknown command", []string{"convert"}},
		{"unknown flag", []string{"fix", "--frobnicate"}},
		{"missing input", []string{"fix", "--output", "out.dcm"}},
		{"missing output", []string{"batch", "--input", "in.zip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.args...); code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
		})
	}
}

func TestFixRaw(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "pixels.raw", make([]byte, 12))
	out := filepath.Join(dir, "pixels.dcm")

	code, stdout, stderr := runCLI(t, "fix", "--input", in, "--output", out, "--rows", "2", "--cols", "3")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, stderr)
	}
	if !strings.Contains(stdout, "(2x3)") {
		t.Errorf("stdout = %q", stdout)
	}

	p, err := dicom.Codec{}.DecodeFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if *p.Rows != 2 || *p.Columns != 3 || *p.BitsAllocated != 16 {
		t.Errorf("got %dx%d/%d", *p.Rows, *p.Columns, *p.BitsAllocated)
	}
}

func TestFixRawErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "pixels.raw", make([]byte, 11))
	out := filepath.Join(dir, "pixels.dcm")

	t.Run("size mismatch", func(t *testing.T) {
		code, _, stderr := runCLI(t, "fix", "--input", in, "--output", out, "--rows", "2", "--cols", "3")
		if code != 1 {
			t.Fatalf("exit code = %d", code)
		}
		if !strings.Contains(stderr, "ValidationError") {
			t.Errorf("stderr = %q", stderr)
		}
	})
	t.Run("no geometry", func(t *testing.T) {
		code, _, stderr := runCLI(t, "fix", "--input", in, "--output", out)
		if code != 1 {
			t.Fatalf("exit code = %d", code)
		}
		if !strings.Contains(stderr, "--rows") {
			t.Errorf("stderr = %q", stderr)
		}
	})
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output written for a failed fix: %v", err)
	}
}

func TestFixDICOMWithDefault(t *testing.T) {
	dir := t.TempDir()
	partial := dicomtest.Fixture{Rows: 2, Cols: 2, Omit: dicomtest.StrippableTags}.Bytes(t)
	in := writeFile(t, dir, "partial.dcm", partial)
	out := filepath.Join(dir, "fixed.dcm")

	code, _, stderr := runCLI(t, "fix", "--input", in, "--output", out, "--default", "modality=MR")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, stderr)
	}
	p, err := dicom.Codec{}.DecodeFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if *p.Modality != "MR" {
		t.Errorf("Modality = %q, want MR", *p.Modality)
	}
	if *p.PatientName != "Anonymous" {
		t.Errorf("PatientName = %q", *p.PatientName)
	}
}

func TestParseDefaults(t *testing.T) {
	got, err := parseDefaults([]string{"patientname=Doe^John", "PixelSpacing=0.5\\0.5"})
	if err != nil {
		t.Fatal(err)
	}
	if got["PatientName"] != "Doe^John" || got["PixelSpacing"] != `0.5\0.5` {
		t.Errorf("got %v", got)
	}

	for _, bad := range []string{"Modality", "=MR", "Modalty=MR"} {
		if _, err := parseDefaults([]string{bad}); err == nil {
			t.Errorf("parseDefaults(%q) succeeded", bad)
		}
	}
}

func TestFixRejectsUnconfigurableDefault(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "pixels.raw", make([]byte, 8))
	code, _, stderr := runCLI(t, "fix", "--input", in, "--output", filepath.Join(dir, "o.dcm"),
		"--rows", "2", "--cols", "2", "--default", "Rows=4")
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "Rows") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	err := archive.WriteAll(&buf, []archive.Entry{
		{Name: "a.raw", Data: make([]byte, 12)},
		{Name: "b.raw", Data: make([]byte, 5)},
		{Name: "notes.txt", Data: []byte("hello")},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := writeFile(t, dir, "in.zip", buf.Bytes())
	out := filepath.Join(dir, "out.zip")

	code, stdout, stderr := runCLI(t, "batch", "--input", in, "--output", out, "--rows", "2", "--cols", "3")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, stderr)
	}
	if !strings.Contains(stdout, "Fixed 1 of 2 items (1 failed, 1 skipped)") {
		t.Errorf("stdout = %q", stdout)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := archive.ReadBytes(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "a.dcm,b.raw.error.txt" {
		t.Errorf("entries = %v", names)
	}
}

func TestBatchBadArchive(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.zip", []byte("not a zip"))
	code, _, stderr := runCLI(t, "batch", "--input", in, "--output", filepath.Join(dir, "out.zip"))
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr == "" {
		t.Error("no error reported")
	}
}

// niftiFile returns a little-endian int16 NIfTI-1 single file.
func niftiFile(rows, cols, slices int) []byte {
	raw := make([]byte, 352)
	le := binary.LittleEndian
	le.PutUint32(raw, 348)
	le.PutUint16(raw[40:], 3)
	le.PutUint16(raw[42:], uint16(rows))
	le.PutUint16(raw[44:], uint16(cols))
	le.PutUint16(raw[46:], uint16(slices))
	le.PutUint16(raw[70:], 4)
	le.PutUint16(raw[72:], 16)
	le.PutUint32(raw[108:], math.Float32bits(352))
	copy(raw[344:], "n+1\x00")
	for i := 0; i < rows*cols*slices; i++ {
		raw = le.AppendUint16(raw, uint16(i))
	}
	return raw
}

func TestNifti(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "brain.nii", niftiFile(2, 3, 4))
	out := filepath.Join(dir, "brain.zip")

	code, stdout, stderr := runCLI(t, "nifti", "--input", in, "--output", out, "--position-mode", "affine")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %s", code, stderr)
	}
	if !strings.Contains(stdout, "into 4 images") {
		t.Errorf("stdout = %q", stdout)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := archive.ReadBytes(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	if entries[0].Name != "brain_0001.dcm" || entries[3].Name != "brain_0004.dcm" {
		t.Errorf("names = %s ... %s", entries[0].Name, entries[3].Name)
	}
}

func TestNiftiErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "brain.nii", niftiFile(2, 2, 2))
	garbage := writeFile(t, dir, "garbage.nii", make([]byte, 100))
	out := filepath.Join(dir, "out.zip")

	if code, _, _ := runCLI(t, "nifti", "--input", in, "--output", out, "--position-mode", "oblique"); code != 1 {
		t.Errorf("unknown position mode: exit code = %d", code)
	}
	code, _, stderr := runCLI(t, "nifti", "--input", garbage, "--output", out)
	if code != 1 {
		t.Fatalf("garbage input: exit code = %d", code)
	}
	if !strings.Contains(stderr, "FormatError") {
		t.Errorf("stderr = %q", stderr)
	}
}

type failingEncoder struct{ after int }

func (e *failingEncoder) Encode(rec record.ImageRecord) ([]byte, error) {
	if e.after == 0 {
		return nil, errors.New("disk full")
	}
	e.after--
	return dicom.Codec{}.Encode(rec)
}

func TestWriteSeriesRemovesOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	vol, affine, err := nifti.Load(bytes.NewReader(niftiFile(2, 2, 3)))
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "brain.zip")

	n, _, err := writeSeries(out, volume.NewSlicer(nil), vol, affine, &failingEncoder{after: 2}, "brain.nii")
	if err == nil {
		t.Fatal("writeSeries() succeeded")
	}
	if n != 2 {
		t.Errorf("wrote %d slices before failing, want 2", n)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("partial archive left behind: %v", err)
	}

	n, size, err := writeSeries(out, volume.NewSlicer(nil), vol, affine, dicom.Codec{}, "brain.nii")
	if err != nil {
		t.Fatalf("writeSeries() error = %v", err)
	}
	if n != 3 || size == 0 {
		t.Errorf("wrote %d slices in %d bytes", n, size)
	}
}
