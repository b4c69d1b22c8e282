package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mrsinham/dicomfix/internal/archive"
	"github.com/mrsinham/dicomfix/internal/batch"
	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/imaging"
	"github.com/mrsinham/dicomfix/internal/nifti"
	"github.com/mrsinham/dicomfix/internal/observability"
	"github.com/mrsinham/dicomfix/internal/record"
)

const (
	headerAttempted = "X-Batch-Attempted"
	headerFailed    = "X-Batch-Failed"

	contentTypeDICOM = "application/dicom"
	contentTypeZIP   = "application/zip"

	uploadField = "file"
)

// upload reads the multipart file field of r.
func upload(r *http.Request) (name string, data []byte, err error) {
	f, hdr, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, err
		}
		return "", nil, &requestError{msg: fmt.Sprintf("missing multipart field %q", uploadField), err: err}
	}
	defer func() { _ = f.Close() }()

	data, err = io.ReadAll(f)
	if err != nil {
		return "", nil, &requestError{msg: "cannot read upload", err: err}
	}
	return hdr.Filename, data, nil
}

// intParam parses query parameter key. def < 0 makes the parameter required.
func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		if def < 0 {
			return 0, badRequest("query parameter %q is required", key)
		}
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("query parameter %q: %q is not an integer", key, v)
	}
	return n, nil
}

// geometryParams reads rows, cols and bits. With required false and neither
// rows nor cols given, it returns nil.
func geometryParams(r *http.Request, required bool) (*fixer.Params, error) {
	q := r.URL.Query()
	if !required && q.Get("rows") == "" && q.Get("cols") == "" {
		return nil, nil
	}
	rows, err := intParam(r, "rows", -1)
	if err != nil {
		return nil, err
	}
	cols, err := intParam(r, "cols", -1)
	if err != nil {
		return nil, err
	}
	bits, err := intParam(r, "bits", 16)
	if err != nil {
		return nil, err
	}
	return &fixer.Params{Rows: rows, Cols: cols, BitDepth: bits}, nil
}

func attachment(w http.ResponseWriter, contentType, filename string, status int, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}

func (s *Server) writeRecord(w http.ResponseWriter, rec record.ImageRecord) error {
	encoded, err := s.opts.Codec.Encode(rec)
	if err != nil {
		return err
	}
	return attachment(w, contentTypeDICOM, "fixed.dcm", http.StatusOK, encoded)
}

// handleFixRaw wraps a raw pixel buffer: POST /fixdicom?rows=&cols=&bits=.
func (s *Server) handleFixRaw(w http.ResponseWriter, r *http.Request) error {
	params, err := geometryParams(r, true)
	if err != nil {
		return err
	}
	_, data, err := upload(r)
	if err != nil {
		return err
	}
	rec, err := s.opts.Fixer.FixRaw(data, *params, nil)
	if err != nil {
		return err
	}
	return s.writeRecord(w, rec)
}

// handleFixFile completes an uploaded DICOM file: POST /fixdicom/file.
func (s *Server) handleFixFile(w http.ResponseWriter, r *http.Request) error {
	_, data, err := upload(r)
	if err != nil {
		return err
	}
	partial, err := s.opts.Codec.Decode(data)
	if err != nil {
		return err
	}
	rec, err := s.opts.Fixer.FixRecord(partial, nil)
	if err != nil {
		return err
	}
	return s.writeRecord(w, rec)
}

// handleFixImage converts a grayscale raster: POST /fiximage.
func (s *Server) handleFixImage(w http.ResponseWriter, r *http.Request) error {
	_, data, err := upload(r)
	if err != nil {
		return err
	}
	img, err := imaging.DecodeBytes(data)
	if err != nil {
		return err
	}
	rec, err := s.opts.Fixer.FixImage(img, nil)
	if err != nil {
		return err
	}
	return s.writeRecord(w, rec)
}

// handleFixBatch repairs every entry of a ZIP upload: POST /fixbatch.
func (s *Server) handleFixBatch(w http.ResponseWriter, r *http.Request) error {
	params, err := geometryParams(r, false)
	if err != nil {
		return err
	}
	if params == nil {
		params = s.opts.Geometry
	}
	_, data, err := upload(r)
	if err != nil {
		return err
	}

	entries, err := archive.ReadBytes(data, s.opts.MaxArchiveBytes)
	if err != nil {
		return err
	}
	items := make([]batch.Item, len(entries))
	for i, e := range entries {
		items[i] = batch.Item{Name: e.Name, Data: e.Data}
	}

	proc := batch.NewProcessor(s.opts.Fixer, s.opts.Codec, batch.Options{
		Classifier: s.opts.Classifier,
		Geometry:   params,
		Observer:   &observability.BatchObserver{Logger: s.opts.Logger, Metrics: s.opts.Metrics},
		NewUID:     s.opts.NewUID,
	})
	res, err := proc.Process(r.Context(), items)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := archive.WriteAll(&buf, res.Entries()); err != nil {
		return &fixer.InternalError{Op: "write archive", Err: err}
	}
	w.Header().Set(headerAttempted, strconv.Itoa(res.Attempted))
	w.Header().Set(headerFailed, strconv.Itoa(res.Failed))
	return attachment(w, contentTypeZIP, "fixed.zip", http.StatusOK, buf.Bytes())
}

// handleNifti converts a NIfTI volume into a series: POST /nifti2dicom.
func (s *Server) handleNifti(w http.ResponseWriter, r *http.Request) error {
	name, data, err := upload(r)
	if err != nil {
		return err
	}
	vol, affine, err := nifti.Load(bytes.NewReader(data))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	n, err := s.opts.Slicer.WriteZIP(&buf, vol, affine, s.opts.Codec, name)
	s.opts.Metrics.SlicesTotal.Add(float64(n))
	if err != nil {
		return err
	}

	s.opts.Logger.VolumeSliced(vol.Rows, vol.Cols, vol.Slices, string(s.opts.Slicer.Mode), int64(buf.Len()))
	return attachment(w, contentTypeZIP, "slices.zip", http.StatusOK, buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}
