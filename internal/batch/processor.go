// Package batch repairs a collection of named items, isolating per-item
// failures so that one bad file never aborts the rest.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/imaging"
	"github.com/mrsinham/dicomfix/internal/record"
)

// ErrNoGeometry is reported for raw items when the batch declares no geometry.
var ErrNoGeometry = errors.New("raw pixel item requires rows, cols and bit depth")

// Item is one named input of a batch.
type Item struct {
	Name string
	Data []byte
}

// Codec decodes DICOM items and encodes fixed records.
type Codec interface {
	Decode(data []byte) (record.Partial, error)
	Encode(rec record.ImageRecord) ([]byte, error)
}

// Observer receives batch events. Implementations must not block.
type Observer interface {
	ItemFixed(name string, kind Kind)
	ItemFailed(name string, kind Kind, err error)
	ItemSkipped(name string)
	BatchCompleted(attempted, failed, skipped int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ItemFixed(string, Kind)                      {}
func (nopObserver) ItemFailed(string, Kind, error)              {}
func (nopObserver) ItemSkipped(string)                          {}
func (nopObserver) BatchCompleted(int, int, int, time.Duration) {}

// Options configures a Processor.
type Options struct {
	Classifier Classifier
	// Geometry applies to raw items. Nil makes every raw item fail validation.
	Geometry *fixer.Params
	Observer Observer
	// NewUID generates the shared study context. Defaults to record.NewUID.
	NewUID func() string
}

// Processor runs batches sequentially.
type Processor struct {
	fixer *fixer.Fixer
	codec Codec
	opts  Options
}

// NewProcessor returns a Processor. A zero Classifier is replaced by DefaultClassifier.
func NewProcessor(f *fixer.Fixer, codec Codec, opts Options) *Processor {
	if opts.Classifier.DICOM == nil && opts.Classifier.Raw == nil && opts.Classifier.Image == nil {
		opts.Classifier = DefaultClassifier()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.NewUID == nil {
		opts.NewUID = record.NewUID
	}
	return &Processor{fixer: f, codec: codec, opts: opts}
}

// Process fixes every accepted item in order. Item failures are recorded in
// the result and never stop the batch. All records share one study context.
// The only error returned is ctx's, in which case no result is produced.
func (p *Processor) Process(ctx context.Context, items []Item) (*Result, error) {
	start := time.Now()
	sc := record.NewStudyContext(p.opts.NewUID)
	res := &Result{StudyContext: sc}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		kind := p.opts.Classifier.Classify(item.Name)
		if kind == KindSkip {
			res.Skipped++
			p.opts.Observer.ItemSkipped(item.Name)
			continue
		}

		res.Attempted++
		rec, encoded, err := p.fixItem(item, kind, sc)
		if err != nil {
			res.Failed++
			res.Outcomes = append(res.Outcomes, Outcome{Name: item.Name, Kind: kind, Err: err})
			p.opts.Observer.ItemFailed(item.Name, kind, err)
			continue
		}
		res.Outcomes = append(res.Outcomes, Outcome{Name: item.Name, Kind: kind, Record: &rec, Encoded: encoded})
		p.opts.Observer.ItemFixed(item.Name, kind)
	}

	p.opts.Observer.BatchCompleted(res.Attempted, res.Failed, res.Skipped, time.Since(start))
	return res, nil
}

func (p *Processor) fixItem(item Item, kind Kind, sc *record.StudyContext) (rec record.ImageRecord, encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &fixer.InternalError{Op: "fix " + kind.String() + " item", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch kind {
	case KindDICOM:
		partial, err := p.codec.Decode(item.Data)
		if err != nil {
			return rec, nil, err
		}
		rec, err = p.fixer.FixRecord(partial, sc)
		if err != nil {
			return rec, nil, err
		}
	case KindRaw:
		if p.opts.Geometry == nil {
			return rec, nil, &fixer.ValidationError{Err: ErrNoGeometry}
		}
		rec, err = p.fixer.FixRaw(item.Data, *p.opts.Geometry, sc)
		if err != nil {
			return rec, nil, err
		}
	case KindImage:
		img, err := imaging.DecodeBytes(item.Data)
		if err != nil {
			return rec, nil, err
		}
		rec, err = p.fixer.FixImage(img, sc)
		if err != nil {
			return rec, nil, err
		}
	default:
		return rec, nil, &fixer.InternalError{Op: "classify", Err: fmt.Errorf("unexpected kind %v", kind)}
	}

	encoded, err = p.codec.Encode(rec)
	if err != nil {
		return rec, nil, &fixer.InternalError{Op: "encode", Err: err}
	}
	return rec, encoded, nil
}
