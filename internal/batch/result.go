package batch

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mrsinham/dicomfix/internal/archive"
	"github.com/mrsinham/dicomfix/internal/record"
)

// Error kinds reported in descriptors.
const (
	KindValidationError = "ValidationError"
	KindFormatError     = "FormatError"
	KindArchiveError    = "ArchiveError"
	KindInternalError   = "InternalError"
)

// kinder is implemented by the error types of the repair taxonomy.
type kinder interface {
	Kind() string
}

// ErrorKind returns the taxonomy kind of err. Errors outside the taxonomy are internal.
func ErrorKind(err error) string {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternalError
}

// Describe renders err as a one-line "Kind: message" descriptor.
func Describe(err error) string {
	return fmt.Sprintf("%s: %v", ErrorKind(err), err)
}

// Outcome is the result of one attempted item: either an encoded record or an error.
type Outcome struct {
	Name    string
	Kind    Kind
	Record  *record.ImageRecord
	Encoded []byte
	Err     error
}

// OK reports whether the item was fixed.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Result aggregates a batch. Outcomes keep input order and only list
// attempted items.
type Result struct {
	Outcomes     []Outcome
	Attempted    int
	Failed       int
	Skipped      int
	StudyContext *record.StudyContext
}

// Fixed returns the number of successfully fixed items.
func (r *Result) Fixed() int {
	return r.Attempted - r.Failed
}

// Entries converts r into output archive entries: <name>.dcm for fixed items
// and a <name>.error.txt companion holding the descriptor for failed ones.
func (r *Result) Entries() []archive.Entry {
	seen := make(map[string]int, len(r.Outcomes))
	entries := make([]archive.Entry, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.OK() {
			entries = append(entries, archive.Entry{Name: unique(seen, fixedName(o.Name)), Data: o.Encoded})
			continue
		}
		entries = append(entries, archive.Entry{
			Name: unique(seen, o.Name+".error.txt"),
			Data: []byte(Describe(o.Err) + "\n"),
		})
	}
	return entries
}

func fixedName(name string) string {
	ext := path.Ext(name)
	if strings.EqualFold(ext, ".dcm") {
		return name
	}
	return strings.TrimSuffix(name, ext) + ".dcm"
}

// unique suffixes name with _2, _3... when it was already used.
func unique(seen map[string]int, name string) string {
	seen[name]++
	n := seen[name]
	if n == 1 {
		return name
	}
	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
	return unique(seen, candidate)
}
