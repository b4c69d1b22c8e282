package record

import (
	"math/big"

	"github.com/google/uuid"
)

// uidRoot is the DICOM root for UIDs derived from a UUID (PS3.5 B.2).
const uidRoot = "2.25."

// NewUID returns a fresh, globally unique DICOM UID of the form 2.25.<decimal UUID>.
// The result is at most 44 characters, well under the 64-character limit.
func NewUID() string {
	return UIDFromUUID(uuid.New())
}

// UIDFromUUID converts u into its 2.25 DICOM UID form.
func UIDFromUUID(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	return uidRoot + n.String()
}
