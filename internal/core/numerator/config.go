// Package numerator provides domain contracts for fiscal document numbering.
package numerator

import "fmt"

// Family groups document kinds that share one numbering counter.
type Family string

const (
	// FamilyNFe numbers goods documents (NF-e and its variants).
	FamilyNFe Family = "nfe"
	// FamilyNFSe numbers service documents (NFS-e, via RPS).
	FamilyNFSe Family = "nfse"
)

// DefaultSeries is used when a counter is created without an explicit series.
const DefaultSeries = "1"

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f == FamilyNFe || f == FamilyNFSe
}

// ParseFamily converts a user supplied string into a Family.
func ParseFamily(s string) (Family, error) {
	f := Family(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown numbering family %q", s)
	}
	return f, nil
}

// Reservation is a consumed (number, series) pair. It is never handed out again.
type Reservation struct {
	Number int64
	Series string
}

// GapReport is the result of a read-only gap check.
type GapReport struct {
	Family   Family
	Series   string
	Current  int64 // next number the counter will hand out
	Expected int64
	HasGap   bool // Expected > Current
}
