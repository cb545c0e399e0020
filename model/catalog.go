package model

import "time"

// CatalogEntry is one element set observed in a catalog listing. Two
// entries are the same row only when Source, NoradID, Line1 and Line2 all
// match byte for byte.
type CatalogEntry struct {
	Source  string
	NoradID string
	Name    string
	Line1   string
	Line2   string
	Epoch   time.Time
}

// DiscoveryRun records one execution of the discovery pipeline for a
// source. Zero times mean "not set": Since is zero when no lower bound
// applied, Cursor is zero when nothing is stored yet, FinishedAt is zero
// while the run is open.
type DiscoveryRun struct {
	ID         int64
	RunUUID    string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Since      time.Time
	Cursor     time.Time
	Offline    bool
	UsedCache  bool
	NewEntries int
	Error      string
}

// Sealed reports whether the run has finished, successfully or not.
func (r DiscoveryRun) Sealed() bool { return !r.FinishedAt.IsZero() }

// Failed reports whether the run was sealed with an error.
func (r DiscoveryRun) Failed() bool { return r.Error != "" }
