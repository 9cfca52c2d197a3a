// Package localstore persists the state document on the device. A single
// SQLite file holds a small key/value table: the current document, the
// device-local preferences that survive sign-out, and timestamped backups of
// any document that failed validation on load.
//
// Persistence failures are never fatal — a store that cannot write degrades
// to memory-only operation for the rest of the process.
package localstore

import (
	"github.com/lurioneli/Sleep-Suivour/internal/document"
)

// DevicePrefs are the narrow allow-list of device-local values preserved
// across sign-out and never synced.
type DevicePrefs struct {
	DeviceID          string `json:"deviceId"`
	DeviceName        string `json:"deviceName"`
	HasSeenOnboarding bool   `json:"hasSeenOnboarding"`
}

// LoadResult describes how a document load went.
type LoadResult struct {
	// Fresh is true when no saved document existed and a default was
	// returned.
	Fresh bool
	// Corrupt is true when saved bytes failed validation; they were backed
	// up under BackupKey and a default document returned. The caller
	// should surface a warning.
	Corrupt   bool
	BackupKey string
	// Degraded is true when the store is running memory-only.
	Degraded bool
}

// Store is the device persistence contract the tracker depends on.
type Store interface {
	// SaveDocument persists the document. It never fails the caller: on a
	// write error the store logs once and degrades to memory-only.
	SaveDocument(doc *document.Document)
	// LoadDocument returns the saved document, or a fresh default.
	LoadDocument(now document.Millis) (*document.Document, LoadResult)
	SaveDevice(prefs DevicePrefs)
	LoadDevice() DevicePrefs
	// ResetDocument removes the saved document (sign-out), leaving device
	// prefs and backups in place.
	ResetDocument()
	Close() error
}
