package localstore

import (
	"github.com/lurioneli/Sleep-Suivour/internal/document"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// fully-degraded path when the SQLite file cannot even be opened.
type MemoryStore struct {
	doc    *document.Document
	device DevicePrefs
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveDocument(doc *document.Document) {
	m.doc = doc.Clone()
}

func (m *MemoryStore) LoadDocument(now document.Millis) (*document.Document, LoadResult) {
	if m.doc == nil {
		return document.New(), LoadResult{Fresh: true, Degraded: true}
	}
	return m.doc.Clone(), LoadResult{Degraded: true}
}

func (m *MemoryStore) SaveDevice(prefs DevicePrefs) {
	m.device = prefs
}

func (m *MemoryStore) LoadDevice() DevicePrefs {
	return m.device
}

func (m *MemoryStore) ResetDocument() {
	m.doc = nil
}

func (m *MemoryStore) Close() error {
	return nil
}
