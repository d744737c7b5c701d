package peer

import "seqlog/domain/replog"

// Store is the replica a peer owns. replog.Store (through NewMemoryStore)
// and the SQLite binding in infra/sqlstore both satisfy it.
type Store interface {
	Insert(records []replog.Record) error
	Range(from, to replog.NullUint64) ([]replog.Record, error)
	Pending(limit int) ([]replog.Record, error)
	MaxLocalSequence(id replog.PeerID) (int64, error)
	MaxGlobalPosition() (replog.NullUint64, error)
	All() ([]replog.Record, error)
}

type memoryStore struct {
	s *replog.Store
}

// NewMemoryStore returns a Store backed by an in-memory replog.Store.
func NewMemoryStore() Store {
	return memoryStore{s: replog.NewStore()}
}

func (m memoryStore) Insert(records []replog.Record) error {
	return m.s.Insert(records)
}

func (m memoryStore) Range(from, to replog.NullUint64) ([]replog.Record, error) {
	return m.s.Range(from, to), nil
}

func (m memoryStore) Pending(limit int) ([]replog.Record, error) {
	return m.s.Pending(limit), nil
}

func (m memoryStore) MaxLocalSequence(id replog.PeerID) (int64, error) {
	return m.s.MaxLocalSequence(id), nil
}

func (m memoryStore) MaxGlobalPosition() (replog.NullUint64, error) {
	return m.s.MaxGlobalPosition(), nil
}

func (m memoryStore) All() ([]replog.Record, error) {
	return m.s.All(), nil
}
