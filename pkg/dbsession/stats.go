package dbsession

import (
	"context"
	"slices"
	"strings"
	"time"
)

// SessionInfo describes one record of the session table.
type SessionInfo struct {
	ID         string    `json:"id"`
	FullDBName string    `json:"full_db_name"`
	State      string    `json:"state"`
	Lock       int       `json:"lock"`
	HasReadTx  bool      `json:"has_read_tx"`
	Touched    time.Time `json:"touched"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats is a point-in-time snapshot of the session table.
type Stats struct {
	Sessions         int           `json:"sessions"`
	Locked           int           `json:"locked"`
	ReadTransactions int           `json:"read_transactions"`
	Details          []SessionInfo `json:"details"`
}

// Stats returns a snapshot of the session table, sorted by session id.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if err := m.gate.lock(ctx); err != nil {
		return Stats{}, err
	}
	defer m.gate.unlock()

	st := Stats{
		Sessions: len(m.sessions),
		Details:  make([]SessionInfo, 0, len(m.sessions)),
	}
	for id, sess := range m.sessions {
		info := SessionInfo{
			ID:         id,
			FullDBName: sess.fullDBName,
			State:      sess.status().String(),
			Lock:       sess.lock,
			HasReadTx:  sess.hasReadTx(),
			Touched:    sess.touched,
			CreatedAt:  sess.createdAt,
		}
		if info.Lock > 0 {
			st.Locked++
		}
		if info.HasReadTx {
			st.ReadTransactions++
		}
		st.Details = append(st.Details, info)
	}
	slices.SortFunc(st.Details, func(a, b SessionInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return st, nil
}
