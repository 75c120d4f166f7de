package store

import (
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/HealBot/internal/models"
)

func encodeSession(s *models.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w: %v", ErrCorruptSession, err)
	}
	if s.History == nil {
		s.History = make(models.History)
	}
	return &s, nil
}

// stamped returns a copy of the session carrying the version about to be stored.
func stamped(s *models.Session, version int64) *models.Session {
	c := s.Clone()
	c.Version = version
	return c
}
