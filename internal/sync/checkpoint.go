package sync

import (
	"strconv"
	"time"

	"github.com/matheus3301/smsinbox/internal/store"
)

const checkpointPrefix = "sync.last."

// Checkpoints records when each account was last refreshed successfully.
type Checkpoints struct {
	db *store.DB
}

func NewCheckpoints(db *store.DB) *Checkpoints {
	return &Checkpoints{db: db}
}

// Mark stores at as the last successful refresh of account.
func (c *Checkpoints) Mark(account string, at time.Time) error {
	return c.db.PutState(checkpointPrefix+account, strconv.FormatInt(at.UnixMilli(), 10))
}

// Last returns the last successful refresh of account, zero if there was none.
func (c *Checkpoints) Last(account string) (time.Time, error) {
	v, ok, err := c.db.GetState(checkpointPrefix + account)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}
