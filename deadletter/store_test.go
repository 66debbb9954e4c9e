package deadletter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

func record(t *testing.T, signal string) Record {
	t.Helper()
	env, err := envelope.New(signal, envelope.ChannelReflex, "test",
		envelope.WithTime(time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return Record{
		Envelope: env,
		Reason:   "acknowledgment timeout",
		Attempts: []Attempt{
			{Number: 1, Status: AttemptTimedOut},
			{Number: 2, Status: AttemptTimedOut},
			{Number: 3, Status: AttemptTimedOut},
		},
		RecordedAt: time.Now(),
	}
}

func TestStore_AddAndList(t *testing.T) {
	s := NewStore(10)
	s.Add(record(t, "FIRST"))
	s.Add(record(t, "SECOND"))

	assert.Equal(t, 2, s.Len())

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "SECOND", list[0].Envelope.Signal, "newest first")
	assert.Equal(t, "FIRST", list[1].Envelope.Signal)
	assert.Len(t, list[0].Attempts, 3)
}

func TestStore_BoundedCapacity(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(record(t, fmt.Sprintf("SIG_%d", i)))
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, int64(2), s.Discarded())

	list := s.List()
	assert.Equal(t, "SIG_4", list[0].Envelope.Signal)
	assert.Equal(t, "SIG_2", list[2].Envelope.Signal)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(10)
	s.Add(record(t, "A"))
	s.Add(record(t, "B"))

	assert.Equal(t, 2, s.Clear())
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.List())
}

func TestStore_DefaultCapacity(t *testing.T) {
	s := NewStore(0)
	s.Add(record(t, "A"))
	assert.Equal(t, 1, s.Len())
}
