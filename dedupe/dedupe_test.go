package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenDoesNotRecord(t *testing.T) {
	c := New(0, time.Minute)
	assert.False(t, c.Seen("msg-1"))
	// Seen must stay false until Record runs, otherwise a nacked message
	// would be suppressed on redelivery.
	assert.False(t, c.Seen("msg-1"))
}

func TestRecordThenSeen(t *testing.T) {
	c := New(0, time.Minute)
	c.Record("msg-1")
	assert.True(t, c.Seen("msg-1"))
	assert.False(t, c.Seen("msg-2"))
	assert.Equal(t, int64(1), c.Len())
}

func TestEmptyID(t *testing.T) {
	c := New(0, time.Minute)
	c.Record("")
	assert.False(t, c.Seen(""))
}

func TestExpiry(t *testing.T) {
	c := New(0, time.Second)
	c.Record("msg-1")
	assert.True(t, c.Seen("msg-1"))
	time.Sleep(1100 * time.Millisecond)
	assert.False(t, c.Seen("msg-1"))
}
