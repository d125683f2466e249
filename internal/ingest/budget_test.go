package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBudget_PageCeiling(t *testing.T) {
	b := NewBudget(2, time.Hour)

	assert.False(t, b.Exhausted())

	b.ConsumePage()
	assert.False(t, b.Exhausted())

	b.ConsumePage()
	assert.True(t, b.Exhausted())
}

func TestBudget_Deadline(t *testing.T) {
	b := NewBudget(100, time.Hour)
	b.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.True(t, b.Exhausted())
}
