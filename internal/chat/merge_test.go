package chat

import (
	"testing"
	"time"

	"escrow-engine-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestMergeMessages(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a := models.Message{Id: "a", CreatedAt: base}
	b := models.Message{Id: "b", CreatedAt: base}
	c := models.Message{Id: "c", CreatedAt: base.Add(time.Second)}

	pushed := []models.Message{c, a}
	polled := []models.Message{a, b, c}

	merged := MergeMessages(pushed, polled)
	ids := make([]string, len(merged))
	for i, m := range merged {
		ids[i] = m.Id
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	assert.Empty(t, MergeMessages(nil, nil))
}
