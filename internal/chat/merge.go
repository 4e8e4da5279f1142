package chat

import (
	"sort"

	"escrow-engine-go/internal/models"
)

// MergeMessages folds messages seen on the channel and messages returned by
// polling into one list, deduplicated by id and sorted by (created_at, id).
// A message delivered both ways appears once.
func MergeMessages(known, incoming []models.Message) []models.Message {
	byId := make(map[string]models.Message, len(known)+len(incoming))
	for _, m := range known {
		byId[m.Id] = m
	}
	for _, m := range incoming {
		byId[m.Id] = m
	}

	merged := make([]models.Message, 0, len(byId))
	for _, m := range byId {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Before(merged[j])
	})
	return merged
}
