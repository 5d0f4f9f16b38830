package store

import "github.com/12Perseus21/QueueTrack/internal/models"

var transitionMap = map[string][]string{
	"call_next": {models.StatusWaiting},
	"serve":     {models.StatusCalled},
	"skip":      {models.StatusWaiting, models.StatusCalled},
	"cancel":    {models.StatusWaiting, models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
