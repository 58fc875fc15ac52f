package quota

import "github.com/Rrens/ally-chat/internal/domain"

const (
	BaseCost            = 1
	ImageSurcharge      = 5
	ImageModelSurcharge = 5
)

// Cost is the flat price of sending one message with the given number of attached images
func Cost(model domain.Model, images int) int {
	cost := BaseCost
	if images > 0 {
		cost += images * ImageSurcharge
	}
	if model.GeneratesImages() {
		cost += ImageModelSurcharge
	}
	return cost
}
