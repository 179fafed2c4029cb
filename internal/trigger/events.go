package trigger

import "strconv"

// Domain events reported by the surrounding application.
const (
	EventProductInstanceResultsStored = 0
	EventProductInstanceVideoStored   = 1
	EventProductAdded                 = 2
	EventProductModified              = 3
)

var eventNames = map[int]string{
	EventProductInstanceResultsStored: "ProductInstanceResultsStored",
	EventProductInstanceVideoStored:   "ProductInstanceVideoStored",
	EventProductAdded:                 "ProductAdded",
	EventProductModified:              "ProductModified",
}

// EventName returns a readable name for a domain event id.
func EventName(id int) string {
	if n, ok := eventNames[id]; ok {
		return n
	}
	return "Event" + strconv.Itoa(id)
}
