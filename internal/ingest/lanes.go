package ingest

// Priority lanes, ordered most urgent first.
const (
	LaneP0 = "p0"
	LaneP1 = "p1"
	LaneP2 = "p2"
	LaneP3 = "p3"
)

// LaneOrder is the strict processing order for the dispatch worker.
var LaneOrder = []string{LaneP0, LaneP1, LaneP2, LaneP3}

// priorityLane maps the triage priority and verification flags to a lane.
// A likely duplicate is downgraded one lane unless it already sits in p0.
func priorityLane(priority int, requiresReview, likelyDuplicate bool) string {
	var lane string
	switch {
	case priority >= 5 && !requiresReview:
		lane = LaneP0
	case priority == 4:
		lane = LaneP1
	case priority == 3:
		lane = LaneP2
	default:
		lane = LaneP3
	}
	if likelyDuplicate {
		lane = downgrade(lane)
	}
	return lane
}

func downgrade(lane string) string {
	switch lane {
	case LaneP1:
		return LaneP2
	case LaneP2:
		return LaneP3
	default:
		return lane
	}
}
