package lifecycle

import (
	"fmt"
	"strings"
)

// View splits the staff console into the review queue and everything else.
type View string

const (
	ViewAll      View = ""
	ViewPending  View = "pending"
	ViewReviewed View = "other"
)

func ParseView(value string) (View, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return ViewAll, nil
	case "pending", "pendingreview", "pending_review":
		return ViewPending, nil
	case "other", "reviewed":
		return ViewReviewed, nil
	default:
		return ViewAll, fmt.Errorf("unknown status view %q", value)
	}
}

func (v View) Matches(s Status) bool {
	switch v {
	case ViewPending:
		return s == StatusPendingReview
	case ViewReviewed:
		return s != StatusPendingReview
	default:
		return true
	}
}
