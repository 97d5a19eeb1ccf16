package journal

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"tradegate/internal/domain"
)

// NewEvent builds a journal event for one structure transition. Event IDs
// are ULIDs, so lexicographic order matches append order.
func NewEvent(st *domain.Structure, from, to domain.StructureState, reason string) *domain.StructureEvent {
	now := time.Now().UTC()
	return &domain.StructureEvent{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		StructureID: st.ID,
		Underlying:  st.Underlying,
		Kind:        st.Kind,
		From:        from,
		To:          to,
		Reason:      reason,
		At:          now,
	}
}
