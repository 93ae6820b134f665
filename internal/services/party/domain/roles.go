package domain

// SlotStatus is the claim state of a role slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotTaken     SlotStatus = "taken"
)

// RoleSlot is one exclusively assignable role in a session.
type RoleSlot struct {
	Status      SlotStatus `json:"status"`
	UID         string     `json:"uid,omitempty"`
	DisplayName string     `json:"displayName,omitempty"`
}

// Available reports whether the slot can be claimed.
func (r RoleSlot) Available() bool {
	return r.Status != SlotTaken
}
