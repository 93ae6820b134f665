// Package roles assigns exclusive roles to session players.
package roles

import (
	"context"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// ClaimOutcome is the result of a claim attempt.
type ClaimOutcome string

const (
	ClaimTaken    ClaimOutcome = "taken"
	ClaimConflict ClaimOutcome = "conflict"
)

// ClaimResult reports whether the caller now holds the role. Slot is the
// slot as last observed.
type ClaimResult struct {
	Outcome ClaimOutcome
	Slot    domain.RoleSlot
}

// Service claims and releases role slots.
type Service struct {
	store   docstore.Store
	catalog []string
	known   map[string]struct{}
}

// NewService builds a role service for a fixed role catalog.
func NewService(store docstore.Store, catalog []string) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("role catalog is empty")
	}
	known := make(map[string]struct{}, len(catalog))
	names := make([]string, 0, len(catalog))
	for _, name := range catalog {
		name = strings.TrimSpace(name)
		if name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("invalid role name %q", name)
		}
		if _, dup := known[name]; dup {
			return nil, fmt.Errorf("duplicate role name %q", name)
		}
		known[name] = struct{}{}
		names = append(names, name)
	}
	return &Service{store: store, catalog: names, known: known}, nil
}

// Catalog returns the role names in catalog order.
func (s *Service) Catalog() []string {
	out := make([]string, len(s.catalog))
	copy(out, s.catalog)
	return out
}

// InitSlots adds an available slot for every catalog role missing from the
// session. Existing slots are left as they are.
func (s *Service) InitSlots(ctx context.Context, code string) error {
	_, err := s.store.Transaction(ctx, domain.RolesPath(code), func(current any, _ bool) (any, bool) {
		slots, _ := current.(map[string]any)
		if slots == nil {
			slots = make(map[string]any, len(s.catalog))
		}
		changed := false
		for _, name := range s.catalog {
			if _, ok := slots[name]; ok {
				continue
			}
			slots[name] = map[string]any{"status": string(domain.SlotAvailable)}
			changed = true
		}
		return slots, changed
	})
	if err != nil {
		return fmt.Errorf("init role slots: %w", err)
	}
	return nil
}

// Slots returns the current role slots of a session.
func (s *Service) Slots(ctx context.Context, code string) (map[string]domain.RoleSlot, error) {
	snap, err := s.store.Get(ctx, domain.RolesPath(code))
	if err != nil {
		return nil, fmt.Errorf("get role slots: %w", err)
	}
	slots := map[string]domain.RoleSlot{}
	if !snap.Exists {
		return slots, nil
	}
	if err := docstore.Decode(snap.Value, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// Claim gives roleName to the acting player if the slot is free. A player
// holding another role releases it first, including the player's role
// field; that release is not atomic with the claim, so a player who loses
// the new slot ends up with no role.
func (s *Service) Claim(ctx context.Context, h domain.Handle, roleName string) (ClaimResult, error) {
	if err := h.Validate(); err != nil {
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	if _, ok := s.known[roleName]; !ok {
		return ClaimResult{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown role", map[string]string{"Role": roleName})
	}

	held, err := s.heldRole(ctx, h)
	if err != nil {
		return ClaimResult{}, err
	}
	if held != "" && held != roleName {
		if err := s.Release(ctx, h.Code, h.UID, held); err != nil {
			log.Printf("roles: release previous role=%s session=%s uid=%s: %v", held, h.Code, h.UID, err)
		}
	}

	var observed domain.RoleSlot
	result, err := s.store.Transaction(ctx, domain.RolePath(h.Code, roleName), func(current any, exists bool) (any, bool) {
		observed = domain.RoleSlot{Status: domain.SlotAvailable}
		if exists {
			if err := docstore.Decode(current, &observed); err != nil {
				return nil, false
			}
		}
		if !observed.Available() && observed.UID != h.UID {
			return nil, false
		}
		return domain.RoleSlot{Status: domain.SlotTaken, UID: h.UID, DisplayName: h.DisplayName}, true
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim role %s: %w", roleName, err)
	}
	if !result.Committed {
		return ClaimResult{Outcome: ClaimConflict, Slot: observed}, nil
	}

	recorded, err := s.store.Transaction(ctx, domain.PlayerPath(h.Code, h.UID), func(current any, exists bool) (any, bool) {
		player, ok := current.(map[string]any)
		if !exists || !ok {
			return nil, false
		}
		player["role"] = roleName
		return player, true
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("record role on player: %w", err)
	}
	if !recorded.Committed {
		if err := s.releaseSlot(ctx, h.Code, h.UID, roleName); err != nil {
			log.Printf("roles: release orphaned role=%s session=%s uid=%s: %v", roleName, h.Code, h.UID, err)
		}
		return ClaimResult{}, apperrors.New(apperrors.CodeNotFound, "player is not in the session")
	}
	return ClaimResult{
		Outcome: ClaimTaken,
		Slot:    domain.RoleSlot{Status: domain.SlotTaken, UID: h.UID, DisplayName: h.DisplayName},
	}, nil
}

func (s *Service) heldRole(ctx context.Context, h domain.Handle) (string, error) {
	snap, err := s.store.Get(ctx, domain.PlayerPath(h.Code, h.UID))
	if err != nil {
		return "", fmt.Errorf("read player: %w", err)
	}
	if !snap.Exists {
		return "", apperrors.New(apperrors.CodeNotFound, "player is not in the session")
	}
	var player domain.Player
	if err := docstore.Decode(snap.Value, &player); err != nil {
		return "", err
	}
	return player.Role, nil
}

// Release frees roleName if uid still holds it and clears the player's role
// field. Releasing a slot held by someone else does nothing.
func (s *Service) Release(ctx context.Context, code, uid, roleName string) error {
	if _, ok := s.known[roleName]; !ok {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown role", map[string]string{"Role": roleName})
	}
	if err := s.releaseSlot(ctx, code, uid, roleName); err != nil {
		return err
	}
	_, err := s.store.Transaction(ctx, domain.PlayerRolePath(code, uid), func(current any, exists bool) (any, bool) {
		held, _ := current.(string)
		return nil, exists && held == roleName
	})
	if err != nil {
		return fmt.Errorf("clear player role: %w", err)
	}
	return nil
}

func (s *Service) releaseSlot(ctx context.Context, code, uid, roleName string) error {
	_, err := s.store.Transaction(ctx, domain.RolePath(code, roleName), func(current any, exists bool) (any, bool) {
		if !exists {
			return nil, false
		}
		var slot domain.RoleSlot
		if err := docstore.Decode(current, &slot); err != nil || slot.UID != uid {
			return nil, false
		}
		return domain.RoleSlot{Status: domain.SlotAvailable}, true
	})
	if err != nil {
		return fmt.Errorf("release role %s: %w", roleName, err)
	}
	return nil
}
