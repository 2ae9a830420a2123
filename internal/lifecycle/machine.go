package lifecycle

import (
	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
)

type edge struct {
	from enums.RequestStatus
	to   enums.RequestStatus
}

// Machine holds the request transition table and who may drive each edge.
type Machine struct {
	edges map[edge][]enums.ActorRole
}

var cancellers = []enums.ActorRole{enums.ActorCustomer, enums.ActorProvider, enums.ActorAdmin}

// NewMachine returns the towline request lifecycle.
func NewMachine() *Machine {
	m := &Machine{edges: map[edge][]enums.ActorRole{
		{enums.RequestStatusPending, enums.RequestStatusAssigned}:         {enums.ActorSystem, enums.ActorCustomer, enums.ActorAdmin},
		{enums.RequestStatusAssigned, enums.RequestStatusQuoted}:          {enums.ActorProvider},
		{enums.RequestStatusQuoted, enums.RequestStatusAccepted}:          {enums.ActorCustomer},
		{enums.RequestStatusAccepted, enums.RequestStatusAwaitingPayment}: {enums.ActorSettlement},
		{enums.RequestStatusAwaitingPayment, enums.RequestStatusPaid}:     {enums.ActorSettlement},
		{enums.RequestStatusAccepted, enums.RequestStatusPaid}:            {enums.ActorSettlement},
		{enums.RequestStatusPaid, enums.RequestStatusEnRoute}:             {enums.ActorProvider},
		{enums.RequestStatusEnRoute, enums.RequestStatusInProgress}:       {enums.ActorProvider},
		{enums.RequestStatusInProgress, enums.RequestStatusCompleted}:     {enums.ActorProvider},
	}}
	for _, status := range enums.RequestStatuses() {
		if status.IsTerminal() {
			continue
		}
		m.edges[edge{status, enums.RequestStatusCancelled}] = cancellers
	}
	return m
}

// Validate checks that actor may move a request from current to target.
// Re-applying the current status is a no-op, allowed only to an actor that
// could have driven the request into it.
func (m *Machine) Validate(current, target enums.RequestStatus, actor enums.ActorRole) error {
	if !target.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown status %q", target)
	}
	if current == target {
		if m.drivesInto(target, actor) {
			return nil
		}
		return pkgerrors.IllegalTransition(string(current), string(target), string(actor))
	}
	allowed, ok := m.edges[edge{current, target}]
	if !ok || !containsActor(allowed, actor) {
		return pkgerrors.IllegalTransition(string(current), string(target), string(actor))
	}
	return nil
}

func (m *Machine) drivesInto(target enums.RequestStatus, actor enums.ActorRole) bool {
	for e, allowed := range m.edges {
		if e.to == target && containsActor(allowed, actor) {
			return true
		}
	}
	return false
}

// Allows reports whether the edge exists and actor may drive it.
func (m *Machine) Allows(current, target enums.RequestStatus, actor enums.ActorRole) bool {
	if current == target {
		return false
	}
	allowed, ok := m.edges[edge{current, target}]
	return ok && containsActor(allowed, actor)
}

// Successors lists the statuses reachable from current by any actor.
func (m *Machine) Successors(current enums.RequestStatus) []enums.RequestStatus {
	var out []enums.RequestStatus
	for _, candidate := range enums.RequestStatuses() {
		if _, ok := m.edges[edge{current, candidate}]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

func containsActor(allowed []enums.ActorRole, actor enums.ActorRole) bool {
	for _, a := range allowed {
		if a == actor {
			return true
		}
	}
	return false
}
