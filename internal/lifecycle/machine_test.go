package lifecycle

import (
	"testing"

	"github.com/towline/towline-backend/pkg/enums"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	steps := []struct {
		from  enums.RequestStatus
		to    enums.RequestStatus
		actor enums.ActorRole
	}{
		{enums.RequestStatusPending, enums.RequestStatusAssigned, enums.ActorSystem},
		{enums.RequestStatusAssigned, enums.RequestStatusQuoted, enums.ActorProvider},
		{enums.RequestStatusQuoted, enums.RequestStatusAccepted, enums.ActorCustomer},
		{enums.RequestStatusAccepted, enums.RequestStatusAwaitingPayment, enums.ActorSettlement},
		{enums.RequestStatusAwaitingPayment, enums.RequestStatusPaid, enums.ActorSettlement},
		{enums.RequestStatusPaid, enums.RequestStatusEnRoute, enums.ActorProvider},
		{enums.RequestStatusEnRoute, enums.RequestStatusInProgress, enums.ActorProvider},
		{enums.RequestStatusInProgress, enums.RequestStatusCompleted, enums.ActorProvider},
	}
	for _, step := range steps {
		if err := m.Validate(step.from, step.to, step.actor); err != nil {
			t.Fatalf("%s -> %s as %s: %v", step.from, step.to, step.actor, err)
		}
	}
}

func TestMachineRejectsSkippingAndWrongActor(t *testing.T) {
	m := NewMachine()
	cases := []struct {
		name  string
		from  enums.RequestStatus
		to    enums.RequestStatus
		actor enums.ActorRole
	}{
		{"skip quote", enums.RequestStatusAssigned, enums.RequestStatusAccepted, enums.ActorCustomer},
		{"customer marks paid", enums.RequestStatusAwaitingPayment, enums.RequestStatusPaid, enums.ActorCustomer},
		{"provider accepts own quote", enums.RequestStatusQuoted, enums.RequestStatusAccepted, enums.ActorProvider},
		{"backwards", enums.RequestStatusEnRoute, enums.RequestStatusPaid, enums.ActorSettlement},
		{"leave completed", enums.RequestStatusCompleted, enums.RequestStatusCancelled, enums.ActorAdmin},
		{"leave cancelled", enums.RequestStatusCancelled, enums.RequestStatusPending, enums.ActorAdmin},
		{"settlement cancels", enums.RequestStatusAccepted, enums.RequestStatusCancelled, enums.ActorSettlement},
		{"provider self assigns", enums.RequestStatusPending, enums.RequestStatusAssigned, enums.ActorProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.Validate(tc.from, tc.to, tc.actor)
			if !pkgerrors.IsCode(err, pkgerrors.CodeIllegalTransition) {
				t.Fatalf("expected illegal transition, got %v", err)
			}
		})
	}
}

func TestMachineSameStatusIsNoop(t *testing.T) {
	m := NewMachine()
	if err := m.Validate(enums.RequestStatusPaid, enums.RequestStatusPaid, enums.ActorSettlement); err != nil {
		t.Fatalf("re-applying paid as settlement: %v", err)
	}
	if err := m.Validate(enums.RequestStatusCancelled, enums.RequestStatusCancelled, enums.ActorCustomer); err != nil {
		t.Fatalf("re-applying cancelled as customer: %v", err)
	}
	err := m.Validate(enums.RequestStatusCompleted, enums.RequestStatusCompleted, enums.ActorCustomer)
	if !pkgerrors.IsCode(err, pkgerrors.CodeIllegalTransition) {
		t.Fatalf("customer re-applying completed: expected illegal transition, got %v", err)
	}
	err = m.Validate(enums.RequestStatusPaid, enums.RequestStatusPaid, enums.ActorProvider)
	if !pkgerrors.IsCode(err, pkgerrors.CodeIllegalTransition) {
		t.Fatalf("provider re-applying paid: expected illegal transition, got %v", err)
	}
}

type edgeKey struct {
	from, to enums.RequestStatus
	actor    enums.ActorRole
}

func expectedEdges() map[edgeKey]bool {
	out := map[edgeKey]bool{}
	add := func(from, to enums.RequestStatus, actors ...enums.ActorRole) {
		for _, a := range actors {
			out[edgeKey{from, to, a}] = true
		}
	}
	add(enums.RequestStatusPending, enums.RequestStatusAssigned, enums.ActorSystem, enums.ActorCustomer, enums.ActorAdmin)
	add(enums.RequestStatusAssigned, enums.RequestStatusQuoted, enums.ActorProvider)
	add(enums.RequestStatusQuoted, enums.RequestStatusAccepted, enums.ActorCustomer)
	add(enums.RequestStatusAccepted, enums.RequestStatusAwaitingPayment, enums.ActorSettlement)
	add(enums.RequestStatusAwaitingPayment, enums.RequestStatusPaid, enums.ActorSettlement)
	add(enums.RequestStatusAccepted, enums.RequestStatusPaid, enums.ActorSettlement)
	add(enums.RequestStatusPaid, enums.RequestStatusEnRoute, enums.ActorProvider)
	add(enums.RequestStatusEnRoute, enums.RequestStatusInProgress, enums.ActorProvider)
	add(enums.RequestStatusInProgress, enums.RequestStatusCompleted, enums.ActorProvider)
	for _, from := range []enums.RequestStatus{
		enums.RequestStatusPending,
		enums.RequestStatusAssigned,
		enums.RequestStatusQuoted,
		enums.RequestStatusAccepted,
		enums.RequestStatusAwaitingPayment,
		enums.RequestStatusPaid,
		enums.RequestStatusEnRoute,
		enums.RequestStatusInProgress,
	} {
		add(from, enums.RequestStatusCancelled, enums.ActorCustomer, enums.ActorProvider, enums.ActorAdmin)
	}

	// Re-applying a status is allowed to whoever may drive some edge into it.
	for k := range out {
		out[edgeKey{k.to, k.to, k.actor}] = true
	}
	return out
}

func TestMachineValidateIsExhaustive(t *testing.T) {
	m := NewMachine()
	want := expectedEdges()
	for _, from := range enums.RequestStatuses() {
		for _, to := range enums.RequestStatuses() {
			for _, actor := range enums.ActorRoles() {
				err := m.Validate(from, to, actor)
				if want[edgeKey{from, to, actor}] {
					if err != nil {
						t.Errorf("%s -> %s as %s: %v", from, to, actor, err)
					}
					continue
				}
				if !pkgerrors.IsCode(err, pkgerrors.CodeIllegalTransition) {
					t.Errorf("%s -> %s as %s: expected illegal transition, got %v", from, to, actor, err)
				}
				if from != to && m.Allows(from, to, actor) {
					t.Errorf("%s -> %s as %s: Allows disagrees with Validate", from, to, actor)
				}
			}
		}
	}
}

func TestMachineRejectsUnknownTarget(t *testing.T) {
	err := NewMachine().Validate(enums.RequestStatus("teleported"), enums.RequestStatus("teleported"), enums.ActorAdmin)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMachineCancelFromEveryOpenState(t *testing.T) {
	m := NewMachine()
	for _, status := range enums.RequestStatuses() {
		for _, actor := range []enums.ActorRole{enums.ActorCustomer, enums.ActorProvider, enums.ActorAdmin} {
			allowed := m.Allows(status, enums.RequestStatusCancelled, actor)
			if status.IsTerminal() && allowed {
				t.Fatalf("%s should not be cancellable", status)
			}
			if !status.IsTerminal() && !allowed {
				t.Fatalf("%s should be cancellable by %s", status, actor)
			}
		}
	}
}

func TestMachineDirectChargeEdge(t *testing.T) {
	m := NewMachine()
	if err := m.Validate(enums.RequestStatusAccepted, enums.RequestStatusPaid, enums.ActorSettlement); err != nil {
		t.Fatalf("accepted -> paid: %v", err)
	}
	got := m.Successors(enums.RequestStatusAccepted)
	want := map[enums.RequestStatus]bool{
		enums.RequestStatusAwaitingPayment: true,
		enums.RequestStatusPaid:            true,
		enums.RequestStatusCancelled:       true,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected successors %v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected successor %s", s)
		}
	}
}

func TestMachineIllegalTransitionDetails(t *testing.T) {
	err := NewMachine().Validate(enums.RequestStatusPending, enums.RequestStatusPaid, enums.ActorSettlement)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	if details["from"] != "pending" || details["to"] != "paid" || details["actor"] != "settlement" {
		t.Fatalf("unexpected details %v", details)
	}
}
