// Package workflow holds the purchase-request approval state machine: the
// status enumeration, the roles, and the single transition function every
// other package goes through to decide who may move a request and where.
package workflow

import (
	"errors"
	"fmt"
)

// Status is the workflow position of a purchase request.
type Status string

const (
	StatusPending                Status = "pending"
	StatusSentToDean             Status = "sent_to_dean"
	StatusSentToSecretaryGeneral Status = "sent_to_secretary_general"
	StatusSentToFinancialOfficer Status = "sent_to_financial_officer"
	StatusTreated                Status = "treated"
	StatusRejected               Status = "rejected"
)

// Role identifies a user tier.
type Role string

const (
	RoleProfesseur        Role = "professeur"
	RoleChefDepartement   Role = "chef_depa"
	RoleDirecteurLabo     Role = "directeur_labo"
	RoleDoyen             Role = "doyen"
	RoleSecretaireGeneral Role = "secretaire_general"
	RoleMagasinier        Role = "magasinier"
	RoleAdmin             Role = "admin"
)

// Action is an approver decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Severity tags a notification for display.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Errors returned by Transition. ErrTerminal and ErrAlreadyProcessed mean the
// request moved on; ErrNotApprover and ErrNotYetReached mean the actor has no
// say at this point.
var (
	ErrInvalidStatus    = errors.New("workflow: unknown status")
	ErrInvalidRole      = errors.New("workflow: unknown role")
	ErrInvalidAction    = errors.New("workflow: unknown action")
	ErrNotApprover      = errors.New("workflow: role does not approve requests")
	ErrTerminal         = errors.New("workflow: request is in a terminal state")
	ErrAlreadyProcessed = errors.New("workflow: request already left this stage")
	ErrNotYetReached    = errors.New("workflow: request has not reached this stage")
)

var statuses = []Status{
	StatusPending,
	StatusSentToDean,
	StatusSentToSecretaryGeneral,
	StatusSentToFinancialOfficer,
	StatusTreated,
	StatusRejected,
}

var labels = map[Status]string{
	StatusPending:                "En attente",
	StatusSentToDean:             "Envoyée au doyen",
	StatusSentToSecretaryGeneral: "Envoyée au secrétaire général",
	StatusSentToFinancialOfficer: "Envoyée à l'agent financier",
	StatusTreated:                "Traitée",
	StatusRejected:               "Rejetée",
}

// stage orders the non-terminal statuses along the approval chain.
var stage = map[Status]int{
	StatusPending:                0,
	StatusSentToDean:             1,
	StatusSentToSecretaryGeneral: 2,
	StatusSentToFinancialOfficer: 3,
}

type step struct {
	approver Role
	from     Status
	next     Status
}

// chain is the transition table. Rejection always leads to StatusRejected.
var chain = []step{
	{approver: RoleChefDepartement, from: StatusPending, next: StatusSentToDean},
	{approver: RoleDoyen, from: StatusSentToDean, next: StatusSentToSecretaryGeneral},
	{approver: RoleSecretaireGeneral, from: StatusSentToSecretaryGeneral, next: StatusTreated},
}

// Statuses lists every status in chain order followed by the terminal ones.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// ParseStatus validates a wire literal.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

func (s Status) IsValid() bool {
	_, ok := labels[s]
	return ok
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusTreated || s == StatusRejected
}

// Label returns the French display label, or the raw value when unknown.
func (s Status) Label() string {
	if label, ok := labels[s]; ok {
		return label
	}
	return string(s)
}

// Approver returns the role that acts on requests sitting in s.
func (s Status) Approver() (Role, bool) {
	for _, st := range chain {
		if st.from == s {
			return st.approver, true
		}
	}
	return "", false
}

// ParseRole validates a wire literal.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return r, nil
}

func (r Role) IsValid() bool {
	switch r {
	case RoleProfesseur, RoleChefDepartement, RoleDirecteurLabo, RoleDoyen,
		RoleSecretaireGeneral, RoleMagasinier, RoleAdmin:
		return true
	}
	return false
}

// CanRequest reports whether the role may author purchase requests.
func (r Role) CanRequest() bool {
	return r == RoleProfesseur || r == RoleChefDepartement || r == RoleDirecteurLabo
}

// IsApprover reports whether the role owns a step of the approval chain.
func (r Role) IsApprover() bool {
	_, ok := r.Queue()
	return ok
}

// Queue returns the status whose requests wait on this role.
func (r Role) Queue() (Status, bool) {
	for _, st := range chain {
		if st.approver == r {
			return st.from, true
		}
	}
	return "", false
}

// DepartmentScoped reports whether the role only acts within its own department.
func (r Role) DepartmentScoped() bool {
	return r == RoleChefDepartement
}

// Transition returns the status that results from role applying action to a
// request currently in from.
func Transition(role Role, from Status, action Action) (Status, error) {
	if action != ActionApprove && action != ActionReject {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if !from.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, from)
	}

	var own *step
	for i := range chain {
		if chain[i].approver == role {
			own = &chain[i]
			break
		}
	}
	if own == nil {
		return "", fmt.Errorf("%w: %q", ErrNotApprover, role)
	}
	if from.IsTerminal() {
		return "", fmt.Errorf("%w: %s", ErrTerminal, from)
	}

	switch roleStage, current := stage[own.from], stage[from]; {
	case roleStage < current:
		return "", fmt.Errorf("%w: %s acts on %s, request is %s", ErrAlreadyProcessed, role, own.from, from)
	case roleStage > current:
		return "", fmt.Errorf("%w: %s acts on %s, request is %s", ErrNotYetReached, role, own.from, from)
	}

	if action == ActionReject {
		return StatusRejected, nil
	}
	return own.next, nil
}

// CanTransition is the boolean form of Transition.
func CanTransition(role Role, from Status, action Action) bool {
	_, err := Transition(role, from, action)
	return err == nil
}

// IsConflict reports whether err means the request moved before the actor
// could act, as opposed to the actor lacking the right to act.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTerminal) || errors.Is(err, ErrAlreadyProcessed)
}

// SeverityFor tags a request status as seen by viewer.
func SeverityFor(status Status, viewer Role) Severity {
	switch status {
	case StatusTreated:
		return SeveritySuccess
	case StatusRejected:
		return SeverityError
	case StatusPending:
		return SeverityWarning
	}
	if approver, ok := status.Approver(); ok && approver == viewer {
		return SeverityWarning
	}
	return SeverityInfo
}
