package domain

import "fmt"

// Machine is the one lifecycle capability composed by every workflow: a named
// set of guarded transitions plus a terminal-state set. Violating a guard is a
// typed conflict, never a silent no-op.
type Machine struct {
	name        string
	initial     string
	transitions map[string]map[string]struct{}
	terminal    map[string]struct{}
}

// NewMachine builds a machine from a from->targets transition table. States
// with no outgoing transitions are terminal.
func NewMachine(name, initial string, transitions map[string][]string) Machine {
	compiled := make(map[string]map[string]struct{}, len(transitions))
	states := map[string]struct{}{initial: {}}
	for from, targets := range transitions {
		states[from] = struct{}{}
		set := make(map[string]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
			states[to] = struct{}{}
		}
		compiled[from] = set
	}
	terminal := map[string]struct{}{}
	for state := range states {
		if len(compiled[state]) == 0 {
			terminal[state] = struct{}{}
		}
	}
	return Machine{name: name, initial: initial, transitions: compiled, terminal: terminal}
}

// Name returns the machine identifier used in guard errors.
func (m Machine) Name() string { return m.name }

// Initial returns the state every new row starts in.
func (m Machine) Initial() string { return m.initial }

// ValidState reports whether the state belongs to this machine's vocabulary.
func (m Machine) ValidState(state string) bool {
	if state == m.initial {
		return true
	}
	if _, ok := m.transitions[state]; ok {
		return true
	}
	_, ok := m.terminal[state]
	return ok
}

// Terminal reports whether the state has no outgoing transitions.
func (m Machine) Terminal(state string) bool {
	_, ok := m.terminal[state]
	return ok
}

// Can reports whether from->to is a legal transition.
func (m Machine) Can(from, to string) bool {
	targets, ok := m.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Guard returns a typed conflict when from->to is illegal, nil otherwise.
func (m Machine) Guard(from, to string) error {
	if !m.ValidState(to) {
		return ConflictError{Kind: m.name, Reason: fmt.Sprintf("unknown state %q", to)}
	}
	if !m.Can(from, to) {
		return ConflictError{Kind: m.name, Reason: fmt.Sprintf("illegal transition %s -> %s", from, to)}
	}
	return nil
}

// DefinitionMachine governs process and experiment statuses.
func DefinitionMachine() Machine {
	return NewMachine("lifecycle", StatusDraft, map[string][]string{
		StatusDraft:  {StatusActive, StatusArchived},
		StatusActive: {StatusPaused, StatusCompleted, StatusFailed, StatusArchived},
		StatusPaused: {StatusActive, StatusArchived},
	})
}

// RunMachine governs process instance and trial statuses.
func RunMachine() Machine {
	return NewMachine("run", StatusPending, map[string][]string{
		StatusPending: {StatusRunning, StatusCancelled},
		StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
		StatusPaused:  {StatusRunning, StatusCancelled},
	})
}

// CommandMachine governs command payload statuses. Timeout is a label an
// external poller sets; no timer lives in the core.
func CommandMachine() Machine {
	return NewMachine("command", CommandPending, map[string][]string{
		CommandPending:   {CommandSent, CommandExecuting, CommandCompleted, CommandFailed, CommandCancelled, CommandTimeout},
		CommandSent:      {CommandExecuting, CommandCompleted, CommandFailed, CommandCancelled, CommandTimeout},
		CommandExecuting: {CommandCompleted, CommandFailed, CommandCancelled, CommandTimeout},
	})
}

// InvitationMachine governs invitation statuses; every non-pending state is
// terminal.
func InvitationMachine() Machine {
	return NewMachine("invitation", string(InvitationPending), map[string][]string{
		string(InvitationPending): {
			string(InvitationAccepted),
			string(InvitationDeclined),
			string(InvitationExpired),
			string(InvitationCancelled),
		},
	})
}

// RemovalMachine governs membership removal request statuses.
func RemovalMachine() Machine {
	return NewMachine("removal_request", string(RemovalPending), map[string][]string{
		string(RemovalPending): {
			string(RemovalApproved),
			string(RemovalDenied),
			string(RemovalCancelled),
		},
	})
}

// MachineFor returns the lifecycle machine governing the entity type's status
// field, false when the type has no guarded lifecycle.
func MachineFor(entityType EntityType) (Machine, bool) {
	switch entityType {
	case EntityProcess, EntityExperiment:
		return DefinitionMachine(), true
	case EntityProcessInstance, EntityTrial:
		return RunMachine(), true
	default:
		return Machine{}, false
	}
}
