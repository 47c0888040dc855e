package core

import (
	"context"
	"fmt"
	"time"

	"labcore/pkg/domain"
)

// TransitionStatus moves a workflow entity to the next lifecycle state under
// the guard of its machine. A stale expectVersion is a conflict; zero skips
// the check.
func (s *Service) TransitionStatus(ctx context.Context, actor Actor, id string, expectVersion int64, next string) (domain.Entity, domain.Result, error) {
	var updated domain.Entity
	var res domain.Result
	err := s.instrument(ctx, "transition_status", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindEntity(id)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: id}
			}
			machine, ok := domain.MachineFor(current.EntityType)
			if !ok {
				return domain.ConflictError{Kind: string(current.EntityType), Reason: "entity type has no lifecycle"}
			}
			if err := requireEntityWriter(tx, "transition_status", current, actor); err != nil {
				return err
			}
			return transitionStatus(tx, s.source, actor, current, machine, expectVersion, next, &updated)
		})
		return id, txErr
	})
	return updated, res, err
}

// transitionStatus applies a guarded status change, emits the status event,
// and closes open device edges when an experiment reaches a terminal state.
func transitionStatus(tx domain.Transaction, source string, actor Actor, current domain.Entity, machine domain.Machine, expectVersion int64, next string, out *domain.Entity) error {
	if err := machine.Guard(current.Status, next); err != nil {
		return err
	}
	updated, err := tx.UpdateEntity(current.ID, expectVersion, func(e *domain.Entity) error {
		e.Status = next
		return nil
	})
	if err != nil {
		return err
	}
	*out = updated
	if _, err := tx.AppendEvent(domain.Event{
		EventType:  domain.EventStatusChanged,
		EntityID:   current.ID,
		EntityType: current.EntityType,
		Data:       map[string]any{"from": current.Status, "to": next},
		Metadata:   map[string]any{"actor": actor.UserID},
		SourceNode: source,
	}); err != nil {
		return err
	}
	if current.EntityType == domain.EntityExperiment && machine.Terminal(next) {
		if err := closeDeviceEdges(tx, current.ID); err != nil {
			return err
		}
	}
	return nil
}

func closeDeviceEdges(tx domain.Transaction, experimentID string) error {
	now := tx.Now()
	for _, edge := range tx.ListRelationships(domain.RelationshipFilter{
		FromEntity:       experimentID,
		RelationshipType: domain.RelationExperimentDevice,
	}) {
		if edge.ValidTo != nil {
			continue
		}
		if _, err := tx.CloseRelationship(edge.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// AttachDeviceToExperiment opens an experiment.uses_device edge. The
// experiment must not be in a terminal state and the pair must not already
// hold an open edge.
func (s *Service) AttachDeviceToExperiment(ctx context.Context, actor Actor, experimentID, deviceID string) (domain.Relationship, domain.Result, error) {
	var edge domain.Relationship
	var res domain.Result
	err := s.instrument(ctx, "attach_device", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			experiment, ok := tx.FindEntity(experimentID)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: experimentID}
			}
			if experiment.EntityType != domain.EntityExperiment {
				return domain.ConflictError{Kind: string(experiment.EntityType), Reason: fmt.Sprintf("entity %s is not an experiment", experimentID)}
			}
			device, ok := tx.FindEntity(deviceID)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: deviceID}
			}
			if _, err := domain.AsDevice(device); err != nil {
				return err
			}
			if device.Archived() {
				return domain.ConflictError{Kind: "device", Reason: fmt.Sprintf("device %s is archived", deviceID)}
			}
			if err := requireEntityWriter(tx, "attach_device", experiment, actor); err != nil {
				return err
			}
			machine, _ := domain.MachineFor(domain.EntityExperiment)
			if machine.Terminal(experiment.Status) {
				return domain.ConflictError{Kind: "experiment", Reason: fmt.Sprintf("experiment %s is %s", experimentID, experiment.Status)}
			}
			for _, existing := range tx.ListRelationships(domain.RelationshipFilter{
				FromEntity:       experimentID,
				ToEntity:         deviceID,
				RelationshipType: domain.RelationExperimentDevice,
			}) {
				if existing.ValidTo == nil {
					return domain.ConflictError{Kind: "relationship", Reason: "device already attached"}
				}
			}
			var err error
			edge, err = tx.CreateRelationship(domain.Relationship{
				FromEntity:       experimentID,
				ToEntity:         deviceID,
				RelationshipType: domain.RelationExperimentDevice,
				Strength:         1,
			})
			return err
		})
		return experimentID, txErr
	})
	return edge, res, err
}

// DetachDeviceFromExperiment closes the open edge between the pair.
func (s *Service) DetachDeviceFromExperiment(ctx context.Context, actor Actor, experimentID, deviceID string) (domain.Relationship, domain.Result, error) {
	var closed domain.Relationship
	var res domain.Result
	err := s.instrument(ctx, "detach_device", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			experiment, ok := tx.FindEntity(experimentID)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: experimentID}
			}
			if err := requireEntityWriter(tx, "detach_device", experiment, actor); err != nil {
				return err
			}
			for _, edge := range tx.ListRelationships(domain.RelationshipFilter{
				FromEntity:       experimentID,
				ToEntity:         deviceID,
				RelationshipType: domain.RelationExperimentDevice,
			}) {
				if edge.ValidTo != nil {
					continue
				}
				var err error
				closed, err = tx.CloseRelationship(edge.ID, tx.Now())
				return err
			}
			return domain.NotFoundError{Kind: "relationship", ID: experimentID + "->" + deviceID}
		})
		return experimentID, txErr
	})
	return closed, res, err
}

// DevicesInUse lists the devices attached to the experiment at the given
// instant; a zero time means now.
func (s *Service) DevicesInUse(ctx context.Context, actor Actor, experimentID string, at time.Time) ([]domain.Relationship, error) {
	var edges []domain.Relationship
	err := s.instrument(ctx, "devices_in_use", actor, func(ctx context.Context) (string, error) {
		return experimentID, s.store.View(ctx, func(view domain.TransactionView) error {
			experiment, ok := view.FindEntity(experimentID)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: experimentID}
			}
			if experiment.OrganizationID != nil {
				if err := requireReader(view, "devices_in_use", *experiment.OrganizationID, actor); err != nil {
					return err
				}
			}
			instant := at
			if instant.IsZero() {
				instant = time.Now().UTC()
			}
			edges = view.ListRelationships(domain.RelationshipFilter{
				FromEntity:       experimentID,
				RelationshipType: domain.RelationExperimentDevice,
				ValidAt:          &instant,
			})
			return nil
		})
	})
	return edges, err
}
