package core

import (
	"context"
	"fmt"
	"time"

	"labcore/pkg/domain"
)

// RecordReading appends a device reading and, in the same transaction,
// evaluates the organization's enabled alert rules against the value. Every
// tripped rule produces an alert.triggered event.
func (s *Service) RecordReading(ctx context.Context, actor Actor, deviceID, sensorType string, value float64, unit string) (domain.Reading, domain.Result, error) {
	var reading domain.Reading
	var res domain.Result
	err := s.instrument(ctx, "record_reading", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			device, err := liveDevice(tx, deviceID)
			if err != nil {
				return err
			}
			if err := requireEntityWriter(tx, "record_reading", device.Entity, actor); err != nil {
				return err
			}
			if sensorType == "" {
				return domain.ConflictError{Kind: "reading", Reason: "sensor_type is required"}
			}
			event, err := tx.AppendEvent(domain.Event{
				EventType:  domain.EventReading,
				EntityID:   deviceID,
				EntityType: domain.EntityDevice,
				Data:       map[string]any{"sensor_type": sensorType, "value": value, "unit": unit},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			if err != nil {
				return err
			}
			reading, err = domain.AsReading(event)
			if err != nil {
				return err
			}
			return evaluateAlertRules(tx, s.source, device.Entity, sensorType, value)
		})
		return deviceID, txErr
	})
	return reading, res, err
}

// evaluateAlertRules appends one occurrence per enabled rule in the device's
// organization whose metric matches and whose condition trips.
func evaluateAlertRules(tx domain.Transaction, source string, device domain.Entity, sensorType string, value float64) error {
	rules := tx.ListEntities(domain.EntityFilter{
		EntityType:     domain.EntityAlertRule,
		OrganizationID: device.OrganizationID,
		PropertyEquals: map[string]any{"metric": sensorType, "enabled": true},
	})
	for _, row := range rules {
		rule, err := domain.AsAlertRule(row)
		if err != nil {
			return err
		}
		if !rule.CheckCondition(value) {
			continue
		}
		if _, err := tx.AppendEvent(domain.Event{
			EventType:  domain.EventAlertTriggered,
			EntityID:   device.ID,
			EntityType: domain.EntityDevice,
			Data: map[string]any{
				"rule_id":      rule.ID,
				"sensor_type":  sensorType,
				"value":        value,
				"acknowledged": false,
			},
			SourceNode: source,
		}); err != nil {
			return err
		}
	}
	return nil
}

// LatestReadingsPerType reduces the device's reading history to the most
// recent event per sensor type.
func (s *Service) LatestReadingsPerType(ctx context.Context, actor Actor, deviceID string) (map[string]domain.Reading, error) {
	latest := map[string]domain.Reading{}
	err := s.instrument(ctx, "latest_readings", actor, func(ctx context.Context) (string, error) {
		return deviceID, s.store.View(ctx, func(view domain.TransactionView) error {
			device, ok := view.FindEntity(deviceID)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: deviceID}
			}
			if device.OrganizationID != nil {
				if err := requireReader(view, "latest_readings", *device.OrganizationID, actor); err != nil {
					return err
				}
			}
			// Events arrive ordered by id, so later entries win.
			for _, event := range view.ListEvents(domain.EventFilter{EntityID: deviceID, EventType: domain.EventReading}) {
				reading, err := domain.AsReading(event)
				if err != nil {
					return err
				}
				latest[reading.SensorType()] = reading
			}
			return nil
		})
	})
	return latest, err
}

// IssueCommand appends a device command event in the pending state.
func (s *Service) IssueCommand(ctx context.Context, actor Actor, deviceID, name string, params map[string]any) (domain.Command, domain.Result, error) {
	var command domain.Command
	var res domain.Result
	err := s.instrument(ctx, "issue_command", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			device, err := liveDevice(tx, deviceID)
			if err != nil {
				return err
			}
			if err := requireEntityWriter(tx, "issue_command", device.Entity, actor); err != nil {
				return err
			}
			if name == "" {
				return domain.ConflictError{Kind: "command", Reason: "command name is required"}
			}
			data := map[string]any{"command": name, "status": domain.CommandPending}
			if params != nil {
				data["params"] = params
			}
			event, err := tx.AppendEvent(domain.Event{
				EventType:  domain.EventCommand,
				EntityID:   deviceID,
				EntityType: domain.EntityDevice,
				Data:       data,
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			if err != nil {
				return err
			}
			command, err = domain.AsCommand(event)
			return err
		})
		return deviceID, txErr
	})
	return command, res, err
}

// TransitionCommand advances a command payload through its machine. Result is
// attached when provided and is typically set alongside a terminal status.
func (s *Service) TransitionCommand(ctx context.Context, actor Actor, eventID int64, next string, result map[string]any) (domain.Command, domain.Result, error) {
	var command domain.Command
	var res domain.Result
	err := s.instrument(ctx, "transition_command", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			event, ok := tx.FindEvent(eventID)
			if !ok {
				return domain.NotFoundError{Kind: "event", ID: fmt.Sprintf("%d", eventID)}
			}
			current, err := domain.AsCommand(event)
			if err != nil {
				return err
			}
			device, _ := tx.FindEntity(current.EntityID)
			if err := requireEntityWriter(tx, "transition_command", device, actor); err != nil {
				return err
			}
			if err := domain.CommandMachine().Guard(current.Status(), next); err != nil {
				return err
			}
			updated, err := tx.UpdateEventData(eventID, func(data map[string]any) error {
				data["status"] = next
				if result != nil {
					data["result"] = result
				}
				return nil
			})
			if err != nil {
				return err
			}
			command, err = domain.AsCommand(updated)
			return err
		})
		return fmt.Sprintf("%d", eventID), txErr
	})
	return command, res, err
}

// TriggerAlert records a manual occurrence of an enabled alert rule.
func (s *Service) TriggerAlert(ctx context.Context, actor Actor, ruleID, deviceID string, observed float64) (domain.AlertOccurrence, domain.Result, error) {
	var occurrence domain.AlertOccurrence
	var res domain.Result
	err := s.instrument(ctx, "trigger_alert", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			row, ok := tx.FindEntity(ruleID)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: ruleID}
			}
			rule, err := domain.AsAlertRule(row)
			if err != nil {
				return err
			}
			if !rule.Enabled {
				return domain.ConflictError{Kind: "alert_rule", Reason: fmt.Sprintf("rule %s is disabled", ruleID)}
			}
			if err := requireEntityWriter(tx, "trigger_alert", row, actor); err != nil {
				return err
			}
			if _, err := liveDevice(tx, deviceID); err != nil {
				return err
			}
			event, err := tx.AppendEvent(domain.Event{
				EventType:  domain.EventAlertTriggered,
				EntityID:   deviceID,
				EntityType: domain.EntityDevice,
				Data: map[string]any{
					"rule_id":      ruleID,
					"value":        observed,
					"acknowledged": false,
				},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			if err != nil {
				return err
			}
			occurrence, err = domain.AsAlertOccurrence(event)
			return err
		})
		return ruleID, txErr
	})
	return occurrence, res, err
}

// AcknowledgeAlert marks an alert occurrence acknowledged exactly once.
func (s *Service) AcknowledgeAlert(ctx context.Context, actor Actor, eventID int64) (domain.AlertOccurrence, domain.Result, error) {
	var occurrence domain.AlertOccurrence
	var res domain.Result
	err := s.instrument(ctx, "acknowledge_alert", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			event, ok := tx.FindEvent(eventID)
			if !ok {
				return domain.NotFoundError{Kind: "event", ID: fmt.Sprintf("%d", eventID)}
			}
			current, err := domain.AsAlertOccurrence(event)
			if err != nil {
				return err
			}
			if current.Acknowledged() {
				return domain.ConflictError{Kind: "alert", Reason: fmt.Sprintf("occurrence %d already acknowledged", eventID)}
			}
			device, _ := tx.FindEntity(current.EntityID)
			if err := requireEntityWriter(tx, "acknowledge_alert", device, actor); err != nil {
				return err
			}
			updated, err := tx.UpdateEventData(eventID, func(data map[string]any) error {
				data["acknowledged"] = true
				data["acknowledged_by"] = actor.UserID
				return nil
			})
			if err != nil {
				return err
			}
			occurrence, err = domain.AsAlertOccurrence(updated)
			return err
		})
		return fmt.Sprintf("%d", eventID), txErr
	})
	return occurrence, res, err
}

// EventHistory returns the entity's events over the half-open range
// [from, to); nil bounds leave the range open.
func (s *Service) EventHistory(ctx context.Context, actor Actor, entityID string, eventType string, from, to *time.Time) ([]domain.Event, error) {
	var events []domain.Event
	err := s.instrument(ctx, "event_history", actor, func(ctx context.Context) (string, error) {
		return entityID, s.store.View(ctx, func(view domain.TransactionView) error {
			if entity, ok := view.FindEntity(entityID); ok && entity.OrganizationID != nil {
				if err := requireReader(view, "event_history", *entity.OrganizationID, actor); err != nil {
					return err
				}
			}
			events = view.ListEvents(domain.EventFilter{
				EntityID:  entityID,
				EventType: eventType,
				From:      from,
				To:        to,
			})
			return nil
		})
	})
	return events, err
}

func liveDevice(view domain.TransactionView, deviceID string) (domain.Device, error) {
	row, ok := view.FindEntity(deviceID)
	if !ok {
		return domain.Device{}, domain.NotFoundError{Kind: "entity", ID: deviceID}
	}
	device, err := domain.AsDevice(row)
	if err != nil {
		return domain.Device{}, err
	}
	if device.Archived() {
		return domain.Device{}, domain.ConflictError{Kind: "device", Reason: fmt.Sprintf("device %s is archived", deviceID)}
	}
	return device, nil
}
