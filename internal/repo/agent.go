package repo

import (
	"time"

	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/idcodec"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

var agentLookupFields = []string{"name"}

// CreateAgent validates and persists a new Agent, assigning an id if
// missing.
func (s *Store) CreateAgent(a model.Agent) (model.Agent, error) {
	if a.Type == "" {
		return model.Agent{}, apperr.NewValidation("type", "is required")
	}
	if a.Status == "" {
		a.Status = model.AgentStatusOffline
	} else if a.Status != model.AgentStatusOnline && a.Status != model.AgentStatusOffline {
		return model.Agent{}, apperr.NewValidation("status", "must be one of online, offline")
	}
	if a.Heartbeat.IsZero() {
		a.Heartbeat = time.Now().UTC()
	}

	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if a.ID == "" {
			a.ID = idcodec.New(idcodec.KindAgent)
		}
		if err := ensureUniqueString(tx, collAgents, "name", a.ID, a.Name); err != nil {
			return err
		}
		doc, err := model.ToDoc(a)
		if err != nil {
			return err
		}
		if err := tx.Set(collAgents, a.ID, doc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventCreated, model.EntityAgent, a.ID, agentNames(a))
		eventID = ev.ID
		return err
	})
	if err != nil {
		return model.Agent{}, err
	}
	s.Log.Notify(eventID)
	return a, nil
}

// GetAgent resolves idOrName to an Agent (id first, then name).
func (s *Store) GetAgent(idOrName string) (model.Agent, error) {
	var a model.Agent
	err := s.db.View(func(tx *store.Tx) error {
		_, doc, err := resolveID(tx, collAgents, idOrName, agentLookupFields)
		if err != nil {
			return err
		}
		return model.FromDoc(doc, &a)
	})
	return a, err
}

// ListAgents returns every Agent matching q (nil matches all).
func (s *Store) ListAgents(q query.Node) ([]model.Agent, error) {
	var out []model.Agent
	err := s.db.View(func(tx *store.Tx) error {
		docs, err := listCollection(tx, collAgents, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var a model.Agent
			if err := model.FromDoc(doc, &a); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// UpdateAgent applies patch fields onto the Agent resolved by idOrName.
func (s *Store) UpdateAgent(idOrName string, patch map[string]any) (model.Agent, error) {
	var result model.Agent
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collAgents, idOrName, agentLookupFields)
		if err != nil {
			return err
		}
		var a model.Agent
		if err := model.FromDoc(doc, &a); err != nil {
			return err
		}
		applyAgentPatch(&a, patch)
		if a.Type == "" {
			return apperr.NewValidation("type", "is required")
		}
		if err := ensureUniqueString(tx, collAgents, "name", id, a.Name); err != nil {
			return err
		}
		newDoc, err := model.ToDoc(a)
		if err != nil {
			return err
		}
		if err := tx.Set(collAgents, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityAgent, id, agentNames(a))
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = a
		return nil
	})
	if err != nil {
		return model.Agent{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

func applyAgentPatch(a *model.Agent, patch map[string]any) {
	if v, ok := patch["type"].(string); ok {
		a.Type = v
	}
	if v, ok := patch["name"]; ok {
		if v == nil {
			a.Name = nil
		} else if s, ok := v.(string); ok {
			a.Name = &s
		}
	}
	if v, ok := patch["status"].(string); ok {
		a.Status = v
	}
	if v, ok := patch["options"].(map[string]any); ok {
		a.Options = v
	}
}

// Heartbeat sets Agent.Heartbeat to now without disturbing Status: status
// stays unchanged unless explicitly set by the caller.
func (s *Store) Heartbeat(idOrName string) (model.Agent, error) {
	var result model.Agent
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collAgents, idOrName, agentLookupFields)
		if err != nil {
			return err
		}
		var a model.Agent
		if err := model.FromDoc(doc, &a); err != nil {
			return err
		}
		a.Heartbeat = time.Now().UTC()
		newDoc, err := model.ToDoc(a)
		if err != nil {
			return err
		}
		if err := tx.Set(collAgents, id, newDoc); err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}

// DeleteAgent removes an Agent and runs its cascade policy: every Resource
// it owns is cascade-deleted (which itself cascades further, per
// DeleteResource), and every Job it owns is requeued to pending/no owner.
// All of this — and every event it produces — happens inside one
// transaction so a concurrent reader never observes a half-applied cascade.
func (s *Store) DeleteAgent(idOrName string) error {
	var maxEventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, _, err := resolveID(tx, collAgents, idOrName, agentLookupFields)
		if err != nil {
			return err
		}

		var ownedResources []map[string]any
		if err := tx.Ascend(collResources, func(rid string, doc map[string]any) bool {
			if owner, _ := doc["owner"].(string); owner == id {
				ownedResources = append(ownedResources, doc)
			}
			return true
		}); err != nil {
			return err
		}
		for _, rdoc := range ownedResources {
			var r model.Resource
			if err := model.FromDoc(rdoc, &r); err != nil {
				return err
			}
			if err := cascadeDeleteResource(tx, s.Log, r, &maxEventID); err != nil {
				return err
			}
		}

		// Collect owned jobs first, then mutate after Ascend returns: see
		// cascadeDeleteResource's matching comment for why mutating inside
		// the callback isn't safe.
		var ownedJobIDs []string
		if err := tx.Ascend(collJobs, func(jid string, doc map[string]any) bool {
			if owner, _ := doc["owner"].(string); owner == id {
				ownedJobIDs = append(ownedJobIDs, jid)
			}
			return true
		}); err != nil {
			return err
		}
		for _, jid := range ownedJobIDs {
			doc, ok, err := tx.Get(collJobs, jid)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			var j model.Job
			if err := model.FromDoc(doc, &j); err != nil {
				return err
			}
			j.Owner = nil
			j.Status = model.JobStatusPending
			newDoc, err := model.ToDoc(j)
			if err != nil {
				return err
			}
			if err := tx.Set(collJobs, jid, newDoc); err != nil {
				return err
			}
			ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityJob, jid, nil)
			if err != nil {
				return err
			}
			maxEventID = ev.ID
		}

		if _, err := tx.Delete(collAgents, id); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventDeleted, model.EntityAgent, id, nil)
		if err != nil {
			return err
		}
		maxEventID = ev.ID
		return nil
	})
	if err != nil {
		return err
	}
	s.Log.Notify(maxEventID)
	return nil
}

// MarkOffline transitions an Agent to offline and requeues every running
// Job it currently owns back to pending/no-owner, atomically, so that a
// late completion report from the dead owner is rejected. A no-op if
// already offline, so the periodic liveness sweep never emits a spurious
// event for an agent that's already known to be down.
func (s *Store) MarkOffline(id string) error {
	var maxEventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		doc, ok, err := tx.Get(collAgents, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFound
		}
		var a model.Agent
		if err := model.FromDoc(doc, &a); err != nil {
			return err
		}
		if a.Status == model.AgentStatusOffline {
			return nil
		}
		a.Status = model.AgentStatusOffline
		newDoc, err := model.ToDoc(a)
		if err != nil {
			return err
		}
		if err := tx.Set(collAgents, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityAgent, id, agentNames(a))
		if err != nil {
			return err
		}
		maxEventID = ev.ID

		// Collect owned jobs first, then mutate after Ascend returns (same
		// reason as DeleteAgent's job-requeue loop above).
		var ownedJobIDs []string
		if err := tx.Ascend(collJobs, func(jid string, jdoc map[string]any) bool {
			if owner, _ := jdoc["owner"].(string); owner == id {
				ownedJobIDs = append(ownedJobIDs, jid)
			}
			return true
		}); err != nil {
			return err
		}
		for _, jid := range ownedJobIDs {
			jdoc, ok, err := tx.Get(collJobs, jid)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			var j model.Job
			if err := model.FromDoc(jdoc, &j); err != nil {
				return err
			}
			if j.Status != model.JobStatusRunning {
				continue
			}
			j.Owner = nil
			j.Status = model.JobStatusPending
			newJobDoc, err := model.ToDoc(j)
			if err != nil {
				return err
			}
			if err := tx.Set(collJobs, jid, newJobDoc); err != nil {
				return err
			}
			ev2, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityJob, jid, nil)
			if err != nil {
				return err
			}
			maxEventID = ev2.ID
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Log.Notify(maxEventID)
	return nil
}

func agentNames(a model.Agent) []string {
	if a.Name == nil {
		return nil
	}
	return []string{*a.Name}
}
