package repo

import (
	"time"

	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/idcodec"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

// InsertJob persists a freshly composed, pending Job (called by
// internal/jobengine's exec, never directly by the HTTP layer — jobs are
// only ever created via POST /v1/procedures/<id>/exec).
func (s *Store) InsertJob(j model.Job) (model.Job, error) {
	if j.Type == "" {
		return model.Job{}, apperr.NewValidation("type", "is required")
	}
	if j.Target == "" {
		return model.Job{}, apperr.NewValidation("target", "is required")
	}
	if j.Status == "" {
		j.Status = model.JobStatusPending
	}
	if j.Created.IsZero() {
		j.Created = time.Now().UTC()
	}

	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if _, ok, err := tx.Get(collResources, j.Target); err != nil {
			return err
		} else if !ok {
			return apperr.NewValidation("target", "references an unknown resource")
		}
		if j.ID == "" {
			j.ID = idcodec.New(idcodec.KindJob)
		}
		doc, err := model.ToDoc(j)
		if err != nil {
			return err
		}
		if err := tx.Set(collJobs, j.ID, doc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventCreated, model.EntityJob, j.ID, nil)
		eventID = ev.ID
		return err
	})
	if err != nil {
		return model.Job{}, err
	}
	s.Log.Notify(eventID)
	return j, nil
}

// GetJob fetches a Job by id; jobs have no name-style lookup field.
func (s *Store) GetJob(id string) (model.Job, error) {
	var j model.Job
	err := s.db.View(func(tx *store.Tx) error {
		doc, ok, err := tx.Get(collJobs, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFound
		}
		return model.FromDoc(doc, &j)
	})
	return j, err
}

// ListJobs returns every Job matching q.
func (s *Store) ListJobs(q query.Node) ([]model.Job, error) {
	var out []model.Job
	err := s.db.View(func(tx *store.Tx) error {
		docs, err := listCollection(tx, collJobs, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var j model.Job
			if err := model.FromDoc(doc, &j); err != nil {
				return err
			}
			out = append(out, j)
		}
		return nil
	})
	return out, err
}

// UpdateJob applies non-state-machine patch fields (options/params/content)
// onto the Job resolved by id. status/owner are never settable this way —
// they only change via HandleJob/CompleteJob/FailJob's atomic transitions.
func (s *Store) UpdateJob(id string, patch map[string]any) (model.Job, error) {
	var result model.Job
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		doc, ok, err := tx.Get(collJobs, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFound
		}
		var j model.Job
		if err := model.FromDoc(doc, &j); err != nil {
			return err
		}
		if v, ok := patch["content"].(string); ok {
			j.Content = v
		}
		if v, ok := patch["options"].(map[string]any); ok {
			j.Options = v
		}
		if v, ok := patch["params"].(map[string]any); ok {
			j.Params = v
		}
		newDoc, err := model.ToDoc(j)
		if err != nil {
			return err
		}
		if err := tx.Set(collJobs, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityJob, id, nil)
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = j
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

// DeleteJob removes a Job outright; the cascade table has no downstream
// effects for a direct job delete.
func (s *Store) DeleteJob(id string) error {
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if _, ok, err := tx.Get(collJobs, id); err != nil {
			return err
		} else if !ok {
			return apperr.ErrNotFound
		}
		if _, err := tx.Delete(collJobs, id); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventDeleted, model.EntityJob, id, nil)
		eventID = ev.ID
		return err
	})
	if err != nil {
		return err
	}
	s.Log.Notify(eventID)
	return nil
}

// HandleJob implements the at-most-one-claim compare-and-swap:
// {id, status:'pending'} -> set status='running', owner=owner. buntdb
// serializes every Update transaction against the whole database, so the
// read-then-write below is already a single conditional operation at the
// storage layer — no two concurrent HandleJob calls can ever both observe
// status=='pending'.
func (s *Store) HandleJob(id, owner string) (model.Job, error) {
	var result model.Job
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		doc, ok, err := tx.Get(collJobs, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFound
		}
		var j model.Job
		if err := model.FromDoc(doc, &j); err != nil {
			return err
		}
		if j.Status != model.JobStatusPending {
			return apperr.ErrConflict
		}
		if _, ok, err := tx.Get(collAgents, owner); err != nil {
			return err
		} else if !ok {
			return apperr.NewValidation("owner", "references an unknown agent")
		}
		j.Status = model.JobStatusRunning
		j.Owner = &owner
		newDoc, err := model.ToDoc(j)
		if err != nil {
			return err
		}
		if err := tx.Set(collJobs, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityJob, id, nil)
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = j
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

// finishJob is the shared implementation of CompleteJob/FailJob: both
// require status=='running', clear owner, and record result.
func (s *Store) finishJob(id, newStatus string, result map[string]any) (model.Job, error) {
	var out model.Job
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		doc, ok, err := tx.Get(collJobs, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFound
		}
		var j model.Job
		if err := model.FromDoc(doc, &j); err != nil {
			return err
		}
		if j.Status != model.JobStatusRunning {
			return apperr.ErrConflict
		}
		j.Status = newStatus
		j.Owner = nil
		j.Result = result
		newDoc, err := model.ToDoc(j)
		if err != nil {
			return err
		}
		if err := tx.Set(collJobs, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityJob, id, nil)
		if err != nil {
			return err
		}
		eventID = ev.ID
		out = j
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}
	s.Log.Notify(eventID)
	return out, nil
}

// CompleteJob transitions a running Job to done.
func (s *Store) CompleteJob(id string, result map[string]any) (model.Job, error) {
	return s.finishJob(id, model.JobStatusDone, result)
}

// FailJob transitions a running Job to error.
func (s *Store) FailJob(id string, result map[string]any) (model.Job, error) {
	return s.finishJob(id, model.JobStatusError, result)
}
