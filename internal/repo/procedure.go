package repo

import (
	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/idcodec"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

var procedureLookupFields = []string{"name"}

// CreateProcedure validates and persists a new Procedure. Content is
// treated as an opaque string — the coordinator never interprets it.
func (s *Store) CreateProcedure(p model.Procedure) (model.Procedure, error) {
	if p.Type == "" {
		return model.Procedure{}, apperr.NewValidation("type", "is required")
	}

	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if p.ID == "" {
			p.ID = idcodec.New(idcodec.KindProcedure)
		}
		if err := ensureUniqueString(tx, collProcedures, "name", p.ID, p.Name); err != nil {
			return err
		}
		doc, err := model.ToDoc(p)
		if err != nil {
			return err
		}
		if err := tx.Set(collProcedures, p.ID, doc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventCreated, model.EntityProcedure, p.ID, procedureNames(p))
		eventID = ev.ID
		return err
	})
	if err != nil {
		return model.Procedure{}, err
	}
	s.Log.Notify(eventID)
	return p, nil
}

// GetProcedure resolves idOrName to a Procedure (id first, then name).
func (s *Store) GetProcedure(idOrName string) (model.Procedure, error) {
	var p model.Procedure
	err := s.db.View(func(tx *store.Tx) error {
		_, doc, err := resolveID(tx, collProcedures, idOrName, procedureLookupFields)
		if err != nil {
			return err
		}
		return model.FromDoc(doc, &p)
	})
	return p, err
}

// ListProcedures returns every Procedure matching q.
func (s *Store) ListProcedures(q query.Node) ([]model.Procedure, error) {
	var out []model.Procedure
	err := s.db.View(func(tx *store.Tx) error {
		docs, err := listCollection(tx, collProcedures, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var p model.Procedure
			if err := model.FromDoc(doc, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// UpdateProcedure applies patch fields onto the Procedure resolved by
// idOrName.
func (s *Store) UpdateProcedure(idOrName string, patch map[string]any) (model.Procedure, error) {
	var result model.Procedure
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collProcedures, idOrName, procedureLookupFields)
		if err != nil {
			return err
		}
		var p model.Procedure
		if err := model.FromDoc(doc, &p); err != nil {
			return err
		}
		applyProcedurePatch(&p, patch)
		if p.Type == "" {
			return apperr.NewValidation("type", "is required")
		}
		if err := ensureUniqueString(tx, collProcedures, "name", id, p.Name); err != nil {
			return err
		}
		newDoc, err := model.ToDoc(p)
		if err != nil {
			return err
		}
		if err := tx.Set(collProcedures, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityProcedure, id, procedureNames(p))
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = p
		return nil
	})
	if err != nil {
		return model.Procedure{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

func applyProcedurePatch(p *model.Procedure, patch map[string]any) {
	if v, ok := patch["type"].(string); ok {
		p.Type = v
	}
	if v, ok := patch["name"]; ok {
		p.Name = nullableString(v)
	}
	if v, ok := patch["content"].(string); ok {
		p.Content = v
	}
	if v, ok := patch["options"].(map[string]any); ok {
		p.Options = v
	}
	if v, ok := patch["params"].(map[string]any); ok {
		p.Params = v
	}
}

func procedureNames(p model.Procedure) []string {
	if p.Name == nil {
		return nil
	}
	return []string{*p.Name}
}

// DeleteProcedure removes a Procedure and runs its cascade policy: every
// Job and Subscription referencing it is cascade-deleted.
func (s *Store) DeleteProcedure(idOrName string) error {
	var maxEventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collProcedures, idOrName, procedureLookupFields)
		if err != nil {
			return err
		}
		var p model.Procedure
		if err := model.FromDoc(doc, &p); err != nil {
			return err
		}

		var jobErr error
		if err := tx.Ascend(collJobs, func(jid string, jdoc map[string]any) bool {
			proc, _ := jdoc["procedure"].(string)
			if proc != id {
				return true
			}
			if _, derr := tx.Delete(collJobs, jid); derr != nil {
				jobErr = derr
				return false
			}
			ev, aerr := s.Log.AppendTx(tx, model.EventDeleted, model.EntityJob, jid, nil)
			if aerr != nil {
				jobErr = aerr
				return false
			}
			maxEventID = ev.ID
			return true
		}); err != nil {
			return err
		}
		if jobErr != nil {
			return jobErr
		}

		var subErr error
		if err := tx.Ascend(collSubscriptions, func(sid string, sdoc map[string]any) bool {
			proc, _ := sdoc["procedure"].(string)
			if proc != id {
				return true
			}
			if _, derr := tx.Delete(collSubscriptions, sid); derr != nil {
				subErr = derr
				return false
			}
			ev, aerr := s.Log.AppendTx(tx, model.EventDeleted, model.EntitySubscription, sid, nil)
			if aerr != nil {
				subErr = aerr
				return false
			}
			maxEventID = ev.ID
			return true
		}); err != nil {
			return err
		}
		if subErr != nil {
			return subErr
		}

		if _, err := tx.Delete(collProcedures, id); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventDeleted, model.EntityProcedure, id, procedureNames(p))
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
