package repo

import (
	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/idcodec"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

// CreateSubscription validates and persists a new Subscription. Dangling
// group/procedure references are allowed at create time — those are
// silently skipped at dispatch rather than rejected at create. target is
// required but is not checked to resolve here; it is resolved when a
// dispatch execs the procedure against it.
func (s *Store) CreateSubscription(sub model.Subscription) (model.Subscription, error) {
	if sub.Group == "" {
		return model.Subscription{}, apperr.NewValidation("group", "is required")
	}
	if sub.Procedure == "" {
		return model.Subscription{}, apperr.NewValidation("procedure", "is required")
	}
	if sub.Target == "" {
		return model.Subscription{}, apperr.NewValidation("target", "is required")
	}

	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if sub.ID == "" {
			sub.ID = idcodec.New(idcodec.KindSubscription)
		}
		doc, err := model.ToDoc(sub)
		if err != nil {
			return err
		}
		if err := tx.Set(collSubscriptions, sub.ID, doc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventCreated, model.EntitySubscription, sub.ID, nil)
		eventID = ev.ID
		return err
	})
	if err != nil {
		return model.Subscription{}, err
	}
	s.Log.Notify(eventID)
	return sub, nil
}

// GetSubscription fetches a Subscription by id.
func (s *Store) GetSubscription(id string) (model.Subscription, error) {
	var sub model.Subscription
	err := s.db.View(func(tx *store.Tx) error {
		doc, ok, err := tx.Get(collSubscriptions, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrNotFound
		}
		return model.FromDoc(doc, &sub)
	})
	return sub, err
}

// ListSubscriptions returns every Subscription matching q.
func (s *Store) ListSubscriptions(q query.Node) ([]model.Subscription, error) {
	var out []model.Subscription
	err := s.db.View(func(tx *store.Tx) error {
		docs, err := listCollection(tx, collSubscriptions, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var sub model.Subscription
			if err := model.FromDoc(doc, &sub); err != nil {
				return err
			}
			out = append(out, sub)
		}
		return nil
	})
	return out, err
}

// DeleteSubscription removes a Subscription outright; nothing references a
// Subscription downstream.
func (s *Store) DeleteSubscription(id string) error {
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if _, ok, err := tx.Get(collSubscriptions, id); err != nil {
			return err
		} else if !ok {
			return apperr.ErrNotFound
		}
		if _, err := tx.Delete(collSubscriptions, id); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventDeleted, model.EntitySubscription, id, nil)
		eventID = ev.ID
		return err
	})
	if err != nil {
		return err
	}
	s.Log.Notify(eventID)
	return nil
}

// NonDanglingSubscriptions returns every Subscription whose group and
// procedure both currently resolve, grouped by group id for the dispatch
// sweep.
func (s *Store) NonDanglingSubscriptions() (map[string][]model.Subscription, error) {
	out := make(map[string][]model.Subscription)
	err := s.db.View(func(tx *store.Tx) error {
		return tx.Ascend(collSubscriptions, func(id string, doc map[string]any) bool {
			var sub model.Subscription
			if err := model.FromDoc(doc, &sub); err != nil {
				return true
			}
			if _, ok, err := tx.Get(collGroups, sub.Group); err != nil || !ok {
				return true
			}
			if _, ok, err := tx.Get(collProcedures, sub.Procedure); err != nil || !ok {
				return true
			}
			out[sub.Group] = append(out[sub.Group], sub)
			return true
		})
	})
	return out, err
}
