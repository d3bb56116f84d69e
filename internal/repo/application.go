package repo

import (
	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/idcodec"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

var applicationLookupFields = []string{"name"}

// CreateApplication validates and persists a new Application: every
// link/expose endpoint's group must be a declared component, and the
// named service must exist on that group.
func (s *Store) CreateApplication(a model.Application) (model.Application, error) {
	if a.Name == "" {
		return model.Application{}, apperr.NewValidation("name", "is required")
	}

	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if err := validateApplicationLinks(tx, a); err != nil {
			return err
		}
		if a.ID == "" {
			a.ID = idcodec.New(idcodec.KindApplication)
		}
		name := a.Name
		if err := ensureUniqueString(tx, collApplications, "name", a.ID, &name); err != nil {
			return err
		}
		doc, err := model.ToDoc(a)
		if err != nil {
			return err
		}
		if err := tx.Set(collApplications, a.ID, doc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventCreated, model.EntityApplication, a.ID, []string{a.Name})
		eventID = ev.ID
		return err
	})
	if err != nil {
		return model.Application{}, err
	}
	s.Log.Notify(eventID)
	return a, nil
}

// GetApplication resolves idOrName to an Application (id first, then name).
func (s *Store) GetApplication(idOrName string) (model.Application, error) {
	var a model.Application
	err := s.db.View(func(tx *store.Tx) error {
		_, doc, err := resolveID(tx, collApplications, idOrName, applicationLookupFields)
		if err != nil {
			return err
		}
		return model.FromDoc(doc, &a)
	})
	return a, err
}

// ListApplications returns every Application matching q.
func (s *Store) ListApplications(q query.Node) ([]model.Application, error) {
	var out []model.Application
	err := s.db.View(func(tx *store.Tx) error {
		docs, err := listCollection(tx, collApplications, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var a model.Application
			if err := model.FromDoc(doc, &a); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// UpdateApplication applies patch fields onto the Application resolved by
// idOrName.
func (s *Store) UpdateApplication(idOrName string, patch map[string]any) (model.Application, error) {
	var result model.Application
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collApplications, idOrName, applicationLookupFields)
		if err != nil {
			return err
		}
		var a model.Application
		if err := model.FromDoc(doc, &a); err != nil {
			return err
		}
		applyApplicationPatch(&a, patch)
		if a.Name == "" {
			return apperr.NewValidation("name", "is required")
		}
		if err := validateApplicationLinks(tx, a); err != nil {
			return err
		}
		name := a.Name
		if err := ensureUniqueString(tx, collApplications, "name", id, &name); err != nil {
			return err
		}
		newDoc, err := model.ToDoc(a)
		if err != nil {
			return err
		}
		if err := tx.Set(collApplications, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityApplication, id, []string{a.Name})
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = a
		return nil
	})
	if err != nil {
		return model.Application{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

func applyApplicationPatch(a *model.Application, patch map[string]any) {
	if v, ok := patch["name"].(string); ok {
		a.Name = v
	}
	if v, ok := patch["components"].([]any); ok {
		a.Components = toStringSlice(v)
	}
	if v, ok := patch["links"]; ok {
		if links, ok := decodeLinks(v); ok {
			a.Links = links
		}
	}
	if v, ok := patch["expose"]; ok {
		if refs, ok := decodeServiceRefs(v); ok {
			a.Expose = refs
		}
	}
}

func decodeLinks(v any) ([]model.Link, bool) {
	doc, err := model.ToDoc(struct {
		Links any `json:"links"`
	}{Links: v})
	if err != nil {
		return nil, false
	}
	var wrapper struct {
		Links []model.Link `json:"links"`
	}
	if err := model.FromDoc(doc, &wrapper); err != nil {
		return nil, false
	}
	return wrapper.Links, true
}

func decodeServiceRefs(v any) ([]model.ServiceRef, bool) {
	doc, err := model.ToDoc(struct {
		Refs any `json:"refs"`
	}{Refs: v})
	if err != nil {
		return nil, false
	}
	var wrapper struct {
		Refs []model.ServiceRef `json:"refs"`
	}
	if err := model.FromDoc(doc, &wrapper); err != nil {
		return nil, false
	}
	return wrapper.Refs, true
}

// validateApplicationLinks enforces the Application invariant: every
// link endpoint's group must be in components, and the named service must
// exist on that group.
func validateApplicationLinks(tx *store.Tx, a model.Application) error {
	components := stringSet(a.Components)
	for _, comp := range a.Components {
		if _, ok, err := tx.Get(collGroups, comp); err != nil {
			return err
		} else if !ok {
			return apperr.NewValidation("components", "references an unknown group "+comp)
		}
	}

	checkRef := func(field string, ref model.ServiceRef) error {
		if !components[ref.Group] {
			return apperr.NewValidation(field, "group "+ref.Group+" is not a declared component")
		}
		doc, ok, err := tx.Get(collGroups, ref.Group)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewValidation(field, "references an unknown group "+ref.Group)
		}
		var g model.Group
		if err := model.FromDoc(doc, &g); err != nil {
			return err
		}
		for _, svc := range g.Services {
			if svc.Name == ref.ServiceName {
				return nil
			}
		}
		return apperr.NewValidation(field, "service "+ref.ServiceName+" does not exist on group "+ref.Group)
	}

	for _, link := range a.Links {
		if !components[link.FromComponent] {
			return apperr.NewValidation("links", "from_component "+link.FromComponent+" is not a declared component")
		}
		if err := checkRef("links", link.ToService); err != nil {
			return err
		}
	}
	for _, ref := range a.Expose {
		if err := checkRef("expose", ref); err != nil {
			return err
		}
	}
	return nil
}

// DeleteApplication removes an Application. Applications have no downstream
// references in the cascade table, so deletion is a plain remove.
func (s *Store) DeleteApplication(idOrName string) error {
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collApplications, idOrName, applicationLookupFields)
		if err != nil {
			return err
		}
		var a model.Application
		if err := model.FromDoc(doc, &a); err != nil {
			return err
		}
		if _, err := tx.Delete(collApplications, id); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventDeleted, model.EntityApplication, id, []string{a.Name})
		eventID = ev.ID
		return err
	})
	if err != nil {
		return err
	}
	s.Log.Notify(eventID)
	return nil
}
