package repo

import (
	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/idcodec"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

var groupLookupFields = []string{"name"}

// CreateGroup validates and persists a new Group.
func (s *Store) CreateGroup(g model.Group) (model.Group, error) {
	if err := validateGroupServices(g.Services); err != nil {
		return model.Group{}, err
	}

	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if g.ID == "" {
			g.ID = idcodec.New(idcodec.KindGroup)
		}
		if err := ensureUniqueString(tx, collGroups, "name", g.ID, g.Name); err != nil {
			return err
		}
		doc, err := model.ToDoc(g)
		if err != nil {
			return err
		}
		if err := tx.Set(collGroups, g.ID, doc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventCreated, model.EntityGroup, g.ID, groupNames(g))
		eventID = ev.ID
		return err
	})
	if err != nil {
		return model.Group{}, err
	}
	s.Log.Notify(eventID)
	return g, nil
}

// GetGroup resolves idOrName to a Group (id first, then name).
func (s *Store) GetGroup(idOrName string) (model.Group, error) {
	var g model.Group
	err := s.db.View(func(tx *store.Tx) error {
		_, doc, err := resolveID(tx, collGroups, idOrName, groupLookupFields)
		if err != nil {
			return err
		}
		return model.FromDoc(doc, &g)
	})
	return g, err
}

// ListGroups returns every Group matching q.
func (s *Store) ListGroups(q query.Node) ([]model.Group, error) {
	var out []model.Group
	err := s.db.View(func(tx *store.Tx) error {
		docs, err := listCollection(tx, collGroups, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var g model.Group
			if err := model.FromDoc(doc, &g); err != nil {
				return err
			}
			out = append(out, g)
		}
		return nil
	})
	return out, err
}

// UpdateGroup applies patch fields onto the Group resolved by idOrName.
func (s *Store) UpdateGroup(idOrName string, patch map[string]any) (model.Group, error) {
	var result model.Group
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collGroups, idOrName, groupLookupFields)
		if err != nil {
			return err
		}
		var g model.Group
		if err := model.FromDoc(doc, &g); err != nil {
			return err
		}
		if err := applyGroupPatch(&g, patch); err != nil {
			return err
		}
		if err := ensureUniqueString(tx, collGroups, "name", id, g.Name); err != nil {
			return err
		}
		newDoc, err := model.ToDoc(g)
		if err != nil {
			return err
		}
		if err := tx.Set(collGroups, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityGroup, id, groupNames(g))
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = g
		return nil
	})
	if err != nil {
		return model.Group{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

// SetMembers adds/removes ids to/from Group.include/exclude (the
// `/v1/groups/<id>/members` POST contract).
func (s *Store) SetMembers(idOrName string, include, exclude []string) (model.Group, error) {
	var result model.Group
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collGroups, idOrName, groupLookupFields)
		if err != nil {
			return err
		}
		var g model.Group
		if err := model.FromDoc(doc, &g); err != nil {
			return err
		}
		g.Include = appendUnique(g.Include, include)
		g.Exclude = appendUnique(g.Exclude, exclude)
		newDoc, err := model.ToDoc(g)
		if err != nil {
			return err
		}
		if err := tx.Set(collGroups, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityGroup, id, groupNames(g))
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = g
		return nil
	})
	if err != nil {
		return model.Group{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

func appendUnique(existing []string, add []string) []string {
	seen := stringSet(existing)
	out := append([]string{}, existing...)
	for _, id := range add {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func applyGroupPatch(g *model.Group, patch map[string]any) error {
	if v, ok := patch["name"]; ok {
		g.Name = nullableString(v)
	}
	if v, ok := patch["query"].(map[string]any); ok {
		g.Query = v
	}
	if v, ok := patch["include"].([]any); ok {
		g.Include = toStringSlice(v)
	}
	if v, ok := patch["exclude"].([]any); ok {
		g.Exclude = toStringSlice(v)
	}
	if v, ok := patch["services"]; ok {
		services, err := decodeServices(v)
		if err != nil {
			return err
		}
		if err := validateGroupServices(services); err != nil {
			return err
		}
		g.Services = services
	}
	return nil
}

func toStringSlice(v []any) []string {
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeServices(v any) ([]model.Service, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, apperr.NewValidation("services", "must be a list")
	}
	doc, err := model.ToDoc(struct {
		Services []any `json:"services"`
	}{Services: items})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Services []model.Service `json:"services"`
	}
	if err := model.FromDoc(doc, &wrapper); err != nil {
		return nil, apperr.NewValidation("services", "malformed service entry")
	}
	return wrapper.Services, nil
}

// validateGroupServices enforces service-name uniqueness within a group and
// a valid protocol.
func validateGroupServices(services []model.Service) error {
	seen := make(map[string]bool, len(services))
	for _, svc := range services {
		if svc.Name == "" {
			return apperr.NewValidation("services", "each service requires a name")
		}
		if seen[svc.Name] {
			return apperr.NewValidation("services", "duplicate service name "+svc.Name)
		}
		seen[svc.Name] = true
		if svc.Protocol != model.ProtocolTCP && svc.Protocol != model.ProtocolUDP {
			return apperr.NewValidation("services", "protocol must be tcp or udp")
		}
	}
	return nil
}

// DeleteGroup removes a Group and runs its cascade policy: every
// Subscription referencing it is cascade-deleted, and it is pulled (not
// cascaded) from every Application's components list.
func (s *Store) DeleteGroup(idOrName string) error {
	var maxEventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, _, err := resolveID(tx, collGroups, idOrName, groupLookupFields)
		if err != nil {
			return err
		}

		// Collect first, then mutate after Ascend returns: see
		// cascadeDeleteResource's matching comment in resource.go for why
		// mutating inside the callback isn't safe.
		var subIDsToDelete []string
		if err := tx.Ascend(collSubscriptions, func(sid string, sdoc map[string]any) bool {
			if group, _ := sdoc["group"].(string); group == id {
				subIDsToDelete = append(subIDsToDelete, sid)
			}
			return true
		}); err != nil {
			return err
		}
		for _, sid := range subIDsToDelete {
			if _, err := tx.Delete(collSubscriptions, sid); err != nil {
				return err
			}
			ev, err := s.Log.AppendTx(tx, model.EventDeleted, model.EntitySubscription, sid, nil)
			if err != nil {
				return err
			}
			maxEventID = ev.ID
		}

		drop := map[string]bool{id: true}
		var appDocs []map[string]any
		if err := tx.Ascend(collApplications, func(aid string, adoc map[string]any) bool {
			appDocs = append(appDocs, adoc)
			return true
		}); err != nil {
			return err
		}
		for _, adoc := range appDocs {
			var app model.Application
			if err := model.FromDoc(adoc, &app); err != nil {
				return err
			}
			before := len(app.Components)
			app.Components = removeAll(app.Components, drop)
			if len(app.Components) == before {
				continue
			}
			newDoc, err := model.ToDoc(app)
			if err != nil {
				return err
			}
			if err := tx.Set(collApplications, app.ID, newDoc); err != nil {
				return err
			}
			ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityApplication, app.ID, []string{app.Name})
			if err != nil {
				return err
			}
			maxEventID = ev.ID
		}

		if _, err := tx.Delete(collGroups, id); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventDeleted, model.EntityGroup, id, nil)
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

func groupNames(g model.Group) []string {
	if g.Name == nil {
		return nil
	}
	return []string{*g.Name}
}
