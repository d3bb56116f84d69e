package repo

import (
	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/eventlog"
	"github.com/perfectstorm/coordinator/internal/idcodec"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/query"
	"github.com/perfectstorm/coordinator/internal/store"
)

var resourceLookupFields = []string{"names"}

// CreateResource validates and persists a new Resource.
func (s *Store) CreateResource(r model.Resource) (model.Resource, error) {
	if r.Type == "" {
		return model.Resource{}, apperr.NewValidation("type", "is required")
	}
	if r.Owner == "" {
		return model.Resource{}, apperr.NewValidation("owner", "is required")
	}
	if r.Status == "" {
		r.Status = model.ResourceStatusUnknown
	} else if !model.ValidResourceStatus(r.Status) {
		return model.Resource{}, apperr.NewValidation("status", "is not a recognized status")
	}
	if r.Health == "" {
		r.Health = model.ResourceHealthUnknown
	} else if !model.ValidResourceHealth(r.Health) {
		return model.Resource{}, apperr.NewValidation("health", "is not a recognized health value")
	}

	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		if _, ok, err := tx.Get(collAgents, r.Owner); err != nil {
			return err
		} else if !ok {
			return apperr.NewValidation("owner", "references an unknown agent")
		}
		if r.ID == "" {
			r.ID = idcodec.New(idcodec.KindResource)
		}
		if err := ensureUniqueNameList(tx, collResources, "names", r.ID, r.Names); err != nil {
			return err
		}
		doc, err := model.ToDoc(r)
		if err != nil {
			return err
		}
		if err := tx.Set(collResources, r.ID, doc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventCreated, model.EntityResource, r.ID, r.Names)
		eventID = ev.ID
		return err
	})
	if err != nil {
		return model.Resource{}, err
	}
	s.Log.Notify(eventID)
	return r, nil
}

// GetResource resolves idOrName to a Resource (id first, then any name).
func (s *Store) GetResource(idOrName string) (model.Resource, error) {
	var r model.Resource
	err := s.db.View(func(tx *store.Tx) error {
		_, doc, err := resolveID(tx, collResources, idOrName, resourceLookupFields)
		if err != nil {
			return err
		}
		return model.FromDoc(doc, &r)
	})
	return r, err
}

// ListResources returns every Resource matching q.
func (s *Store) ListResources(q query.Node) ([]model.Resource, error) {
	var out []model.Resource
	err := s.db.View(func(tx *store.Tx) error {
		docs, err := listCollection(tx, collResources, q)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var r model.Resource
			if err := model.FromDoc(doc, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// UpdateResource applies patch fields onto the Resource resolved by idOrName.
func (s *Store) UpdateResource(idOrName string, patch map[string]any) (model.Resource, error) {
	var result model.Resource
	var eventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collResources, idOrName, resourceLookupFields)
		if err != nil {
			return err
		}
		var r model.Resource
		if err := model.FromDoc(doc, &r); err != nil {
			return err
		}
		if err := applyResourcePatch(&r, patch); err != nil {
			return err
		}
		if err := ensureUniqueNameList(tx, collResources, "names", id, r.Names); err != nil {
			return err
		}
		newDoc, err := model.ToDoc(r)
		if err != nil {
			return err
		}
		if err := tx.Set(collResources, id, newDoc); err != nil {
			return err
		}
		ev, err := s.Log.AppendTx(tx, model.EventUpdated, model.EntityResource, id, r.Names)
		if err != nil {
			return err
		}
		eventID = ev.ID
		result = r
		return nil
	})
	if err != nil {
		return model.Resource{}, err
	}
	s.Log.Notify(eventID)
	return result, nil
}

func applyResourcePatch(r *model.Resource, patch map[string]any) error {
	if v, ok := patch["type"].(string); ok {
		r.Type = v
	}
	if v, ok := patch["names"].([]any); ok {
		names := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		r.Names = names
	}
	if v, ok := patch["owner"].(string); ok {
		r.Owner = v
	}
	if v, ok := patch["parent"]; ok {
		r.Parent = nullableString(v)
	}
	if v, ok := patch["cluster"]; ok {
		r.Cluster = nullableString(v)
	}
	if v, ok := patch["host"]; ok {
		r.Host = nullableString(v)
	}
	if v, ok := patch["image"]; ok {
		r.Image = nullableString(v)
	}
	if v, ok := patch["status"].(string); ok {
		if !model.ValidResourceStatus(v) {
			return apperr.NewValidation("status", "is not a recognized status")
		}
		r.Status = v
	}
	if v, ok := patch["health"].(string); ok {
		if !model.ValidResourceHealth(v) {
			return apperr.NewValidation("health", "is not a recognized health value")
		}
		r.Health = v
	}
	if v, ok := patch["snapshot"].(map[string]any); ok {
		r.Snapshot = v
	}
	return nil
}

func nullableString(v any) *string {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

// DeleteResource removes a Resource and runs its cascade policy: it is
// pulled from every Group's include/exclude lists (never cascade-deleting
// the group), and every Job targeting it is cascade deleted.
func (s *Store) DeleteResource(idOrName string) error {
	var maxEventID int64
	err := s.db.Update(func(tx *store.Tx) error {
		id, doc, err := resolveID(tx, collResources, idOrName, resourceLookupFields)
		if err != nil {
			return err
		}
		var r model.Resource
		if err := model.FromDoc(doc, &r); err != nil {
			return err
		}
		return cascadeDeleteResource(tx, s.Log, r, &maxEventID)
	})
	if err != nil {
		return err
	}
	s.Log.Notify(maxEventID)
	return nil
}

// cascadeDeleteResource performs the full delete-time cascade for a single
// resource within an already-open transaction, so DeleteResource and
// DeleteAgent's cascade (which deletes each owned resource in turn) share
// one implementation.
func cascadeDeleteResource(tx *store.Tx, log *eventlog.Log, r model.Resource, maxEventID *int64) error {
	drop := map[string]bool{r.ID: true}

	// Collect every group whose doc is visited first, then mutate after
	// Ascend returns: tx.Set/Delete and Log.AppendTx (which inserts new
	// events:* keys) both write into the same keyspace btree Ascend is
	// walking, so applying them from inside the callback would mutate the
	// collection out from under its own cursor.
	var groupDocs []map[string]any
	if err := tx.Ascend(collGroups, func(gid string, gdoc map[string]any) bool {
		groupDocs = append(groupDocs, gdoc)
		return true
	}); err != nil {
		return err
	}
	for _, gdoc := range groupDocs {
		var g model.Group
		if err := model.FromDoc(gdoc, &g); err != nil {
			return err
		}
		before := len(g.Include) + len(g.Exclude)
		g.Include = removeAll(g.Include, drop)
		g.Exclude = removeAll(g.Exclude, drop)
		if len(g.Include)+len(g.Exclude) == before {
			continue // nothing pulled, no update/event needed
		}
		newDoc, err := model.ToDoc(g)
		if err != nil {
			return err
		}
		if err := tx.Set(collGroups, g.ID, newDoc); err != nil {
			return err
		}
		ev, err := log.AppendTx(tx, model.EventUpdated, model.EntityGroup, g.ID, groupNames(g))
		if err != nil {
			return err
		}
		*maxEventID = ev.ID
	}

	var targetingJobIDs []string
	if err := tx.Ascend(collJobs, func(jid string, jdoc map[string]any) bool {
		if target, _ := jdoc["target"].(string); target == r.ID {
			targetingJobIDs = append(targetingJobIDs, jid)
		}
		return true
	}); err != nil {
		return err
	}
	for _, jid := range targetingJobIDs {
		if _, err := tx.Delete(collJobs, jid); err != nil {
			return err
		}
		ev, err := log.AppendTx(tx, model.EventDeleted, model.EntityJob, jid, nil)
		if err != nil {
			return err
		}
		*maxEventID = ev.ID
	}

	if _, err := tx.Delete(collResources, r.ID); err != nil {
		return err
	}
	ev, err := log.AppendTx(tx, model.EventDeleted, model.EntityResource, r.ID, r.Names)
	if err != nil {
		return err
	}
	*maxEventID = ev.ID
	return nil
}
