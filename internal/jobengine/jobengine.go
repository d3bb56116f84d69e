// Package jobengine implements procedure execution: given a Procedure and
// a target Resource, compose the merged options/params, render the
// procedure's content through an opaque template collaborator, and insert
// the resulting Job as pending.
package jobengine

import (
	"github.com/perfectstorm/coordinator/internal/apperr"
	"github.com/perfectstorm/coordinator/internal/model"
)

// ProcedureResourceStore is the slice of internal/repo.Store that Exec
// needs: procedure/resource lookup plus job insertion.
type ProcedureResourceStore interface {
	GetProcedure(idOrName string) (model.Procedure, error)
	GetResource(idOrName string) (model.Resource, error)
	InsertJob(j model.Job) (model.Job, error)
}

// Renderer renders a procedure's opaque content against a target and
// merged params. The coordinator never interprets the result itself; real
// template engines (e.g. Jinja-style rendering) are treated as an
// out-of-scope external collaborator, so this interface exists purely as
// the seam a deployment plugs one into.
type Renderer interface {
	Render(content string, target model.Resource, params map[string]any) (string, error)
}

// IdentityRenderer returns content unchanged. It is the coordinator's
// default Renderer, matching the explicit exclusion of template
// rendering from the coordinator's own responsibilities — content is
// passed through opaquely unless a real renderer is wired in by the
// deployment.
type IdentityRenderer struct{}

func (IdentityRenderer) Render(content string, _ model.Resource, _ map[string]any) (string, error) {
	return content, nil
}

// Engine composes and inserts Jobs.
type Engine struct {
	store ProcedureResourceStore
	renderer Renderer
}

// New builds an Engine. A nil renderer defaults to IdentityRenderer.
func New(store ProcedureResourceStore, renderer Renderer) *Engine {
	if renderer == nil {
		renderer = IdentityRenderer{}
	}
	return &Engine{store: store, renderer: renderer}
}

// Exec implements POST /v1/procedures/<id>/exec: resolves procedure and
// target, composes job.options = procedure.options ∪ optionsOverride and
// job.params = procedure.params ∪ paramsOverride, renders procedure.content,
// and inserts a pending Job with no owner.
func (e *Engine) Exec(procedureIDOrName, targetIDOrName string, optionsOverride, paramsOverride map[string]any) (model.Job, error) {
	proc, err := e.store.GetProcedure(procedureIDOrName)
	if err != nil {
		return model.Job{}, err
	}
	target, err := e.store.GetResource(targetIDOrName)
	if err != nil {
		return model.Job{}, apperr.NewValidation("target", "references an unknown resource")
	}

	options := mergeMaps(proc.Options, optionsOverride)
	params := mergeMaps(proc.Params, paramsOverride)

	content, err := e.renderer.Render(proc.Content, target, params)
	if err != nil {
		return model.Job{}, err
	}

	procID := proc.ID
	job := model.Job{
		Type: proc.Type,
		Target: target.ID,
		Procedure: &procID,
		Content: content,
		Options: options,
		Params: params,
		Status: model.JobStatusPending,
	}
	return e.store.InsertJob(job)
}

// mergeMaps returns base with every key of override applied on top
// (override wins on conflict), per the "∪ overrides" wording.
// Neither input is mutated.
func mergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
