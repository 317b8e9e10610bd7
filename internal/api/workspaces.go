package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

func (a *API) handleWorkspaces(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := a.queryCtx(r)
	defer cancel()
	list, err := a.deps.Hub.Workspaces(ctx)
	if err != nil {
		hubError(w, err)
		return
	}
	writeSnapshot(w, r, list)
}

// workspaceView adapts one per-workspace hub view to a handler.
func workspaceView[T any](a *API, get func(ctx context.Context, ws string) (T, bool, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx, cancel := a.queryCtx(r)
		defer cancel()
		v, found, err := get(ctx, ps.ByName("id"))
		if err != nil {
			hubError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
		writeSnapshot(w, r, v)
	}
}

func (a *API) handleParticipants(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	workspaceView(a, a.deps.Hub.Participants)(w, r, ps)
}

func (a *API) handleCursors(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	workspaceView(a, a.deps.Hub.Cursors)(w, r, ps)
}

func (a *API) handleDocument(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	workspaceView(a, a.deps.Hub.Document)(w, r, ps)
}

func (a *API) handleSpreadsheet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	workspaceView(a, a.deps.Hub.Spreadsheet)(w, r, ps)
}
