package api

import (
	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Resourcelinks serves /api/<user>/resourcelinks.
type Resourcelinks struct {
	ds *datastore.Datastore
}

func (h *Resourcelinks) Name() string { return "resourcelinks" }

func (h *Resourcelinks) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/resourcelinks$`, h.getAll),
		newRoute("get", `^/api/(\w+)/resourcelinks/(\w+)$`, h.get),
		newRoute("post", `^/api/(\w+)/resourcelinks$`, h.create),
		newRoute("put", `^/api/(\w+)/resourcelinks/(\w+)$`, h.update),
		newRoute("delete", `^/api/(\w+)/resourcelinks/(\w+)$`, h.delete),
	}
}

type resourcelinkBody struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	ClassID     *int      `json:"classid"`
	Owner       *string   `json:"owner"`
	Recycle     *bool     `json:"recycle"`
	Links       *[]string `json:"links"`
}

func (h *Resourcelinks) getAll(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.AllResourcelinks())
}

func (h *Resourcelinks) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	rl, ok := h.ds.Resourcelink(m[2])
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/resourcelinks/"+m[2])
		return
	}
	writeJSON(w, rl)
}

func (h *Resourcelinks) create(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var body resourcelinkBody
	if !decodeBody(w, r, &body, "/resourcelinks") {
		return
	}

	id := h.ds.CreateResourcelink(m[1])
	rl, _ := h.ds.Resourcelink(id)
	if body.Name != nil {
		rl.Name = *body.Name
	}
	if body.Description != nil {
		rl.Description = *body.Description
	}
	if body.ClassID != nil {
		rl.ClassID = *body.ClassID
	}
	if body.Owner != nil {
		rl.Owner = *body.Owner
	}
	if body.Recycle != nil {
		rl.Recycle = *body.Recycle
	}
	if body.Links != nil {
		rl.Links = *body.Links
	}
	h.ds.UpdateResourcelink(id, rl)

	var res Multi
	res.Success("id", id)
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.ResourcelinkCreated, ID: id, Object: rl})
}

func (h *Resourcelinks) update(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/resourcelinks/" + id
	var body resourcelinkBody
	if !decodeBody(w, r, &body, address) {
		return
	}
	rl, ok := h.ds.Resourcelink(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, address)
		return
	}

	var res Multi
	if body.Name != nil {
		rl.Name = *body.Name
		res.Success(address+"/name", rl.Name)
	}
	if body.Description != nil {
		rl.Description = *body.Description
		res.Success(address+"/description", rl.Description)
	}
	if body.ClassID != nil {
		rl.ClassID = *body.ClassID
		res.Success(address+"/classid", rl.ClassID)
	}
	if body.Owner != nil {
		rl.Owner = *body.Owner
		res.Success(address+"/owner", rl.Owner)
	}
	if body.Recycle != nil {
		rl.Recycle = *body.Recycle
		res.Success(address+"/recycle", rl.Recycle)
	}
	if body.Links != nil {
		rl.Links = *body.Links
		res.Success(address+"/links", rl.Links)
	}
	writeMulti(w, &res)
	h.ds.UpdateResourcelink(id, rl)
	h.ds.Emit(eventbus.Event{Type: eventbus.ResourcelinkModified, ID: id, Object: rl})
}

func (h *Resourcelinks) delete(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	if !h.ds.DeleteResourcelink(id) {
		writeError(w, ErrResourceNotAvailable, "/resourcelinks/"+id)
		return
	}
	writeRaw(w, []map[string]string{{"success": "/resourcelinks/" + id + " deleted."}})
	h.ds.Emit(eventbus.Event{Type: eventbus.ResourcelinkDeleted, ID: id})
}
