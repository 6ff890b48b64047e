package api

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/scheduler"
)

// Schedules serves /api/<user>/schedules.
type Schedules struct {
	ds *datastore.Datastore
}

func (h *Schedules) Name() string { return "schedules" }

func (h *Schedules) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/schedules$`, h.getAll),
		newRoute("get", `^/api/(\w+)/schedules/(\w+)$`, h.get),
		newRoute("post", `^/api/(\w+)/schedules$`, h.create),
		newRoute("put", `^/api/(\w+)/schedules/(\w+)$`, h.update),
		newRoute("delete", `^/api/(\w+)/schedules/(\w+)$`, h.delete),
	}
}

type commandBody struct {
	Address string          `json:"address"`
	Method  string          `json:"method"`
	Body    json.RawMessage `json:"body"`
}

type scheduleBody struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Command     *commandBody `json:"command"`
	LocalTime   *string      `json:"localtime"`
	Time        *string      `json:"time"`
	Status      *string      `json:"status"`
	AutoDelete  *bool        `json:"autodelete"`
	Recycle     *bool        `json:"recycle"`
}

// localTime returns the time expression of the body. localtime wins over the legacy time field.
func (b *scheduleBody) localTime() *string {
	if b.LocalTime != nil {
		return b.LocalTime
	}
	return b.Time
}

func (c *commandBody) command() datastore.Command {
	body := c.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	return datastore.Command{Address: c.Address, Method: c.Method, Body: body}
}

func (h *Schedules) getAll(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.AllSchedules())
}

func (h *Schedules) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	sch, ok := h.ds.Schedule(m[2])
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/schedules/"+m[2])
		return
	}
	writeJSON(w, sch)
}

func (h *Schedules) create(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var body scheduleBody
	if !decodeBody(w, r, &body, "/schedules") {
		return
	}
	raw := body.localTime()
	if raw == nil {
		writeError(w, ErrInvalidJSON, "/schedules")
		return
	}
	expr, err := scheduler.ParseTimeExpr(*raw)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected schedule")
		writeError(w, ErrInvalidJSON, "/schedules")
		return
	}

	id := h.ds.CreateSchedule()
	sch, _ := h.ds.Schedule(id)
	sch.LocalTime = expr.Raw
	sch.Time = expr.Raw
	sch.Created = h.ds.DateString()
	sch.AutoDelete = !expr.IsRecurring() && expr.Repeat == 0
	if body.Name != nil {
		sch.Name = *body.Name
	}
	if body.Description != nil {
		sch.Description = *body.Description
	}
	if body.Command != nil {
		sch.Command = body.Command.command()
	}
	if body.Status != nil {
		sch.Status = *body.Status
	}
	if body.AutoDelete != nil {
		sch.AutoDelete = *body.AutoDelete
	}
	if body.Recycle != nil {
		sch.Recycle = *body.Recycle
	}
	h.ds.UpdateSchedule(id, sch)

	var res Multi
	res.Success("id", id)
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.ScheduleCreated, ID: id, Object: sch, Value: expr})
}

func (h *Schedules) update(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/schedules/" + id
	var body scheduleBody
	if !decodeBody(w, r, &body, address) {
		return
	}
	sch, ok := h.ds.Schedule(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, address)
		return
	}
	var expr *scheduler.TimeExpr
	if raw := body.localTime(); raw != nil {
		var err error
		if expr, err = scheduler.ParseTimeExpr(*raw); err != nil {
			log.Debug().Err(err).Str("schedule", id).Msg("Rejected schedule update")
			writeError(w, ErrInvalidJSON, address)
			return
		}
	}

	var res Multi
	if body.Name != nil {
		sch.Name = *body.Name
		res.Success(address+"/name", sch.Name)
	}
	if body.Description != nil {
		sch.Description = *body.Description
		res.Success(address+"/description", sch.Description)
	}
	if body.Command != nil {
		sch.Command = body.Command.command()
		res.Success(address+"/command", sch.Command)
	}
	if expr != nil {
		sch.LocalTime = expr.Raw
		sch.Time = expr.Raw
		if body.LocalTime != nil {
			res.Success(address+"/localtime", sch.LocalTime)
		} else {
			res.Success(address+"/time", sch.Time)
		}
	}
	if body.Status != nil {
		sch.Status = *body.Status
		res.Success(address+"/status", sch.Status)
	}
	if body.AutoDelete != nil {
		sch.AutoDelete = *body.AutoDelete
		res.Success(address+"/autodelete", sch.AutoDelete)
	}
	if body.Recycle != nil {
		sch.Recycle = *body.Recycle
		res.Success(address+"/recycle", sch.Recycle)
	}
	writeMulti(w, &res)
	h.ds.UpdateSchedule(id, sch)
	h.ds.Emit(eventbus.Event{Type: eventbus.ScheduleModified, ID: id, Object: sch, Value: expr})
}

func (h *Schedules) delete(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	if !h.ds.DeleteSchedule(id) {
		writeError(w, ErrResourceNotAvailable, "/schedules/"+id)
		return
	}
	writeRaw(w, []map[string]string{{"success": "/schedules/" + id + " deleted."}})
	h.ds.Emit(eventbus.Event{Type: eventbus.ScheduleDeleted, ID: id})
}
