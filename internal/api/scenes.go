package api

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Scenes serves /api/<user>/scenes. Recall goes through the groups action.
type Scenes struct {
	ds     *datastore.Datastore
	lights *Lights
}

func (h *Scenes) Name() string { return "scenes" }

func (h *Scenes) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/scenes$`, h.getAll),
		newRoute("post", `^/api/(\w+)/scenes$`, h.create),
		newRoute("put", `^/api/(\w+)/scenes/(\w+)$`, h.modify),
		newRoute("put", `^/api/(\w+)/scenes/(\w+)/lightstates/(\w+)$`, h.modifyLightState),
		newRoute("delete", `^/api/(\w+)/scenes/(\w+)$`, h.delete),
		newRoute("get", `^/api/(\w+)/scenes/(\w+)$`, h.get),
	}
}

type sceneBody struct {
	Name            *string                         `json:"name"`
	Lights          *[]string                       `json:"lights"`
	Owner           *string                         `json:"owner"`
	Recycle         *bool                           `json:"recycle"`
	AppData         map[string]any                  `json:"appdata"`
	Picture         *string                         `json:"picture"`
	Effect          *string                         `json:"effect"`
	TransitionTime  *int                            `json:"transitiontime"`
	Version         *int                            `json:"version"`
	LightStates     map[string]datastore.StatePatch `json:"lightstates"`
	StoreLightState *bool                           `json:"storelightstate"`
}

func (h *Scenes) getAll(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.AllScenes())
}

func (h *Scenes) create(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var body sceneBody
	if !decodeBody(w, r, &body, "/scenes") {
		return
	}

	id := h.ds.CreateScene(m[1])
	s, _ := h.ds.Scene(id)
	if body.Name != nil {
		s.Name = *body.Name
	}
	if body.Lights != nil {
		s.Lights = *body.Lights
	}
	if body.Owner != nil {
		s.Owner = *body.Owner
	}
	if body.Recycle != nil {
		s.Recycle = *body.Recycle
	}
	if body.AppData != nil {
		s.AppData = body.AppData
	}
	if body.Picture != nil {
		s.Picture = *body.Picture
	}
	if body.Effect != nil {
		s.Effect = *body.Effect
	}
	if body.TransitionTime != nil {
		tt := *body.TransitionTime
		s.TransitionTime = &tt
	}
	if body.Version != nil {
		s.Version = *body.Version
	}
	if body.LightStates != nil {
		s.LightStates = body.LightStates
	} else {
		h.storeLightStates(s)
	}
	h.ds.UpdateScene(id, s)

	var res Multi
	res.Success("id", id)
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.SceneCreated, ID: id, Object: s})
}

// storeLightStates snapshots the current state of every scene member.
func (h *Scenes) storeLightStates(s *datastore.Scene) {
	if s.LightStates == nil {
		s.LightStates = map[string]datastore.StatePatch{}
	}
	for _, lightID := range s.Lights {
		l, ok := h.ds.Light(lightID)
		if !ok {
			continue
		}
		s.LightStates[lightID] = l.State.Snapshot()
	}
}

func (h *Scenes) modify(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/scenes/" + id
	var body sceneBody
	if !decodeBody(w, r, &body, address) {
		return
	}
	s, ok := h.ds.Scene(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, address)
		return
	}

	var res Multi
	if body.Name != nil {
		s.Name = *body.Name
		res.Success(address+"/name", s.Name)
	}
	if body.Lights != nil {
		s.Lights = *body.Lights
		res.Success(address+"/lights", s.Lights)
	}
	if body.StoreLightState != nil {
		h.storeLightStates(s)
		res.Success(address+"/storelightstate", true)
	}
	writeMulti(w, &res)
	h.ds.UpdateScene(id, s)
	h.ds.Emit(eventbus.Event{Type: eventbus.SceneModified, ID: id, Object: s})
}

type sceneLightStateBody struct {
	On             *bool       `json:"on"`
	Bri            *int        `json:"bri"`
	Hue            *int        `json:"hue"`
	Sat            *int        `json:"sat"`
	XY             *[2]float64 `json:"xy"`
	CT             *int        `json:"ct"`
	Effect         *string     `json:"effect"`
	TransitionTime *int        `json:"transitiontime"`
}

func (h *Scenes) modifyLightState(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id, lightID := m[2], m[3]
	var body sceneLightStateBody
	if !decodeBody(w, r, &body, "/scenes/"+id+"/lightstates/"+lightID) {
		return
	}
	s, ok := h.ds.Scene(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/scenes/"+id)
		return
	}
	if s.LightStates == nil {
		s.LightStates = map[string]datastore.StatePatch{}
	}
	ls := s.LightStates[lightID]
	prefix := "/scenes/" + id + "/lightstates/" + lightID + "/"

	var res Multi
	if body.On != nil {
		ls.On = body.On
		res.Success(prefix+"on", *body.On)
	}
	if body.Bri != nil {
		ls.Bri = body.Bri
		res.Success(prefix+"bri", *body.Bri)
	}
	if body.Hue != nil {
		ls.Hue = body.Hue
		res.Success(prefix+"hue", *body.Hue)
	}
	if body.Sat != nil {
		ls.Sat = body.Sat
		res.Success(prefix+"sat", *body.Sat)
	}
	if body.XY != nil {
		ls.XY = body.XY
		res.Success(prefix+"xy", *body.XY)
	}
	if body.CT != nil {
		ls.CT = body.CT
		res.Success(prefix+"ct", *body.CT)
	}
	if body.Effect != nil {
		ls.Effect = body.Effect
		res.Success(prefix+"effect", *body.Effect)
	}
	if body.TransitionTime != nil {
		ls.TransitionTime = body.TransitionTime
		res.Success(prefix+"transitiontime", *body.TransitionTime)
	}
	s.LightStates[lightID] = ls
	writeMulti(w, &res)
	h.ds.UpdateScene(id, s)
	h.ds.Emit(eventbus.Event{Type: eventbus.SceneLightstateChanged, ID: id, Object: s})
}

func (h *Scenes) delete(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	if !h.ds.DeleteScene(id) {
		writeError(w, ErrResourceNotAvailable, "/scenes/"+id)
		return
	}
	writeRaw(w, []map[string]string{{"success": "/scenes/" + id + " deleted."}})
	h.ds.Emit(eventbus.Event{Type: eventbus.SceneDeleted, ID: id})
}

func (h *Scenes) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	s, ok := h.ds.Scene(m[2])
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/scenes/"+m[2])
		return
	}
	writeJSON(w, s)
}

// recall applies the stored state of every scene member.
func (h *Scenes) recall(w ResponseWriter, groupID, sceneID string) {
	s, ok := h.ds.Scene(sceneID)
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/scenes/"+sceneID)
		return
	}
	log.Debug().Str("group", groupID).Str("scene", sceneID).Msg("Recalling scene")
	for _, lightID := range s.Lights {
		ls, ok := s.LightStates[lightID]
		if !ok {
			continue
		}
		h.lights.updateState(lightID, &ls, nil, "")
	}
	var res Multi
	res.Success("/groups/"+groupID+"/action/scene", sceneID)
	writeMulti(w, &res)
}
