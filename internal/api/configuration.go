package api

import (
	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Configuration serves user registration, /config and the full state.
type Configuration struct {
	ds *datastore.Datastore
}

func (h *Configuration) Name() string { return "configuration" }

func (h *Configuration) Routes() []route {
	return []route{
		newRoute("post", `^/api/?$`, h.createUser),
		newRoute("get", `^/api/(\w+)/config$`, h.get),
		newRoute("put", `^/api/(\w+)/config$`, h.modify),
		newRoute("delete", `^/api/(\w+)/config/whitelist/(\w+)$`, h.deleteUser),
		newRoute("get", `^/api/(\w+)$`, h.getFullState),
	}
}

type userBody struct {
	DeviceType        string `json:"devicetype"`
	GenerateClientKey bool   `json:"generateclientkey"`
}

// createUser whitelists a new user while the link button is pressed.
func (h *Configuration) createUser(w ResponseWriter, r *Request, m []string) {
	if !h.ds.LinkButton() {
		writeError(w, ErrLinkButton, "")
		return
	}
	var body userBody
	if !decodeBody(w, r, &body, "") {
		return
	}

	username, clientKey := h.ds.CreateUser(body.DeviceType, body.GenerateClientKey)
	if body.GenerateClientKey {
		writeRaw(w, []map[string]map[string]string{{
			"success": {"username": username, "clientkey": clientKey},
		}})
	} else {
		var res Multi
		res.Success("username", username)
		writeMulti(w, &res)
	}
	h.ds.Emit(eventbus.Event{Type: eventbus.ConfigUserCreated, ID: username})
}

// get returns the full configuration to whitelisted users, or to anyone while
// the link button is pressed. Everyone else gets the minimal configuration.
func (h *Configuration) get(w ResponseWriter, r *Request, m []string) {
	if h.ds.IsUsernameValid(m[1]) || h.ds.LinkButton() {
		writeJSON(w, h.ds.Config())
		return
	}
	writeJSON(w, h.ds.MinimalConfig())
}

type configBody struct {
	Name           *string `json:"name"`
	LinkButton     *bool   `json:"linkbutton"`
	PortalServices *bool   `json:"portalservices"`
	Timezone       *string `json:"timezone"`
	ZigbeeChannel  *int    `json:"zigbeechannel"`
	UTC            any     `json:"UTC"`
	DHCP           any     `json:"dhcp"`
	Touchlink      any     `json:"touchlink"`
}

func (h *Configuration) modify(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var body configBody
	if !decodeBody(w, r, &body, "/config") {
		return
	}

	var res Multi
	if body.Name != nil {
		h.ds.SetName(*body.Name)
		res.Success("/config/name", *body.Name)
	}
	if body.LinkButton != nil {
		h.ds.SetLinkButton(*body.LinkButton)
		res.Success("/config/linkbutton", *body.LinkButton)
	}
	if body.PortalServices != nil {
		h.ds.SetPortalServices(*body.PortalServices)
		res.Success("/config/portalservices", *body.PortalServices)
	}
	if body.Timezone != nil {
		h.ds.SetTimezone(*body.Timezone)
		res.Success("/config/timezone", *body.Timezone)
	}
	if body.ZigbeeChannel != nil {
		h.ds.SetZigbeeChannel(*body.ZigbeeChannel)
		res.Success("/config/zigbeechannel", *body.ZigbeeChannel)
	}
	// accepted and echoed, never applied
	if body.UTC != nil {
		res.Success("/config/UTC", body.UTC)
	}
	if body.DHCP != nil {
		res.Success("/config/dhcp", body.DHCP)
	}
	if body.Touchlink != nil {
		res.Success("/config/touchlink", body.Touchlink)
	}
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.ConfigModified})
}

func (h *Configuration) deleteUser(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	target := m[2]
	if !h.ds.DeleteUser(target) {
		writeError(w, ErrResourceNotAvailable, "/config/whitelist/"+target)
		return
	}
	writeRaw(w, []map[string]string{{"success": "/config/whitelist/" + target + " deleted."}})
	h.ds.Emit(eventbus.Event{Type: eventbus.ConfigUserDeleted, ID: target})
}

func (h *Configuration) getFullState(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.FullState())
}
