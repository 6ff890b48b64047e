package api

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Rules serves /api/<user>/rules.
type Rules struct {
	ds *datastore.Datastore
}

func (h *Rules) Name() string { return "rules" }

func (h *Rules) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/rules$`, h.getAll),
		newRoute("get", `^/api/(\w+)/rules/(\w+)$`, h.get),
		newRoute("post", `^/api/(\w+)/rules$`, h.create),
		newRoute("put", `^/api/(\w+)/rules/(\w+)$`, h.update),
		newRoute("delete", `^/api/(\w+)/rules/(\w+)$`, h.delete),
	}
}

type conditionBody struct {
	Address  string `json:"address"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type actionBody struct {
	Address string          `json:"address"`
	Method  string          `json:"method"`
	Body    json.RawMessage `json:"body"`
}

type ruleBody struct {
	Name       *string          `json:"name"`
	Recycle    *bool            `json:"recycle"`
	Status     *string          `json:"status"`
	Conditions *[]conditionBody `json:"conditions"`
	Actions    *[]actionBody    `json:"actions"`
}

// conditionValue normalizes a condition value to its string form.
func conditionValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func buildConditions(in []conditionBody) ([]datastore.Condition, error) {
	out := make([]datastore.Condition, 0, len(in))
	for _, c := range in {
		cond, err := datastore.NewCondition(c.Address, c.Operator, conditionValue(c.Value))
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func buildActions(in []actionBody) []datastore.Action {
	out := make([]datastore.Action, 0, len(in))
	for _, a := range in {
		body := a.Body
		if len(body) == 0 {
			body = json.RawMessage("{}")
		}
		out = append(out, datastore.Action{Address: a.Address, Method: a.Method, Body: body})
	}
	return out
}

func (h *Rules) getAll(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.AllRules())
}

func (h *Rules) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	rule, ok := h.ds.Rule(m[2])
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/rules/"+m[2])
		return
	}
	writeJSON(w, rule)
}

func (h *Rules) create(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var body ruleBody
	if !decodeBody(w, r, &body, "/rules") {
		return
	}
	var conditions []datastore.Condition
	if body.Conditions != nil {
		var err error
		if conditions, err = buildConditions(*body.Conditions); err != nil {
			log.Debug().Err(err).Msg("Rejected rule")
			writeError(w, ErrInvalidJSON, "/rules")
			return
		}
	}

	id := h.ds.CreateRule(m[1])
	rule, _ := h.ds.Rule(id)
	if body.Name != nil {
		rule.Name = *body.Name
	}
	if body.Recycle != nil {
		rule.Recycle = *body.Recycle
	}
	if body.Status != nil {
		rule.Status = *body.Status
	}
	if conditions != nil {
		rule.Conditions = conditions
	}
	if body.Actions != nil {
		rule.Actions = buildActions(*body.Actions)
	}
	h.ds.UpdateRule(id, rule)

	var res Multi
	res.Success("id", id)
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.RuleCreated, ID: id, Object: rule})
}

func (h *Rules) update(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/rules/" + id
	var body ruleBody
	if !decodeBody(w, r, &body, address) {
		return
	}
	rule, ok := h.ds.Rule(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, address)
		return
	}
	var conditions []datastore.Condition
	if body.Conditions != nil {
		var err error
		if conditions, err = buildConditions(*body.Conditions); err != nil {
			log.Debug().Err(err).Str("rule", id).Msg("Rejected rule update")
			writeError(w, ErrInvalidJSON, address)
			return
		}
	}

	var res Multi
	if body.Name != nil {
		rule.Name = *body.Name
		res.Success(address+"/name", rule.Name)
	}
	if body.Recycle != nil {
		rule.Recycle = *body.Recycle
		res.Success(address+"/recycle", rule.Recycle)
	}
	if body.Status != nil {
		rule.Status = *body.Status
		res.Success(address+"/status", rule.Status)
	}
	if body.Conditions != nil {
		rule.Conditions = conditions
		res.Success(address+"/conditions", rule.Conditions)
	}
	if body.Actions != nil {
		rule.Actions = buildActions(*body.Actions)
		res.Success(address+"/actions", rule.Actions)
	}
	// conditions carry internal fields, so the response is filtered too
	data, err := MarshalPublic(res.entries)
	if err != nil {
		writeError(w, ErrInternal, address)
		return
	}
	w.Write(200, contentTypeJSON, data)
	h.ds.UpdateRule(id, rule)
	h.ds.Emit(eventbus.Event{Type: eventbus.RuleModified, ID: id, Object: rule})
}

func (h *Rules) delete(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	if !h.ds.DeleteRule(id) {
		writeError(w, ErrResourceNotAvailable, "/rules/"+id)
		return
	}
	writeRaw(w, []map[string]string{{"success": "/rules/" + id + " deleted."}})
	h.ds.Emit(eventbus.Event{Type: eventbus.RuleDeleted, ID: id})
}
