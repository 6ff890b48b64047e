// Package api implements the Hue REST API resource handlers and the
// dispatcher that routes requests to them.
package api

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
)

// route binds a method and path pattern to a handler function. The handler
// receives the regexp submatches.
type route struct {
	method  string
	pattern *regexp.Regexp
	handle  func(w ResponseWriter, r *Request, m []string)
}

func newRoute(method, pattern string, handle func(ResponseWriter, *Request, []string)) route {
	return route{method: method, pattern: regexp.MustCompile(pattern), handle: handle}
}

// handler serves one resource family.
type handler interface {
	Name() string
	Routes() []route
}

// Dispatcher routes requests to resource handlers in a fixed order. The
// first handler with a matching route claims the request.
type Dispatcher struct {
	ds       *datastore.Datastore
	handlers []handler
	routes   []route
}

// NewDispatcher composes the resource handlers of one bridge.
func NewDispatcher(ds *datastore.Datastore) *Dispatcher {
	d := &Dispatcher{ds: ds}
	lights := &Lights{ds: ds}
	scenes := &Scenes{ds: ds, lights: lights}
	d.handlers = []handler{
		lights,
		&Groups{ds: ds, lights: lights, scenes: scenes},
		&Schedules{ds: ds},
		scenes,
		&Sensors{ds: ds},
		&Rules{ds: ds},
		&Configuration{ds: ds},
		&Resourcelinks{ds: ds},
		&Capabilities{ds: ds},
		&Discovery{ds: ds},
	}
	for _, h := range d.handlers {
		d.routes = append(d.routes, h.Routes()...)
	}
	return d
}

// Dispatch serves r and reports whether a handler claimed it. Unclaimed
// requests get a bare 404. Handler panics are answered with error 901.
func (d *Dispatcher) Dispatch(w ResponseWriter, r *Request) (claimed bool) {
	for _, rt := range d.routes {
		if rt.method != r.Method {
			continue
		}
		m := rt.pattern.FindStringSubmatch(r.Path)
		if m == nil {
			continue
		}
		log.Debug().Str("bridge", d.ds.BridgeID()).Str("method", r.Method).Str("path", r.Path).Msg("Dispatch")
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error().Str("path", r.Path).Str("panic", fmt.Sprint(p)).Msg("Handler panicked")
					writeError(w, ErrInternal, r.Path)
				}
			}()
			rt.handle(w, r, m)
		}()
		return true
	}
	log.Debug().Str("method", r.Method).Str("path", r.Path).Msg("No handler for request")
	writeNotFound(w)
	return false
}

// authorized checks the username and writes error 1 when it is not whitelisted.
func authorized(ds *datastore.Datastore, w ResponseWriter, username string) bool {
	if ds.IsUsernameValid(username) {
		return true
	}
	writeError(w, ErrUnauthorized, "/config/whitelist/"+username)
	return false
}

// decodeBody decodes the request body and writes error 2 on failure.
func decodeBody(w ResponseWriter, r *Request, v any, address string) bool {
	if err := r.decode(v); err != nil {
		log.Debug().Err(err).Str("path", r.Path).Msg("Invalid request body")
		writeError(w, ErrInvalidJSON, address)
		return false
	}
	return true
}
