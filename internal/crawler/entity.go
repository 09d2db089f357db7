package crawler

import (
	"context"
	"net/http"
)

// Names of shared entities kept outside the cloneable Spec.
const (
	entityJar     = "jar"
	entityResolve = "resolve"
)

// entities holds the shared values of one logical request by name. They
// are never copied; every attempt receives the original references.
type entities map[string]any

// detach splits a request into its clone-safe Spec and its shared entities.
func detach(req Request) (Spec, entities, Callback) {
	ents := entities{}
	if req.Jar != nil {
		ents[entityJar] = req.Jar
	}
	if req.ResolveURI != nil {
		ents[entityResolve] = req.ResolveURI
	}
	return req.Spec, ents, req.Callback
}

// attach builds an attempt from a fresh clone of spec and the original entities.
func (e entities) attach(spec Spec) *Request {
	req := &Request{Spec: spec.Clone()}
	if jar, ok := e[entityJar].(http.CookieJar); ok {
		req.Jar = jar
	}
	return req
}

func (e entities) resolver() func(context.Context) (string, error) {
	fn, _ := e[entityResolve].(func(context.Context) (string, error))
	return fn
}
