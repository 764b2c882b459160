// Package stage invokes the named remote stages of the challenge pipeline.
//
// Each stage is a single request/response exchange keyed by the session
// handle. The client never retries and never touches workflow state: it
// returns a typed, validated result or a *Failure, and the caller decides
// what to do with it.
package stage

import (
	"fmt"
	"net/http"
	"net/url"
)

// Name identifies a remote stage.
type Name string

// Stage names, in pipeline order.
const (
	CreateResearch      Name = "create-research"
	GenerateProblem     Name = "generate-problem"
	ApprovePhase1       Name = "approve-phase-1"
	GenerateSchema      Name = "generate-schema"
	ApprovePhase2       Name = "approve-phase-2"
	GeneratePreview     Name = "generate-preview"
	ApprovePhase3       Name = "approve-phase-3"
	StartFullGeneration Name = "start-full-generation"
	JobStatus           Name = "job-status"
	PrepareDelivery     Name = "prepare-delivery"
	Download            Name = "download"
	Chat                Name = "chat"
)

// String returns the string representation of the stage name.
func (n Name) String() string {
	return string(n)
}

// sessionPlacement says where the session handle goes in the request.
type sessionPlacement int

const (
	sessionNone sessionPlacement = iota
	sessionQuery
	sessionPath
	sessionBody
)

type route struct {
	method  string
	path    string
	session sessionPlacement
}

var routes = map[Name]route{
	CreateResearch:      {http.MethodPost, "/challenge/phase1/research", sessionNone},
	GenerateProblem:     {http.MethodPost, "/challenge/phase1/generate-problem", sessionQuery},
	ApprovePhase1:       {http.MethodPost, "/challenge/phase1/approve", sessionQuery},
	GenerateSchema:      {http.MethodPost, "/challenge/phase2/generate-schema", sessionQuery},
	ApprovePhase2:       {http.MethodPost, "/challenge/phase2/approve", sessionQuery},
	GeneratePreview:     {http.MethodPost, "/challenge/phase3/generate-preview", sessionQuery},
	ApprovePhase3:       {http.MethodPost, "/challenge/phase3/approve", sessionQuery},
	StartFullGeneration: {http.MethodPost, "/challenge/phase4/generate-full", sessionQuery},
	JobStatus:           {http.MethodGet, "/challenge/phase4/status", sessionPath},
	PrepareDelivery:     {http.MethodGet, "/challenge/phase5/prepare", sessionPath},
	Download:            {http.MethodGet, "/challenge/phase5/download", sessionPath},
	Chat:                {http.MethodPost, "/chat", sessionBody},
}

// RequiresSession reports whether the stage needs a session handle.
func (n Name) RequiresSession() bool {
	r, ok := routes[n]
	return ok && r.session != sessionNone
}

// Names lists every stage in pipeline order.
func Names() []Name {
	return []Name{
		CreateResearch, GenerateProblem, ApprovePhase1, GenerateSchema, ApprovePhase2,
		GeneratePreview, ApprovePhase3, StartFullGeneration, JobStatus, PrepareDelivery,
		Download, Chat,
	}
}

// Pattern returns the net/http ServeMux pattern that serves the stage under
// prefix, e.g. "GET /api/challenge/phase4/status/{session}".
func (n Name) Pattern(prefix string) (string, bool) {
	r, ok := routes[n]
	if !ok {
		return "", false
	}
	p := r.method + " " + prefix + r.path
	if r.session == sessionPath {
		p += "/{session}"
	}
	return p, true
}

// SessionFrom extracts the session handle from a request addressed to the
// stage. Body-carried handles are not visible here and yield "".
func (n Name) SessionFrom(r *http.Request) string {
	switch routes[n].session {
	case sessionQuery:
		return r.URL.Query().Get("session_id")
	case sessionPath:
		return r.PathValue("session")
	default:
		return ""
	}
}

// ApprovalFor returns the approval stage of a gated phase (1-3).
func ApprovalFor(phase int) (Name, error) {
	switch phase {
	case 1:
		return ApprovePhase1, nil
	case 2:
		return ApprovePhase2, nil
	case 3:
		return ApprovePhase3, nil
	default:
		return "", fmt.Errorf("phase %d has no approval stage", phase)
	}
}

// target builds the method and URL for a stage call.
func (r route) target(baseURL, session string) (string, error) {
	switch r.session {
	case sessionQuery:
		return baseURL + r.path + "?session_id=" + url.QueryEscape(session), nil
	case sessionPath:
		return baseURL + r.path + "/" + url.PathEscape(session), nil
	default:
		return baseURL + r.path, nil
	}
}
