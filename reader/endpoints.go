package reader

import (
	"context"
	"fmt"

	"github.com/hazyhaar/liseuse/annotation"
	"github.com/hazyhaar/liseuse/kit"
)

// PathRequest names a library document.
type PathRequest struct {
	Path string `json:"path"`
}

// AnnotationRequest addresses one annotation of a document.
type AnnotationRequest struct {
	Path    string `json:"path"`
	ID      string `json:"id"`
	Comment string `json:"comment,omitempty"`
}

// AnnotationsResponse lists the annotations of a document.
type AnnotationsResponse struct {
	Path        string              `json:"path"`
	Annotations []annotation.Record `json:"annotations"`
}

// ExportResponse carries an exported digest.
type ExportResponse struct {
	Path     string `json:"path"`
	Markdown string `json:"markdown"`
}

// StatusResponse acknowledges a mutation.
type StatusResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id,omitempty"`
}

// Endpoints are the session-less operations shared by the HTTP and MCP
// surfaces. The reader is taken from the request context.
type Endpoints struct {
	Annotations      kit.Endpoint
	DeleteAnnotation kit.Endpoint
	UpdateComment    kit.Endpoint
	Export           kit.Endpoint
}

// Endpoints builds the shared endpoints, each wrapped with call logging.
func (m *Manager) Endpoints() Endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(m.cfg.Logger, name))(e)
	}
	return Endpoints{
		Annotations:      wrap("annotations", m.annotationsEndpoint),
		DeleteAnnotation: wrap("annotation_delete", m.deleteEndpoint),
		UpdateComment:    wrap("annotation_comment", m.commentEndpoint),
		Export:           wrap("export", m.exportEndpoint),
	}
}

func (m *Manager) annotationsEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*PathRequest)
	recs, err := m.Annotations(ctx, kit.UserOrAnonymous(ctx), r.Path)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []annotation.Record{}
	}
	return &AnnotationsResponse{Path: r.Path, Annotations: recs}, nil
}

func (m *Manager) deleteEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*AnnotationRequest)
	if r.Path == "" || r.ID == "" {
		return nil, fmt.Errorf("reader: path and id are required")
	}
	if err := m.DeleteAnnotation(ctx, kit.UserOrAnonymous(ctx), r.Path, r.ID); err != nil {
		return nil, err
	}
	return &StatusResponse{OK: true, ID: r.ID}, nil
}

func (m *Manager) commentEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*AnnotationRequest)
	if r.Path == "" || r.ID == "" {
		return nil, fmt.Errorf("reader: path and id are required")
	}
	if err := m.UpdateComment(ctx, kit.UserOrAnonymous(ctx), r.Path, r.ID, r.Comment); err != nil {
		return nil, err
	}
	return &StatusResponse{OK: true, ID: r.ID}, nil
}

func (m *Manager) exportEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*PathRequest)
	md, err := m.Export(ctx, kit.UserOrAnonymous(ctx), r.Path)
	if err != nil {
		return nil, err
	}
	return &ExportResponse{Path: r.Path, Markdown: md}, nil
}
