package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/storage"
)

const (
	uriTuningCurrent   = "kairo://tuning/current"
	uriDecisionsRecent = "kairo://decisions/recent"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriTuningCurrent,
			"Current Tuning",
			mcplib.WithResourceDescription("The tuning config decide calls use right now, and whether it came from the store"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTuningCurrent,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriDecisionsRecent,
			"Recent Decisions",
			mcplib.WithResourceDescription("The 20 most recent audit records, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDecisionsRecent,
	)
}

func (s *Server) handleTuningCurrent(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	view := model.TuningView{Tuning: model.DefaultTuning()}
	cfg, err := s.store.ReadTuning(ctx)
	switch {
	case err == nil:
		view.Stored = true
		if cfg.Validate() == nil {
			view.Tuning, view.Valid = cfg, true
		}
	case errors.Is(err, storage.ErrMalformed):
		view.Stored = true
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("mcp: read tuning: %w", err)
	}
	return textResource(uriTuningCurrent, view)
}

func (s *Server) handleDecisionsRecent(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	records, err := s.store.ListRecent(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent decisions: %w", err)
	}
	if records == nil {
		records = []model.DecisionRecord{}
	}
	return textResource(uriDecisionsRecent, records)
}

func textResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
