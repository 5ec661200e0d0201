package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

type healthResponse struct {
	Status   string                   `json:"status"`
	Entities int                      `json:"entities"`
	Imports  core.ImportLimiterStatus `json:"imports"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Entities: core.EntityCount(),
		Imports:  s.service.LimiterStatus(),
	})
}

// entitySummary describes an importable entity to API clients.
type entitySummary struct {
	Key        string         `json:"key"`
	Label      string         `json:"label"`
	Table      string         `json:"table"`
	NaturalKey []string       `json:"natural_key"`
	Required   []string       `json:"required"`
	TieBreak   string         `json:"tie_break"`
	Parent     *parentSummary `json:"parent,omitempty"`
	Fields     []fieldSummary `json:"fields"`
}

type parentSummary struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
	Local  string `json:"local_field"`
}

type fieldSummary struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Additive bool     `json:"additive,omitempty"`
	Default  any      `json:"default,omitempty"`
	Aliases  []string `json:"aliases,omitempty"`
}

func summarize(ent *core.Entity) entitySummary {
	sum := entitySummary{
		Key:        ent.Key,
		Label:      ent.Label,
		Table:      ent.Table,
		NaturalKey: ent.NaturalKey,
		Required:   ent.RequiredFields(),
		TieBreak:   ent.TieBreak.String(),
		Fields:     make([]fieldSummary, len(ent.Fields)),
	}
	if ent.Parent != nil {
		sum.Parent = &parentSummary{Entity: ent.Parent.Entity, Field: ent.Parent.Field, Local: ent.Parent.Local()}
	}
	for i, f := range ent.Fields {
		sum.Fields[i] = fieldSummary{
			Name:     f.Name,
			Type:     f.Type.String(),
			Additive: f.Additive,
			Default:  f.Default,
			Aliases:  f.Aliases,
		}
	}
	return sum
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	ents := s.service.Entities()
	out := make([]entitySummary, len(ents))
	for i, ent := range ents {
		out[i] = summarize(ent)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHistory lists recent runs; ?entity= filters and ?limit= caps the list.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	if entity != "" {
		if _, ok := core.Get(entity); !ok {
			respondError(w, r, core.ErrUnknownEntity, http.StatusNotFound)
			return
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.service.History(r.Context(), entity, limit)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if runs == nil {
		runs = []core.ImportRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
