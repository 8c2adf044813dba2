package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/dlclark/regexp2"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/store"
)

// connectionDTO is a connection as shown to clients; secrets are masked.
type connectionDTO struct {
	store.Connection
}

func toConnectionDTO(conn store.Connection) connectionDTO {
	conn.Config = conn.Config.Redacted()
	return connectionDTO{Connection: conn}
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.conns.All(r.Context())
	if err != nil {
		s.fail(w, r, "failed to list connections", err)
		return
	}
	out := make([]connectionDTO, 0, len(conns))
	for _, c := range conns {
		out = append(out, toConnectionDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": out})
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.conns.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, "failed to load connection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": toConnectionDTO(conn)})
}

func (s *Server) saveConnection(w http.ResponseWriter, r *http.Request) {
	var conn store.Connection
	if err := decodeJSON(r, &conn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validateConnection(conn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.conns.Save(r.Context(), conn); err != nil {
		s.fail(w, r, "failed to save connection", err)
		return
	}
	s.logger.Info("connection saved", zap.String("connection", conn.Name), zap.String("class", conn.ClassName))
	writeJSON(w, http.StatusCreated, map[string]any{"connection": toConnectionDTO(conn)})
}

func (s *Server) validateConnection(conn store.Connection) error {
	if err := s.validate.Struct(conn); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid field %s: failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid connection: %w", err)
	}
	if !s.conns.CheckConnectorExists(conn.ClassName) {
		return fmt.Errorf("unknown connector class %q", conn.ClassName)
	}
	for _, t := range conn.Throttles {
		if _, err := regexp2.Compile(t.Match, regexp2.None); err != nil {
			return fmt.Errorf("invalid throttle match %q: %w", t.Match, err)
		}
	}
	return nil
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.conns.Delete(r.Context(), name); err != nil {
		s.fail(w, r, "failed to delete connection", err)
		return
	}
	s.logger.Info("connection deleted", zap.String("connection", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, err := s.conns.CheckConnection(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"connection": name, "status": "Connection failed: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"connection": name, "status": status})
}

func (s *Server) exportConnections(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.conns.Export(r.Context(), &buf); err != nil {
		s.fail(w, r, "failed to export connections", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="connections.bin"`)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("write export failed", zap.Error(err))
	}
}

func (s *Server) importConnections(w http.ResponseWriter, r *http.Request) {
	if err := s.conns.Import(r.Context(), r.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}
