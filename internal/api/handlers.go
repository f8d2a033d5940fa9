package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"procodus.dev/hotbox/internal/ingest"
	"procodus.dev/hotbox/internal/storage"
)

// handleHealth reports whether the registry is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := s.registry.ListBoxes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if boxes == nil {
		boxes = []storage.Box{}
	}
	writeJSON(w, http.StatusOK, boxes)
}

func (s *Server) handleGetBox(w http.ResponseWriter, r *http.Request) {
	box, err := s.registry.GetBox(r.Context(), r.PathValue("boxId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, box)
}

func (s *Server) handleCreateBox(w http.ResponseWriter, r *http.Request) {
	md := storage.Metadata{}
	if err := decodeBody(w, r, &md, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	box, err := s.registry.CreateBox(r.Context(), md)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, box)
}

func (s *Server) handleUpdateBox(w http.ResponseWriter, r *http.Request) {
	md := storage.Metadata{}
	if err := decodeBody(w, r, &md, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	box, err := s.registry.UpdateBoxMetadata(r.Context(), r.PathValue("boxId"), md)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, box)
}

func (s *Server) handleDeleteBox(w http.ResponseWriter, r *http.Request) {
	box, err := s.registry.RemoveBox(r.Context(), r.PathValue("boxId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, box)
}

// sensorBody is the POST/PUT sensor payload.
type sensorBody struct {
	Name     *string `json:"name"`
	Type     *string `json:"type"`
	Location *string `json:"location"`
	ID       string  `json:"id"`
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	_, store, err := s.registry.OpenBox(r.Context(), r.PathValue("boxId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sensors, err := store.ListSensors(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var body sensorBody
	if err := decodeBody(w, r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	in := storage.SensorInput{ID: body.ID, Type: body.Type, Location: body.Location}
	if body.Name != nil {
		in.Name = *body.Name
	}
	if in.Name == "" {
		s.writeError(w, r, storage.Required("name"))
		return
	}

	_, store, err := s.registry.OpenBox(r.Context(), r.PathValue("boxId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sensor, err := store.CreateSensor(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sensor)
}

func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	_, store, err := s.registry.OpenBox(r.Context(), r.PathValue("boxId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sensor, err := store.GetSensor(r.Context(), r.PathValue("sensorId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) handleUpdateSensor(w http.ResponseWriter, r *http.Request) {
	var body sensorBody
	if err := decodeBody(w, r, &body, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	_, store, err := s.registry.OpenBox(r.Context(), r.PathValue("boxId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sensor, err := store.UpdateSensor(r.Context(), r.PathValue("sensorId"), storage.SensorPatch{
		Name:     body.Name,
		Type:     body.Type,
		Location: body.Location,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

// measurementsResponse is the body of GET /api/box/{boxId}/measurements.
type measurementsResponse struct {
	BoxID string `json:"box_id"`
	*storage.MeasurementPage
}

func (s *Server) handleQueryMeasurements(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	boxID := r.PathValue("boxId")
	_, store, err := s.registry.OpenBox(r.Context(), boxID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := store.QueryMeasurements(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, measurementsResponse{BoxID: boxID, MeasurementPage: page})
}

func (s *Server) handleCreateMeasurement(w http.ResponseWriter, r *http.Request) {
	var in ingest.Input
	if err := decodeBody(w, r, &in, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.Source = ingest.SourceHTTP

	record, err := s.ingest.Ingest(r.Context(), r.PathValue("boxId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetMeasurement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("measurementId"), 10, 64)
	if err != nil {
		s.writeError(w, r, storage.Invalid("measurementId", "must be an integer"))
		return
	}

	_, store, err := s.registry.OpenBox(r.Context(), r.PathValue("boxId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := store.GetMeasurement(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func parseFilter(r *http.Request) (storage.MeasurementFilter, error) {
	var f storage.MeasurementFilter
	q := r.URL.Query()

	if v := q.Get("start_time"); v != "" {
		t, err := storage.ParseTimestamp(v)
		if err != nil {
			return f, storage.Invalid("start_time", "must be an ISO 8601 date-time")
		}
		f.Start = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := storage.ParseTimestamp(v)
		if err != nil {
			return f, storage.Invalid("end_time", "must be an ISO 8601 date-time")
		}
		f.End = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, storage.Invalid("limit", "must be an integer")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, storage.Invalid("offset", "must be an integer")
		}
		f.Offset = n
	}
	return f, nil
}
