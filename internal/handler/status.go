package handler

import "net/http"

// GetMirrorStatus handles GET /mirror/status.
func (s *Server) GetMirrorStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mirror.Status())
}
