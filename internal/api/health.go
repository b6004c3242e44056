package api

import "net/http"

// healthResponse carries liveness plus a coarse view of the engine: the
// fixed device pool size and the current registered network count.
type healthResponse struct {
	Status   string `json:"status"`
	Devices  int    `json:"devices"`
	Networks int    `json:"networks"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Devices:  s.manager.Pool().Size(),
		Networks: len(s.manager.Networks()),
	})
}
