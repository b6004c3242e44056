package api

import "net/http"

// deviceInfo describes one pool device.
type deviceInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// handleListDevices reports the fixed device pool. The set never changes
// after construction, so the response is stable for the server's lifetime.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	pool := s.manager.Pool()
	infos := make([]deviceInfo, 0, pool.Size())
	for _, name := range pool.Names() {
		d, _ := pool.Get(name)
		infos = append(infos, deviceInfo{Name: d.Name(), Kind: d.Kind()})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"devices": infos})
}
