package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/poe2oai/gateway/internal/config"
)

// AdminPageHandler serves the minimal admin UI (GET /admin): an HTML page
// that reads and writes /api/admin/config via fetch().
type AdminPageHandler struct{}

func NewAdminPageHandler() *AdminPageHandler {
	return &AdminPageHandler{}
}

func (h *AdminPageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(adminPageHTML))
}

const adminPageHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>poe2oai-gateway admin</title></head>
<body>
<h1>models.yaml</h1>
<textarea id="cfg" rows="30" cols="100"></textarea>
<br>
<button onclick="save()">Save</button>
<script>
async function load() {
  const res = await fetch('/api/admin/config');
  document.getElementById('cfg').value = JSON.stringify(await res.json(), null, 2);
}
async function save() {
  const body = document.getElementById('cfg').value;
  await fetch('/api/admin/config', {method: 'POST', body, headers: {'Content-Type': 'application/json'}});
  load();
}
load();
</script>
</body>
</html>`

// AdminConfigHandler serves GET/POST /api/admin/config.
type AdminConfigHandler struct {
	cfg    *config.Manager
	logger *slog.Logger
}

func NewAdminConfigHandler(cfg *config.Manager, logger *slog.Logger) *AdminConfigHandler {
	return &AdminConfigHandler{cfg: cfg, logger: logger}
}

func (h *AdminConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPost:
		h.post(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// get mirrors original_source/src/handlers/admin.rs's get_config: it
// unconditionally invalidates the cache before reading, so admin reads
// always reflect the on-disk file rather than a stale snapshot.
func (h *AdminConfigHandler) get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.cfg.GetFresh()
	if err != nil {
		h.logger.Error("admin config read failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// post mirrors save_config: parse, write atomically (config.Manager.Save
// handles the write-through + invalidate sequence), then confirm.
func (h *AdminConfigHandler) post(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.logger.Error("admin config parse failed", "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.cfg.Save(&cfg); err != nil {
		h.logger.Error("admin config save failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
