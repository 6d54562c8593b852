package formapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/c360studio/topo4dform/form"
	"github.com/c360studio/topo4dform/geometry"
	"github.com/c360studio/topo4dform/item"
	"github.com/c360studio/topo4dform/metrics"
	"github.com/c360studio/topo4dform/session"
	"github.com/c360studio/topo4dform/validation"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// defaultUploadName stands in for uploads that carry no filename.
const defaultUploadName = "uploaded.las"

// RegisterHTTPHandlers registers all form-api HTTP handlers under the given prefix.
// The prefix should be the path segment without a trailing slash (e.g. "api/form").
// Handlers are registered as:
//
//	POST <prefix>/submit
//	GET  <prefix>/item
//	POST <prefix>/submit_asset
//	POST <prefix>/upload_header
//	POST <prefix>/clear
//	GET  <prefix>/form
//	GET  <prefix>/health
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"submit", c.handleSubmit)
	mux.HandleFunc(prefix+"item", c.handleItem)
	mux.HandleFunc(prefix+"submit_asset", c.handleSubmitAsset)
	mux.HandleFunc(prefix+"upload_header", c.handleUploadHeader)
	mux.HandleFunc(prefix+"clear", c.handleClear)
	mux.HandleFunc(prefix+"form", c.handleForm)
	mux.HandleFunc(prefix+"health", c.handleHealth)
}

// ItemResponse carries the assembled Item and its validation outcome. The
// Item is present even when invalid.
type ItemResponse struct {
	Item      *item.Item           `json:"item"`
	Valid     bool                 `json:"valid"`
	Errors    []validation.Finding `json:"errors"`
	ErrorText string               `json:"error_text,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// AssetResponse carries the data asset and its validation outcome.
type AssetResponse struct {
	Asset     *item.Asset          `json:"asset"`
	Valid     bool                 `json:"valid"`
	Errors    []validation.Finding `json:"errors"`
	ErrorText string               `json:"error_text,omitempty"`
}

// FormResponse holds the raw documents used to refill the form controls.
type FormResponse struct {
	Item     map[string]any `json:"item"`
	Asset    map[string]any `json:"asset"`
	Required []string       `json:"required"`
}

// ----------------------------------------------------------------------------
// POST /api/form/submit
// ----------------------------------------------------------------------------

// handleSubmit merges an item form submission into the session and returns
// the rebuilt Item.
func (c *Component) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sub, err := decodeSubmission(w, r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid submission: %v", err), http.StatusBadRequest)
		return
	}
	c.metrics.Submission(string(session.EntityItem))

	id := c.sessionID(w, r)
	var resp ItemResponse
	err = c.sessions.Do(id, func(s *session.Session) error {
		s.Item.Merge(sub, form.Normalize(sub))
		var verr error
		resp, verr = c.itemResponse(s)
		return verr
	})
	if err != nil {
		c.writeValidationFailure(w, err, resp)
		return
	}

	c.publish(r, id, resp)
	writeJSON(w, http.StatusOK, resp)
}

// ----------------------------------------------------------------------------
// GET /api/form/item
// ----------------------------------------------------------------------------

// handleItem returns the Item of the current session without changing it.
func (c *Component) handleItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp ItemResponse
	err := c.sessions.Do(c.sessionID(w, r), func(s *session.Session) error {
		var err error
		resp, err = c.itemResponse(s)
		return err
	})
	if err != nil {
		c.writeValidationFailure(w, err, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ----------------------------------------------------------------------------
// POST /api/form/submit_asset
// ----------------------------------------------------------------------------

// handleSubmitAsset merges a data asset submission and validates the asset
// on its own.
func (c *Component) handleSubmitAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sub, err := decodeSubmission(w, r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid submission: %v", err), http.StatusBadRequest)
		return
	}
	c.metrics.Submission(string(session.EntityAsset))

	var draft *item.Asset
	err = c.sessions.Do(c.sessionID(w, r), func(s *session.Session) error {
		s.Asset.Merge(sub, item.NormalizeAssetSubmission(sub))
		draft = item.DraftAsset(s.Asset.Semantic)
		return nil
	})
	if err != nil {
		c.logger.Error("Asset submission failed", "error", err)
		http.Error(w, "Asset submission failed", http.StatusInternalServerError)
		return
	}

	res, err := c.validator.ValidateAsset(draft)
	if err != nil {
		c.logger.Error("Asset validation failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, AssetResponse{Asset: draft, Errors: []validation.Finding{}, ErrorText: err.Error()})
		return
	}
	c.metrics.Validation(string(session.EntityAsset), len(res.Findings))

	writeJSON(w, http.StatusOK, AssetResponse{
		Asset:     draft,
		Valid:     res.Valid(),
		Errors:    findings(res),
		ErrorText: res.Error(),
	})
}

// ----------------------------------------------------------------------------
// POST /api/form/upload_header
// ----------------------------------------------------------------------------

// handleUploadHeader derives the Item footprint from an uploaded point cloud
// header. The header arrives as a JSON body, or as the "header" field of a
// multipart form whose optional "file" part names the source file.
func (c *Component) handleUploadHeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Any failure leaves the stored footprint alone and is reported with
	// the current Item.
	var (
		name      string
		footprint *geometry.Result
	)
	hdr, failure := c.decodeHeader(w, r)
	if failure != nil {
		failure = fmt.Errorf("invalid header: %w", failure)
	} else {
		name = uploadName(hdr.Filename)
		hdr.Filename = name
		if !c.uploadAllowed(name) {
			failure = fmt.Errorf("file type not accepted: %s", name)
		}
	}

	if failure == nil {
		footprint, failure = c.deriver.Derive(hdr)
		switch {
		case failure != nil:
			c.metrics.Geometry(metrics.GeometryFailed)
			c.logger.Debug("Geometry derivation failed", "file", name, "error", failure)
		case footprint.Reprojected:
			c.metrics.Geometry(metrics.GeometryReprojected)
		default:
			c.metrics.Geometry(metrics.GeometryNative)
		}
	}

	id := c.sessionID(w, r)
	var resp ItemResponse
	err := c.sessions.Do(id, func(s *session.Session) error {
		if failure == nil {
			s.Footprint = footprint
		}
		var verr error
		resp, verr = c.itemResponse(s)
		return verr
	})
	if err != nil {
		c.writeValidationFailure(w, err, resp)
		return
	}

	if failure != nil {
		resp.ErrorText = joinErrorText(failure.Error(), resp.ErrorText)
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	resp.Message = fmt.Sprintf("Metadata extracted from %s.", name)
	c.publish(r, id, resp)
	writeJSON(w, http.StatusOK, resp)
}

// ----------------------------------------------------------------------------
// POST /api/form/clear?entity=item|asset
// ----------------------------------------------------------------------------

// handleClear empties one entity of the session.
func (c *Component) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entity, err := session.ParseEntity(r.URL.Query().Get("entity"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = c.sessions.Do(c.sessionID(w, r), func(s *session.Session) error {
		return s.Clear(entity)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"cleared": string(entity)})
}

// ----------------------------------------------------------------------------
// GET /api/form/form
// ----------------------------------------------------------------------------

// handleForm returns the raw documents of the session for refilling the
// form controls.
func (c *Component) handleForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp FormResponse
	_ = c.sessions.Do(c.sessionID(w, r), func(s *session.Session) error {
		exported := s.Export()
		assets, _ := exported[session.SlotRaw][session.SlotAssets].(map[string]any)
		delete(exported[session.SlotRaw], session.SlotAssets)
		resp = FormResponse{
			Item:     exported[session.SlotRaw],
			Asset:    assets,
			Required: item.RequiredFields,
		}
		return nil
	})
	writeJSON(w, http.StatusOK, resp)
}

// ----------------------------------------------------------------------------
// GET /api/form/health
// ----------------------------------------------------------------------------

func (c *Component) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h := c.Health()
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// itemResponse assembles and validates the Item of s. On a validation error
// the partially filled response is still returned.
func (c *Component) itemResponse(s *session.Session) (ItemResponse, error) {
	props := item.BuildProperties(s.Item.Semantic)
	assets := item.BuildAssets(s.Asset.Semantic)
	it := item.Assemble(props, assets, s.Footprint, c.itemOptions())

	resp := ItemResponse{Item: it, Errors: []validation.Finding{}}
	res, err := c.validator.Validate(it)
	if err != nil {
		return resp, err
	}
	c.metrics.Validation(string(session.EntityItem), len(res.Findings))

	resp.Valid = res.Valid()
	resp.Errors = findings(res)
	resp.ErrorText = res.Error()
	return resp, nil
}

// writeValidationFailure reports a validator failure together with the
// best-effort Item.
func (c *Component) writeValidationFailure(w http.ResponseWriter, err error, resp ItemResponse) {
	c.logger.Error("Validation failed", "error", err)
	resp.Valid = false
	resp.ErrorText = err.Error()
	if resp.Errors == nil {
		resp.Errors = []validation.Finding{}
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

// publish forwards a valid Item. Failures are logged only.
func (c *Component) publish(r *http.Request, sessionID string, resp ItemResponse) {
	if c.publisher == nil || !resp.Valid {
		return
	}
	err := c.publisher.Publish(r.Context(), sessionID, resp.Item)
	c.metrics.Published(err)
	if err != nil {
		c.logger.Warn("Failed to publish item", "item_id", resp.Item.ID, "error", err)
	}
}

// sessionID returns the caller's session, issuing a new cookie when the
// request carries none or an unusable one.
func (c *Component) sessionID(w http.ResponseWriter, r *http.Request) string {
	if ck, err := r.Cookie(c.config.CookieName); err == nil {
		if _, err := uuid.Parse(ck.Value); err == nil {
			return ck.Value
		}
	}

	id := session.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     c.config.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// decodeSubmission reads a flat key/value submission from a JSON object or
// an url-encoded or multipart form.
func decodeSubmission(w http.ResponseWriter, r *http.Request) (form.Submission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if isJSON(r) {
		var sub form.Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			return nil, err
		}
		if sub == nil {
			sub = form.Submission{}
		}
		return sub, nil
	}

	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxRequestBodySize); err != nil {
			return nil, err
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return form.FromValues(r.PostForm), nil
}

// decodeHeader reads an uploaded header record.
func (c *Component) decodeHeader(w http.ResponseWriter, r *http.Request) (geometry.Header, error) {
	var hdr geometry.Header
	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxUploadSize)

	if !isMultipart(r) {
		err := json.NewDecoder(r.Body).Decode(&hdr)
		if errors.Is(err, io.EOF) {
			return hdr, errors.New("no header uploaded")
		}
		return hdr, err
	}

	if err := r.ParseMultipartForm(c.config.MaxUploadSize); err != nil {
		return hdr, err
	}
	raw := r.FormValue("header")
	if raw == "" {
		return hdr, errors.New("no header uploaded")
	}
	if err := json.Unmarshal([]byte(raw), &hdr); err != nil {
		return hdr, err
	}
	if _, fh, err := r.FormFile("file"); err == nil && fh.Filename != "" {
		hdr.Filename = fh.Filename
	}
	return hdr, nil
}

// uploadName strips directories from a client supplied filename.
func uploadName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == "" {
		return defaultUploadName
	}
	return base
}

// uploadAllowed reports whether name matches one of the upload patterns.
func (c *Component) uploadAllowed(name string) bool {
	if len(c.config.UploadPatterns) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, p := range c.config.UploadPatterns {
		if ok, _ := doublestar.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func findings(res validation.Result) []validation.Finding {
	if res.Findings == nil {
		return []validation.Finding{}
	}
	return res.Findings
}

func joinErrorText(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

func isMultipart(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "multipart/form-data"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written.
		_ = err
	}
}
