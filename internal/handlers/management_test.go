package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otcheredev/pacs-node/internal/models"
	"github.com/otcheredev/pacs-node/internal/services"
)

type fakeDirectory struct {
	byID map[uuid.UUID]*models.KnownAE
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byID: make(map[uuid.UUID]*models.KnownAE)}
}

func (f *fakeDirectory) Create(_ context.Context, ae *models.KnownAE) error {
	if ae.ID == uuid.Nil {
		ae.ID = uuid.New()
	}
	f.byID[ae.ID] = ae
	return nil
}

func (f *fakeDirectory) GetByAETitle(_ context.Context, aeTitle string) (*models.KnownAE, error) {
	for _, ae := range f.byID {
		if ae.AETitle == aeTitle && ae.IsActive {
			return ae, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) GetByID(_ context.Context, id uuid.UUID) (*models.KnownAE, error) {
	ae, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return ae, nil
}

func (f *fakeDirectory) List(_ context.Context) ([]models.KnownAE, error) {
	out := make([]models.KnownAE, 0, len(f.byID))
	for _, ae := range f.byID {
		out = append(out, *ae)
	}
	return out, nil
}

func (f *fakeDirectory) Update(_ context.Context, ae *models.KnownAE) error {
	f.byID[ae.ID] = ae
	return nil
}

func (f *fakeDirectory) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeDirectory) CountActive(_ context.Context) (int64, error) {
	var n int64
	for _, ae := range f.byID {
		if ae.IsActive {
			n++
		}
	}
	return n, nil
}

func newTestHandler(dir *fakeDirectory) *ManagementHandler {
	svc := services.NewAEService(dir, nil, "PACSNODE", time.Second)
	return NewManagementHandler(svc, nil, nil)
}

func peerRouter(h *ManagementHandler) chi.Router {
	r := chi.NewRouter()
	r.Post("/peers", h.CreatePeer)
	r.Get("/peers/{id}", h.GetPeer)
	r.Delete("/peers/{id}", h.DeletePeer)
	return r
}

func TestCreatePeer(t *testing.T) {
	h := newTestHandler(newFakeDirectory())
	body := `{"ae_title":"REMOTE","host":"10.0.0.5","port":104}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/peers", strings.NewReader(body))
	peerRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("CreatePeer status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var ae models.KnownAE
	if err := json.NewDecoder(rec.Body).Decode(&ae); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ae.AETitle != "REMOTE" || ae.Port != 104 {
		t.Errorf("CreatePeer response = %s:%d, want REMOTE:104", ae.AETitle, ae.Port)
	}
	if !ae.IsActive {
		t.Error("CreatePeer response IsActive = false, want true")
	}
}

func TestCreatePeerValidation(t *testing.T) {
	h := newTestHandler(newFakeDirectory())

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"ae_title":`},
		{"empty ae title", `{"ae_title":"","host":"10.0.0.5","port":104}`},
		{"long ae title", `{"ae_title":"THIS_TITLE_IS_FAR_TOO_LONG","host":"10.0.0.5","port":104}`},
		{"zero port", `{"ae_title":"REMOTE","host":"10.0.0.5","port":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/peers", strings.NewReader(tt.body))
			peerRouter(h).ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("CreatePeer status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestGetPeerNotFound(t *testing.T) {
	h := newTestHandler(newFakeDirectory())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/peers/"+uuid.NewString(), nil)
	peerRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("GetPeer status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetPeerInvalidID(t *testing.T) {
	h := newTestHandler(newFakeDirectory())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/peers/not-a-uuid", nil)
	peerRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("GetPeer status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDeletePeer(t *testing.T) {
	dir := newFakeDirectory()
	id := uuid.New()
	dir.byID[id] = &models.KnownAE{ID: id, AETitle: "REMOTE", Host: "10.0.0.5", Port: 104, IsActive: true}
	h := newTestHandler(dir)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/peers/"+id.String(), nil)
	peerRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("DeletePeer status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if len(dir.byID) != 0 {
		t.Errorf("directory size after delete = %d, want 0", len(dir.byID))
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "limit=20&offset=40", 20, 40},
		{"limit capped", "limit=9999", 50, 0},
		{"negative ignored", "limit=-1&offset=-5", 50, 0},
		{"garbage ignored", "limit=abc&offset=xyz", 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/instances?"+tt.query, nil)
			limit, offset := pagination(req)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("pagination(%q) = (%d, %d), want (%d, %d)", tt.query, limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
