package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/service"
	"github.com/clockdesk/clockdesk/internal/trust"
)

func testIdentities() []*model.Identity {
	return []*model.Identity{
		{ID: "owner-1", DisplayName: "Olive", Role: model.RoleAdmin, IsOwner: true, TenantScope: "loc-1"},
		{ID: "user-1", DisplayName: "Uma", Role: model.RoleUser, TenantScope: "loc-1"},
		{ID: "user-2", DisplayName: "Ugo", Role: model.RoleUser, TenantScope: "loc-2"},
	}
}

func newTestIdentityHandler(svc *fakeIdentityService) *IdentityHandler {
	h := NewIdentityHandler(svc, &fakeSessions{hasKey: true}, discardLogger())
	h.SetTenantLookup(newFakeTenants())
	return h
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestIdentityHandler_List(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		keyScope    string
		wantCode    int
		wantCount   int
		wantScopeIn string
	}{
		{"operator lists all", "", "", http.StatusOK, 3, ""},
		{"operator filters", "?tenantScope=loc-2", "", http.StatusOK, 1, "loc-2"},
		{"scoped key defaults to own tenant", "", "loc-1", http.StatusOK, 2, "loc-1"},
		{"scoped key own tenant", "?tenantScope=loc-1", "loc-1", http.StatusOK, 2, "loc-1"},
		{"scoped key foreign tenant", "?tenantScope=loc-2", "loc-1", http.StatusForbidden, 0, ""},
		{"invalid scope", "?tenantScope=a%00b", "", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIdentityService(testIdentities()...)
			h := newTestIdentityHandler(svc)

			req := withAuth(httptest.NewRequest(http.MethodGet, "/api/v1/identities"+tt.query, nil), "op", tt.keyScope)
			rec := httptest.NewRecorder()
			h.List(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				if len(svc.listScopes) != 0 {
					t.Errorf("service called on rejected request")
				}
				return
			}

			var body struct {
				Identities []model.Identity `json:"identities"`
				Count      int              `json:"count"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Count != tt.wantCount || len(body.Identities) != tt.wantCount {
				t.Errorf("count = %d (%d items), want %d", body.Count, len(body.Identities), tt.wantCount)
			}
			if svc.listScopes[0] != tt.wantScopeIn {
				t.Errorf("service scope = %q, want %q", svc.listScopes[0], tt.wantScopeIn)
			}
		})
	}
}

func TestIdentityHandler_List_Error(t *testing.T) {
	svc := newFakeIdentityService()
	svc.err = errStoreDown
	h := newTestIdentityHandler(svc)

	req := withAuth(httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil), "op", "")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", code)
	}
}

func TestIdentityHandler_Touch(t *testing.T) {
	svc := newFakeIdentityService()
	svc.created = true
	h := newTestIdentityHandler(svc)

	body := `{"userId":" u-9 ","userName":"Nia","email":"nia@example.com","locationId":"loc-1","claimedRole":"admin"}`
	req := withAuth(httptest.NewRequest(http.MethodPost, "/api/v1/identities/touch", strings.NewReader(body)), "op", "loc-1")
	rec := httptest.NewRecorder()
	h.Touch(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp TouchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Created {
		t.Error("created = false, want true")
	}
	if resp.Session.Phase != trust.PhaseAuthoritative {
		t.Errorf("phase = %q, want authoritative", resp.Session.Phase)
	}
	if resp.Session.Identity.ID != "u-9" || resp.Session.Identity.Role != model.RoleUser {
		t.Errorf("identity = %+v, want stored user role", resp.Session.Identity)
	}
	if !resp.Session.ClaimsAdmin {
		t.Error("claimsAdmin should reflect the claim")
	}
	if len(svc.touched) != 1 || svc.touched[0].UserID != "u-9" {
		t.Errorf("touched = %+v", svc.touched)
	}
}

func TestIdentityHandler_Touch_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		keyScope string
		wantCode int
	}{
		{"malformed", `{"userId":`, "", http.StatusBadRequest},
		{"missing user id", `{"locationId":"loc-1"}`, "", http.StatusBadRequest},
		{"foreign tenant", `{"userId":"u1","locationId":"loc-2"}`, "loc-1", http.StatusForbidden},
		{"own company with foreign location", `{"userId":"u1","locationId":"victim-loc","companyId":"co-1"}`, "co-1", http.StatusForbidden},
		{"own location with foreign company", `{"userId":"u1","locationId":"loc-1","companyId":"victim-co"}`, "loc-1", http.StatusForbidden},
		{"no tenant ids", `{"userId":"u1"}`, "loc-1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIdentityService()
			h := newTestIdentityHandler(svc)

			req := withAuth(httptest.NewRequest(http.MethodPost, "/api/v1/identities/touch", strings.NewReader(tt.body)), "op", tt.keyScope)
			rec := httptest.NewRecorder()
			h.Touch(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if len(svc.touched) != 0 {
				t.Error("service should not be called")
			}
		})
	}
}

func TestIdentityHandler_Session(t *testing.T) {
	h := newTestIdentityHandler(newFakeIdentityService())

	req := withAuth(httptest.NewRequest(http.MethodGet, "/api/v1/session?user_id=u1&location_id=loc-1&role=admin", nil), "op", "")
	rec := httptest.NewRecorder()
	h.Session(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var s trust.Session
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Phase != trust.PhaseOptimistic || s.Identity.Role != model.RoleUser {
		t.Errorf("session = %+v, want optimistic user", s)
	}
	if s.Claims.UserID != "u1" || !s.ClaimsAdmin {
		t.Errorf("claims = %+v", s.Claims)
	}
}

func TestIdentityHandler_Touch_CompanyKeyOwnLocation(t *testing.T) {
	svc := newFakeIdentityService()
	h := newTestIdentityHandler(svc)

	body := `{"userId":"u1","locationId":"loc-1","companyId":"co-1"}`
	req := withAuth(httptest.NewRequest(http.MethodPost, "/api/v1/identities/touch", strings.NewReader(body)), "op", "co-1")
	rec := httptest.NewRecorder()
	h.Touch(rec, req)

	if rec.Code != http.StatusOK && rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.touched) != 1 {
		t.Errorf("touched = %d, want 1", len(svc.touched))
	}
}

func TestIdentityHandler_Session_Tenant(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		keyScope string
		wantCode int
	}{
		{"own location", "?user_id=u1&location_id=loc-1", "loc-1", http.StatusOK},
		{"own location and its company", "?user_id=u1&location_id=loc-1&company_id=co-1", "loc-1", http.StatusOK},
		{"own company and its location", "?user_id=u1&location_id=loc-1&company_id=co-1", "co-1", http.StatusOK},
		{"foreign location", "?user_id=u1&location_id=loc-2", "loc-1", http.StatusForbidden},
		{"own company with foreign location", "?user_id=u1&location_id=victim-loc&company_id=co-1", "co-1", http.StatusForbidden},
		{"own location with foreign company", "?user_id=u1&location_id=loc-1&company_id=victim-co", "loc-1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestIdentityHandler(newFakeIdentityService())

			req := withAuth(httptest.NewRequest(http.MethodGet, "/api/v1/session"+tt.query, nil), "op", tt.keyScope)
			rec := httptest.NewRecorder()
			h.Session(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusForbidden {
				if got := decodeErrorCode(t, rec); got != "FORBIDDEN_TENANT" {
					t.Errorf("code = %q, want FORBIDDEN_TENANT", got)
				}
			}
		})
	}
}

func TestIdentityHandler_Touch_LookupFailure(t *testing.T) {
	svc := newFakeIdentityService()
	h := NewIdentityHandler(svc, &fakeSessions{hasKey: true}, discardLogger())
	h.SetTenantLookup(&fakeTenants{err: errStoreDown})

	body := `{"userId":"u1","locationId":"loc-1","companyId":"co-1"}`
	req := withAuth(httptest.NewRequest(http.MethodPost, "/api/v1/identities/touch", strings.NewReader(body)), "op", "co-1")
	rec := httptest.NewRecorder()
	h.Touch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if len(svc.touched) != 0 {
		t.Error("service should not be called")
	}
}

func TestIdentityHandler_SetRole(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		body     string
		keyScope string
		wantCode int
		wantErr  string
	}{
		{"promote", "user-1", `{"role":"admin"}`, "", http.StatusOK, ""},
		{"scoped key own tenant", "user-1", `{"role":"admin"}`, "loc-1", http.StatusOK, ""},
		{"scoped key foreign identity", "user-2", `{"role":"admin"}`, "loc-1", http.StatusNotFound, "IDENTITY_NOT_FOUND"},
		{"invalid role", "user-1", `{"role":"superuser"}`, "", http.StatusBadRequest, "INVALID_ROLE"},
		{"owner demotion", "owner-1", `{"role":"user"}`, "", http.StatusConflict, "OWNER_DEMOTION"},
		{"unknown identity", "ghost", `{"role":"admin"}`, "", http.StatusNotFound, "IDENTITY_NOT_FOUND"},
		{"malformed body", "user-1", `{"role":`, "", http.StatusBadRequest, "INVALID_JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIdentityService(testIdentities()...)
			h := newTestIdentityHandler(svc)

			req := httptest.NewRequest(http.MethodPut, "/api/v1/identities/"+tt.id+"/role", strings.NewReader(tt.body))
			req = withURLParams(withAuth(req, "op", tt.keyScope), "id", tt.id)
			rec := httptest.NewRecorder()
			h.SetRole(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				if code := decodeErrorCode(t, rec); code != tt.wantErr {
					t.Errorf("code = %q, want %q", code, tt.wantErr)
				}
				return
			}

			var updated model.Identity
			if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if updated.Role != model.RoleAdmin {
				t.Errorf("role = %q, want admin", updated.Role)
			}
		})
	}
}

func TestIdentityHandler_Delete(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		keyScope string
		wantCode int
	}{
		{"operator", "user-2", "", http.StatusNoContent},
		{"scoped own tenant", "user-1", "loc-1", http.StatusNoContent},
		{"scoped foreign tenant", "user-2", "loc-1", http.StatusNotFound},
		{"missing", "ghost", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIdentityService(testIdentities()...)
			h := newTestIdentityHandler(svc)

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/identities/"+tt.id, nil)
			req = withURLParams(withAuth(req, "op", tt.keyScope), "id", tt.id)
			rec := httptest.NewRecorder()
			h.Delete(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			deleted := len(svc.deleted) == 1 && svc.deleted[0] == tt.id
			if deleted != (tt.wantCode == http.StatusNoContent) {
				t.Errorf("deleted = %v, want %v", svc.deleted, tt.wantCode == http.StatusNoContent)
			}
		})
	}
}

func TestIdentityHandler_TransferOwnership(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		keyScope string
		wantCode int
	}{
		{"valid", `{"currentOwnerId":"owner-1","newOwnerId":"user-1","tenantScope":"loc-1"}`, "", http.StatusOK},
		{"scoped key own tenant", `{"currentOwnerId":"owner-1","newOwnerId":"user-1","tenantScope":"loc-1"}`, "loc-1", http.StatusOK},
		{"scoped key foreign tenant", `{"currentOwnerId":"owner-1","newOwnerId":"user-2","tenantScope":"loc-2"}`, "loc-1", http.StatusForbidden},
		{"missing field", `{"currentOwnerId":"owner-1","tenantScope":"loc-1"}`, "", http.StatusBadRequest},
		{"unknown field", `{"owner":"owner-1"}`, "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIdentityService(testIdentities()...)
			h := newTestIdentityHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/identities/ownership-transfer", strings.NewReader(tt.body))
			req = withAuth(req, "op", tt.keyScope)
			rec := httptest.NewRecorder()
			h.TransferOwnership(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var owner model.Identity
			if err := json.NewDecoder(rec.Body).Decode(&owner); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !owner.IsOwner || owner.ID != "user-1" {
				t.Errorf("owner = %+v", owner)
			}
		})
	}
}

func TestIdentityHandler_Bogus(t *testing.T) {
	svc := newFakeIdentityService()
	svc.bogus = []service.BogusMatch{
		{Identity: &model.Identity{ID: "{{user.id}}"}, Reason: "template id"},
		{Identity: &model.Identity{ID: "undefined"}, Reason: "literal undefined"},
	}
	h := newTestIdentityHandler(svc)

	t.Run("dry run", func(t *testing.T) {
		req := withAuth(httptest.NewRequest(http.MethodGet, "/api/v1/identities/bogus", nil), "op", "")
		rec := httptest.NewRecorder()
		h.FindBogus(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Count != 2 {
			t.Errorf("count = %d, want 2", body.Count)
		}
	})

	t.Run("delete", func(t *testing.T) {
		req := withAuth(httptest.NewRequest(http.MethodDelete, "/api/v1/identities/bogus", nil), "op", "")
		rec := httptest.NewRecorder()
		h.DeleteBogus(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var cleanup service.BogusCleanup
		if err := json.NewDecoder(rec.Body).Decode(&cleanup); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if cleanup.Deleted != 2 {
			t.Errorf("deleted = %d, want 2", cleanup.Deleted)
		}
	})
}

func TestIdentityHandler_Overview(t *testing.T) {
	svc := newFakeIdentityService()
	svc.groups = []service.TenantGroup{{TenantScope: "loc-1", OwnerID: "owner-1", Admins: 1, Users: 1}}
	h := newTestIdentityHandler(svc)

	req := withAuth(httptest.NewRequest(http.MethodGet, "/api/v1/identities/overview", nil), "op", "")
	rec := httptest.NewRecorder()
	h.Overview(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"tenants"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
