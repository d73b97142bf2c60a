package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	organizationdomain "github.com/tracklane/tracklane/internal/organization/domain"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	"github.com/tracklane/tracklane/internal/tenant"
	"gorm.io/gorm"
)

const (
	testUserID = "200"
	testOrgID  = "100"
)

type fakeOrgService struct {
	role    tenant.Role
	roleErr error
}

func (f *fakeOrgService) CreateUser(ctx context.Context, req organizationdomain.CreateUserRequest) (*organizationdomain.UserResponse, error) {
	_ = ctx
	return &organizationdomain.UserResponse{ID: "1", Email: req.Email, DisplayName: req.DisplayName}, nil
}

func (f *fakeOrgService) Create(ctx context.Context, userID snowflake.ID, req organizationdomain.CreateOrganizationRequest) (*organizationdomain.OrganizationResponse, error) {
	_ = ctx
	_ = userID
	return &organizationdomain.OrganizationResponse{ID: testOrgID, Name: req.Name}, nil
}

func (f *fakeOrgService) GetByID(ctx context.Context, id string) (*organizationdomain.OrganizationResponse, error) {
	_ = ctx
	return &organizationdomain.OrganizationResponse{ID: id, Name: "Acme"}, nil
}

func (f *fakeOrgService) ListByUser(ctx context.Context, userID snowflake.ID) ([]organizationdomain.OrganizationListResponseItem, error) {
	_ = ctx
	_ = userID
	return nil, nil
}

func (f *fakeOrgService) AddMember(ctx context.Context, actor tenant.Context, req organizationdomain.AddMemberRequest) error {
	_ = ctx
	_ = actor
	_ = req
	return nil
}

func (f *fakeOrgService) MemberRole(ctx context.Context, orgID, userID snowflake.ID) (tenant.Role, error) {
	_ = ctx
	_ = orgID
	_ = userID
	if f.roleErr != nil {
		return "", f.roleErr
	}
	if f.role == "" {
		return tenant.RoleMember, nil
	}
	return f.role, nil
}

type fakeProjectService struct {
	project *projectdomain.Project
	err     error
}

func (f *fakeProjectService) Create(ctx context.Context, actor tenant.Context, req projectdomain.CreateProjectRequest) (*projectdomain.ProjectResponse, error) {
	_ = ctx
	_ = actor
	return &projectdomain.ProjectResponse{ID: "7", Key: req.Key, Name: req.Name}, nil
}

func (f *fakeProjectService) GetByKey(ctx context.Context, orgID snowflake.ID, key string) (*projectdomain.Project, error) {
	_ = ctx
	_ = orgID
	_ = key
	if f.err != nil {
		return nil, f.err
	}
	if f.project != nil {
		return f.project, nil
	}
	return &projectdomain.Project{ID: 7, OrgID: 100, Key: "WEB", Name: "Website"}, nil
}

func (f *fakeProjectService) List(ctx context.Context, orgID snowflake.ID) ([]projectdomain.ProjectResponse, error) {
	_ = ctx
	_ = orgID
	return nil, nil
}

func (f *fakeProjectService) NextSequence(ctx context.Context, tx *gorm.DB, projectID snowflake.ID) (int64, error) {
	_ = ctx
	_ = tx
	_ = projectID
	return 1, nil
}

type fakeItemService struct {
	lastActor  tenant.Context
	lastCreate itemdomain.CreateTaskRequest
	lastMove   itemdomain.MoveTaskRequest
	task       *itemdomain.TaskResponse
	err        error
}

func (f *fakeItemService) Create(ctx context.Context, actor tenant.Context, req itemdomain.CreateTaskRequest) (*itemdomain.TaskResponse, error) {
	_ = ctx
	f.lastActor = actor
	f.lastCreate = req
	return f.result()
}

func (f *fakeItemService) Get(ctx context.Context, actor tenant.Context, taskID string) (*itemdomain.TaskResponse, error) {
	_ = ctx
	_ = taskID
	f.lastActor = actor
	return f.result()
}

func (f *fakeItemService) List(ctx context.Context, actor tenant.Context, req itemdomain.ListTasksRequest) (*itemdomain.ListTasksResponse, error) {
	_ = ctx
	_ = req
	f.lastActor = actor
	if f.err != nil {
		return nil, f.err
	}
	return &itemdomain.ListTasksResponse{}, nil
}

func (f *fakeItemService) Update(ctx context.Context, actor tenant.Context, req itemdomain.UpdateTaskRequest) (*itemdomain.TaskResponse, error) {
	_ = ctx
	_ = req
	f.lastActor = actor
	return f.result()
}

func (f *fakeItemService) Move(ctx context.Context, actor tenant.Context, req itemdomain.MoveTaskRequest) (*itemdomain.TaskResponse, error) {
	_ = ctx
	f.lastActor = actor
	f.lastMove = req
	return f.result()
}

func (f *fakeItemService) Archive(ctx context.Context, actor tenant.Context, taskID string) (*itemdomain.TaskResponse, error) {
	_ = ctx
	_ = taskID
	f.lastActor = actor
	return f.result()
}

func (f *fakeItemService) Unarchive(ctx context.Context, actor tenant.Context, taskID string) (*itemdomain.TaskResponse, error) {
	_ = ctx
	_ = taskID
	f.lastActor = actor
	return f.result()
}

func (f *fakeItemService) Delete(ctx context.Context, actor tenant.Context, taskID string) error {
	_ = ctx
	_ = taskID
	f.lastActor = actor
	return f.err
}

func (f *fakeItemService) result() (*itemdomain.TaskResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.task != nil {
		return f.task, nil
	}
	return &itemdomain.TaskResponse{ID: "42", DisplayID: "WEB-1"}, nil
}

type fakeAuditService struct {
	exportBody []byte
	err        error
}

func (f *fakeAuditService) RecordCreated(ctx context.Context, tx *gorm.DB, actor tenant.Context, item auditdomain.ItemRef, metadata map[string]any) error {
	_, _, _, _, _ = ctx, tx, actor, item, metadata
	return nil
}

func (f *fakeAuditService) RecordUpdated(ctx context.Context, tx *gorm.DB, actor tenant.Context, item auditdomain.ItemRef, changes []auditdomain.FieldChange) error {
	_, _, _, _, _ = ctx, tx, actor, item, changes
	return nil
}

func (f *fakeAuditService) RecordMoved(ctx context.Context, tx *gorm.DB, actor tenant.Context, item auditdomain.ItemRef, change auditdomain.MovedChange) error {
	_, _, _, _, _ = ctx, tx, actor, item, change
	return nil
}

func (f *fakeAuditService) RecordArchived(ctx context.Context, tx *gorm.DB, actor tenant.Context, item auditdomain.ItemRef, restored bool) error {
	_, _, _, _, _ = ctx, tx, actor, item, restored
	return nil
}

func (f *fakeAuditService) RecordCommented(ctx context.Context, tx *gorm.DB, actor tenant.Context, item auditdomain.ItemRef, commentID snowflake.ID) error {
	_, _, _, _, _ = ctx, tx, actor, item, commentID
	return nil
}

func (f *fakeAuditService) List(ctx context.Context, actor tenant.Context, req auditdomain.ListActivityRequest) (*auditdomain.ListActivityResponse, error) {
	_ = ctx
	_ = actor
	_ = req
	if f.err != nil {
		return nil, f.err
	}
	return &auditdomain.ListActivityResponse{}, nil
}

func (f *fakeAuditService) ListByProject(ctx context.Context, actor tenant.Context, req auditdomain.ListProjectActivityRequest) (*auditdomain.ListActivityResponse, error) {
	_ = ctx
	_ = actor
	_ = req
	if f.err != nil {
		return nil, f.err
	}
	return &auditdomain.ListActivityResponse{}, nil
}

func (f *fakeAuditService) Export(ctx context.Context, actor tenant.Context, req auditdomain.ExportActivityRequest, w io.Writer) error {
	_ = ctx
	_ = actor
	_ = req
	if f.err != nil {
		return f.err
	}
	if len(f.exportBody) > 0 {
		_, _ = w.Write(f.exportBody)
	}
	return nil
}

type fakeAuthzService struct {
	err error
}

func (f *fakeAuthzService) Authorize(ctx context.Context, actor, orgID, object, action string) error {
	_, _, _, _, _ = ctx, actor, orgID, object, action
	return f.err
}

type testServerOverrides struct {
	orgs  *fakeOrgService
	projs *fakeProjectService
	items *fakeItemService
	audit *fakeAuditService
	authz *fakeAuthzService
}

func newTestServer(overrides testServerOverrides) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)

	if overrides.orgs == nil {
		overrides.orgs = &fakeOrgService{}
	}
	if overrides.projs == nil {
		overrides.projs = &fakeProjectService{}
	}
	if overrides.items == nil {
		overrides.items = &fakeItemService{}
	}
	if overrides.audit == nil {
		overrides.audit = &fakeAuditService{}
	}
	if overrides.authz == nil {
		overrides.authz = &fakeAuthzService{}
	}

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:          r,
		organizationSvc: overrides.orgs,
		projectSvc:      overrides.projs,
		itemSvc:         overrides.items,
		auditSvc:        overrides.audit,
		authzSvc:        overrides.authz,
	}
	srv.RegisterRoutes()

	return srv, r
}

func doRequest(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func identityHeaders() map[string]string {
	return map[string]string{
		HeaderUser: testUserID,
		HeaderOrg:  testOrgID,
	}
}

func TestAuthRequiredMissingHeaderReturns401(t *testing.T) {
	_, r := newTestServer(testServerOverrides{})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks", "", nil)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAuthRequiredMalformedUserHeaderReturns401(t *testing.T) {
	_, r := newTestServer(testServerOverrides{})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks", "", map[string]string{
		HeaderUser: "not-a-snowflake-id-xxxxxxxxxxxxxxxxxxxxxx",
		HeaderOrg:  testOrgID,
	})

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestOrgContextNonMemberCollapsesToNotFound(t *testing.T) {
	orgs := &fakeOrgService{roleErr: organizationdomain.ErrNotMember}
	_, r := newTestServer(testServerOverrides{orgs: orgs})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks", "", identityHeaders())

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestOrgContextMissingOrgHeaderIsValidationError(t *testing.T) {
	_, r := newTestServer(testServerOverrides{})

	resp := doRequest(r, http.MethodGet, "/api/projects/WEB/tasks", "", map[string]string{
		HeaderUser: testUserID,
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestProjectContextUnknownKeyReturns404(t *testing.T) {
	projs := &fakeProjectService{err: projectdomain.ErrProjectNotFound}
	_, r := newTestServer(testServerOverrides{projs: projs})

	resp := doRequest(r, http.MethodGet, "/api/projects/NOPE/tasks", "", identityHeaders())

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestNonMemberAndMissingTaskBodiesAreIdentical(t *testing.T) {
	// Layer one: the caller is no member of the org. Layer three: the task
	// id does not exist. Both read as the same absence.
	nonMember, nonMemberRouter := newTestServer(testServerOverrides{
		orgs: &fakeOrgService{roleErr: organizationdomain.ErrNotMember},
	})
	_ = nonMember

	missing, missingRouter := newTestServer(testServerOverrides{
		items: &fakeItemService{err: itemdomain.ErrTaskNotFound},
	})
	_ = missing

	respA := doRequest(nonMemberRouter, http.MethodGet, "/api/projects/WEB/tasks/999", "", identityHeaders())
	respB := doRequest(missingRouter, http.MethodGet, "/api/projects/WEB/tasks/999", "", identityHeaders())

	if respA.Code != http.StatusNotFound || respB.Code != http.StatusNotFound {
		t.Fatalf("expected both 404, got %d and %d", respA.Code, respB.Code)
	}
	if respA.Body.String() != respB.Body.String() {
		t.Fatalf("bodies differ: %q vs %q", respA.Body.String(), respB.Body.String())
	}
}

func TestRequireRoleViewerCannotCreateTask(t *testing.T) {
	items := &fakeItemService{}
	_, r := newTestServer(testServerOverrides{
		orgs:  &fakeOrgService{role: tenant.RoleViewer},
		items: items,
	})

	resp := doRequest(r, http.MethodPost, "/api/projects/WEB/tasks", `{"column_id":"1","title":"x"}`, identityHeaders())

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
	if items.lastActor.Valid() {
		t.Fatal("expected item service not to be called")
	}
}

func TestMemberCreateTaskCarriesTenantContext(t *testing.T) {
	items := &fakeItemService{}
	_, r := newTestServer(testServerOverrides{items: items})

	resp := doRequest(r, http.MethodPost, "/api/projects/WEB/tasks", `{"column_id":"1","title":"Ship it"}`, identityHeaders())

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if items.lastActor.OrgID.String() != testOrgID {
		t.Fatalf("expected org %s, got %s", testOrgID, items.lastActor.OrgID)
	}
	if items.lastActor.UserID.String() != testUserID {
		t.Fatalf("expected user %s, got %s", testUserID, items.lastActor.UserID)
	}
	if items.lastActor.ProjectID != 7 {
		t.Fatalf("expected project 7, got %d", items.lastActor.ProjectID)
	}
	if items.lastActor.Role != tenant.RoleMember {
		t.Fatalf("expected member role, got %s", items.lastActor.Role)
	}
}

func TestDeleteTaskGatedByPolicy(t *testing.T) {
	items := &fakeItemService{}
	_, denied := newTestServer(testServerOverrides{
		items: items,
		authz: &fakeAuthzService{err: ErrForbidden},
	})

	resp := doRequest(denied, http.MethodDelete, "/api/projects/WEB/tasks/42", "", identityHeaders())
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}

	_, allowed := newTestServer(testServerOverrides{items: items})
	resp = doRequest(allowed, http.MethodDelete, "/api/projects/WEB/tasks/42", "", identityHeaders())
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
}
