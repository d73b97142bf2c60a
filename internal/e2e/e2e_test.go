package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/tracklane/tracklane/internal/audit"
	"github.com/tracklane/tracklane/internal/authorization"
	"github.com/tracklane/tracklane/internal/board"
	"github.com/tracklane/tracklane/internal/clock"
	"github.com/tracklane/tracklane/internal/comment"
	"github.com/tracklane/tracklane/internal/config"
	"github.com/tracklane/tracklane/internal/dispatcher"
	"github.com/tracklane/tracklane/internal/events"
	"github.com/tracklane/tracklane/internal/item"
	"github.com/tracklane/tracklane/internal/migration"
	"github.com/tracklane/tracklane/internal/observability"
	"github.com/tracklane/tracklane/internal/organization"
	"github.com/tracklane/tracklane/internal/project"
	"github.com/tracklane/tracklane/internal/ratelimit"
	"github.com/tracklane/tracklane/internal/server"
	"github.com/tracklane/tracklane/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fx.App
	server  *server.Server
	db      *gorm.DB
	genID   *snowflake.Node
	baseURL string
	httpSrv *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
		cfg    config.Config
		log    *zap.Logger
		genID  *snowflake.Node
	)

	app := fx.New(
		observability.Module,
		config.Module,
		clock.Module,
		fx.Provide(func() (*gorm.DB, error) {
			return db.NewTest()
		}),
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		authorization.Module,
		audit.Module,
		events.Module,
		organization.Module,
		project.Module,
		board.Module,
		item.Module,
		comment.Module,
		ratelimit.Module,
		migration.Module,
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) { s.RegisterRoutes() }),
		fx.Populate(&srv, &dbConn, &cfg, &log, &genID),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "sqlite") {
		app.Stop(context.Background())
		return nil, fmt.Errorf("expected sqlite db, got %s", cfg.DBType)
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:     app,
		server:  srv,
		db:      dbConn,
		genID:   genID,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("APP_MODE", "oss")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("RATE_LIMIT_ENABLED", "false")
	setEnvIfEmpty("SEED_DEMO_DATA", "false")
	setEnvIfEmpty("LOG_LEVEL", "error")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	// Child tables first so foreign keys never block the sweep. Casbin policy
	// rows stay; only the per-org role links are rebuilt between tests.
	tables := []string{
		"comments",
		"audit_entries",
		"board_events",
		"tasks",
		"board_columns",
		"boards",
		"projects",
		"organization_members",
		"organizations",
		"users",
	}
	for _, table := range tables {
		if err := dbConn.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("clear table %s: %v", table, err)
		}
	}
	if err := dbConn.Exec(`DELETE FROM casbin_rule WHERE ptype = 'g'`).Error; err != nil {
		t.Fatalf("clear casbin role links: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Fixture helpers
// ---------------------------------------------------------------------------

type workspace struct {
	userID    string
	orgID     string
	projectID string
	boardID   string
	columns   []columnBody
}

type columnBody struct {
	ID       string  `json:"id"`
	BoardID  string  `json:"board_id"`
	Name     string  `json:"name"`
	Color    string  `json:"color"`
	WIPLimit *int    `json:"wip_limit"`
	OrderKey float64 `json:"order_key"`
}

type taskBody struct {
	ID             string   `json:"id"`
	DisplayID      string   `json:"display_id"`
	ProjectID      string   `json:"project_id"`
	ColumnID       string   `json:"column_id"`
	SequenceNumber int64    `json:"sequence_number"`
	OrderKey       float64  `json:"order_key"`
	Title          string   `json:"title"`
	Priority       string   `json:"priority"`
	Tags           []string `json:"tags"`
	Archived       bool     `json:"archived"`
}

func createUser(t *testing.T, client *http.Client, email, name string) string {
	t.Helper()
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/users", map[string]any{
		"email":        email,
		"display_name": name,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create user: %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if out.User.ID == "" {
		t.Fatalf("user id missing in %s", string(body))
	}
	return out.User.ID
}

func createOrg(t *testing.T, client *http.Client, userID, name string) string {
	t.Helper()
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/organizations", map[string]any{
		"name": name,
	}, map[string]string{server.HeaderUser: userID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create org: %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Org struct {
			ID string `json:"id"`
		} `json:"org"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode org: %v", err)
	}
	return out.Org.ID
}

// setupWorkspace provisions user, org, project WEB and a kanban board so a
// test can go straight to task traffic.
func setupWorkspace(t *testing.T, client *http.Client, email string) workspace {
	t.Helper()

	userID := createUser(t, client, email, "Owner")
	orgID := createOrg(t, client, userID, "Acme "+email)
	headers := identity(userID, orgID)

	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/projects", map[string]any{
		"key":  "WEB",
		"name": "Website",
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create project: %d: %s", resp.StatusCode, string(body))
	}
	var projOut struct {
		Project struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"project"`
	}
	if err := json.Unmarshal(body, &projOut); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	resp, body = doJSON(t, client, http.MethodPost, env.baseURL+"/api/projects/WEB/boards", map[string]any{
		"name":     "Delivery",
		"template": "kanban",
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create board: %d: %s", resp.StatusCode, string(body))
	}
	var boardOut struct {
		Board struct {
			ID      string       `json:"id"`
			Columns []columnBody `json:"columns"`
		} `json:"board"`
	}
	if err := json.Unmarshal(body, &boardOut); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if len(boardOut.Board.Columns) != 3 {
		t.Fatalf("expected 3 kanban columns, got %d", len(boardOut.Board.Columns))
	}

	return workspace{
		userID:    userID,
		orgID:     orgID,
		projectID: projOut.Project.ID,
		boardID:   boardOut.Board.ID,
		columns:   boardOut.Board.Columns,
	}
}

func createTask(t *testing.T, client *http.Client, ws workspace, columnID, title string) taskBody {
	t.Helper()
	resp, body := doJSON(t, client, http.MethodPost, env.baseURL+"/api/projects/WEB/tasks", map[string]any{
		"column_id": columnID,
		"title":     title,
	}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create task %q: %d: %s", title, resp.StatusCode, string(body))
	}
	var out struct {
		Task taskBody `json:"task"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return out.Task
}

func listColumn(t *testing.T, client *http.Client, ws workspace, columnID string) []taskBody {
	t.Helper()
	resp, body := doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks?column_id="+columnID, nil, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list column: %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Data []taskBody `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out.Data
}

func identity(userID, orgID string) map[string]string {
	return map[string]string{
		server.HeaderUser: userID,
		server.HeaderOrg:  orgID,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_TaskLifecycle(t *testing.T) {
	resetDatabase(t, env.db)
	client := newHTTPClient()
	ws := setupWorkspace(t, client, "owner@acme.test")
	todo := ws.columns[0]
	doing := ws.columns[1]

	first := createTask(t, client, ws, todo.ID, "Set up CI")
	second := createTask(t, client, ws, todo.ID, "Write docs")
	third := createTask(t, client, ws, todo.ID, "Fix login bug")

	if first.DisplayID != "WEB-1" || second.DisplayID != "WEB-2" || third.DisplayID != "WEB-3" {
		t.Fatalf("display ids off: %s %s %s", first.DisplayID, second.DisplayID, third.DisplayID)
	}
	if first.SequenceNumber != 1 || second.SequenceNumber != 2 || third.SequenceNumber != 3 {
		t.Fatalf("sequence numbers off: %d %d %d",
			first.SequenceNumber, second.SequenceNumber, third.SequenceNumber)
	}

	// New tasks append to the bottom of the column.
	got := listColumn(t, client, ws, todo.ID)
	assertOrder(t, got, "WEB-1", "WEB-2", "WEB-3")

	// Drop WEB-3 between WEB-1 and WEB-2.
	resp, body := doJSON(t, client, http.MethodPut,
		env.baseURL+"/api/projects/WEB/tasks/"+third.ID+"/move", map[string]any{
			"column_id":      todo.ID,
			"before_task_id": first.ID,
			"after_task_id":  second.ID,
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move between neighbors: %d: %s", resp.StatusCode, string(body))
	}
	var moved struct {
		Task taskBody `json:"task"`
	}
	if err := json.Unmarshal(body, &moved); err != nil {
		t.Fatalf("decode moved task: %v", err)
	}
	if moved.Task.OrderKey <= first.OrderKey || moved.Task.OrderKey >= second.OrderKey {
		t.Fatalf("moved key %v not between %v and %v",
			moved.Task.OrderKey, first.OrderKey, second.OrderKey)
	}
	assertOrder(t, listColumn(t, client, ws, todo.ID), "WEB-1", "WEB-3", "WEB-2")

	// Cross-column move into an empty column needs no neighbors.
	resp, body = doJSON(t, client, http.MethodPut,
		env.baseURL+"/api/projects/WEB/tasks/"+first.ID+"/move", map[string]any{
			"column_id": doing.ID,
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move to empty column: %d: %s", resp.StatusCode, string(body))
	}
	assertOrder(t, listColumn(t, client, ws, doing.ID), "WEB-1")
	assertOrder(t, listColumn(t, client, ws, todo.ID), "WEB-3", "WEB-2")

	// Update, then archive and verify the write fence.
	resp, body = doJSON(t, client, http.MethodPut,
		env.baseURL+"/api/projects/WEB/tasks/"+second.ID, map[string]any{
			"title":    "Write onboarding docs",
			"priority": "high",
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update task: %d: %s", resp.StatusCode, string(body))
	}
	var updated struct {
		Task taskBody `json:"task"`
	}
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("decode updated task: %v", err)
	}
	if updated.Task.Title != "Write onboarding docs" || updated.Task.Priority != "high" {
		t.Fatalf("update not applied: %+v", updated.Task)
	}

	resp, body = doJSON(t, client, http.MethodPost,
		env.baseURL+"/api/projects/WEB/tasks/"+second.ID+"/archive", nil, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive task: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, client, http.MethodPut,
		env.baseURL+"/api/projects/WEB/tasks/"+second.ID, map[string]any{
			"title": "Too late",
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on archived update, got %d: %s", resp.StatusCode, string(body))
	}
	var conflict struct {
		Error struct {
			Type      string `json:"type"`
			Message   string `json:"message"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &conflict); err != nil {
		t.Fatalf("decode conflict: %v", err)
	}
	if conflict.Error.Type != "conflict" || conflict.Error.Retryable {
		t.Fatalf("unexpected conflict payload: %s", string(body))
	}
	if conflict.Error.Message != "task is archived" {
		t.Fatalf("unexpected conflict message: %s", string(body))
	}

	// Archived tasks drop out of the default listing.
	assertOrder(t, listColumn(t, client, ws, todo.ID), "WEB-3")

	resp, body = doJSON(t, client, http.MethodPost,
		env.baseURL+"/api/projects/WEB/tasks/"+second.ID+"/unarchive", nil, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unarchive task: %d: %s", resp.StatusCode, string(body))
	}
	assertOrder(t, listColumn(t, client, ws, todo.ID), "WEB-3", "WEB-2")
}

func TestE2E_TaskActivityTrail(t *testing.T) {
	resetDatabase(t, env.db)
	client := newHTTPClient()
	ws := setupWorkspace(t, client, "owner@activity.test")
	todo := ws.columns[0]
	doing := ws.columns[1]

	task := createTask(t, client, ws, todo.ID, "Trace me")

	resp, body := doJSON(t, client, http.MethodPut,
		env.baseURL+"/api/projects/WEB/tasks/"+task.ID, map[string]any{
			"priority": "high",
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update task: %d: %s", resp.StatusCode, string(body))
	}
	resp, body = doJSON(t, client, http.MethodPut,
		env.baseURL+"/api/projects/WEB/tasks/"+task.ID+"/move", map[string]any{
			"column_id": doing.ID,
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move task: %d: %s", resp.StatusCode, string(body))
	}
	resp, body = doJSON(t, client, http.MethodPost,
		env.baseURL+"/api/projects/WEB/tasks/"+task.ID+"/comments", map[string]any{
			"body": "On it.",
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create comment: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks/"+task.ID+"/activity", nil, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list activity: %d: %s", resp.StatusCode, string(body))
	}
	var activity struct {
		Data []struct {
			Action string `json:"action"`
			Actor  struct {
				Type string `json:"type"`
			} `json:"actor"`
		} `json:"data"`
		PageInfo struct {
			HasMore bool `json:"has_more"`
		} `json:"page_info"`
	}
	if err := json.Unmarshal(body, &activity); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	seen := map[string]bool{}
	for _, entry := range activity.Data {
		seen[entry.Action] = true
		if entry.Actor.Type != "user" {
			t.Fatalf("expected user actor, got %q", entry.Actor.Type)
		}
	}
	for _, action := range []string{"created", "updated", "moved", "commented"} {
		if !seen[action] {
			t.Fatalf("missing %q entry in activity: %s", action, string(body))
		}
	}

	// Owner export streams newline-delimited JSON.
	resp, body = doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks/"+task.ID+"/activity/export", nil, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export activity: %d: %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/x-ndjson") {
		t.Fatalf("unexpected export content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < 4 {
		t.Fatalf("expected at least 4 export lines, got %d", len(lines))
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("export line is not json: %q", line)
		}
	}
}

func TestE2E_OutboxDrain(t *testing.T) {
	resetDatabase(t, env.db)
	client := newHTTPClient()
	ws := setupWorkspace(t, client, "owner@outbox.test")
	todo := ws.columns[0]

	first := createTask(t, client, ws, todo.ID, "Emit events")
	second := createTask(t, client, ws, todo.ID, "More events")
	resp, body := doJSON(t, client, http.MethodPut,
		env.baseURL+"/api/projects/WEB/tasks/"+second.ID+"/move", map[string]any{
			"column_id":     todo.ID,
			"after_task_id": first.ID,
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move task: %d: %s", resp.StatusCode, string(body))
	}

	var pending int64
	if err := env.db.Table("board_events").Where("published = ?", false).Count(&pending).Error; err != nil {
		t.Fatalf("count pending events: %v", err)
	}
	if pending == 0 {
		t.Fatalf("expected pending outbox events")
	}

	d, err := dispatcher.New(dispatcher.Params{
		DB:    env.db,
		Log:   zap.NewNop(),
		GenID: env.genID,
		Clock: clock.NewSystemClock(),
		Sink:  dispatcher.NewLogSink(zap.NewNop()),
	})
	if err != nil {
		t.Fatalf("build dispatcher: %v", err)
	}
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("drain outbox: %v", err)
	}

	if err := env.db.Table("board_events").Where("published = ?", false).Count(&pending).Error; err != nil {
		t.Fatalf("recount pending events: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected outbox drained, %d rows still pending", pending)
	}
}

func TestE2E_TenantIsolation(t *testing.T) {
	resetDatabase(t, env.db)
	client := newHTTPClient()

	wsA := setupWorkspace(t, client, "owner@tenant-a.test")
	task := createTask(t, client, wsA, wsA.columns[0].ID, "Secret roadmap")

	userB := createUser(t, client, "owner@tenant-b.test", "Rival")
	orgB := createOrg(t, client, userB, "Rival Co")

	// Tenant B sees neither the project key nor the task id.
	resp, foreignBody := doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks/"+task.ID, nil, identity(userB, orgB))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 across tenants, got %d: %s", resp.StatusCode, string(foreignBody))
	}

	resp, missingBody := doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks/999999999", nil, identity(wsA.userID, wsA.orgID))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d: %s", resp.StatusCode, string(missingBody))
	}

	// A cross-tenant probe and a plain miss must be indistinguishable.
	if !bytes.Equal(foreignBody, missingBody) {
		t.Fatalf("404 bodies differ: %s vs %s", string(foreignBody), string(missingBody))
	}

	// Non-member org header reads as absent too.
	resp, nonMemberBody := doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks/"+task.ID, nil, identity(userB, wsA.orgID))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for non-member, got %d", resp.StatusCode)
	}
	if !bytes.Equal(nonMemberBody, missingBody) {
		t.Fatalf("non-member 404 body differs: %s", string(nonMemberBody))
	}
}

func TestE2E_SequenceSurvivesDeletion(t *testing.T) {
	resetDatabase(t, env.db)
	client := newHTTPClient()
	ws := setupWorkspace(t, client, "owner@sequence.test")
	todo := ws.columns[0]

	createTask(t, client, ws, todo.ID, "One")
	second := createTask(t, client, ws, todo.ID, "Two")
	createTask(t, client, ws, todo.ID, "Three")

	resp, body := doJSON(t, client, http.MethodDelete,
		env.baseURL+"/api/projects/WEB/tasks/"+second.ID, nil, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete task: %d: %s", resp.StatusCode, string(body))
	}

	// Numbers are never reissued; the gap left by WEB-2 stays.
	fourth := createTask(t, client, ws, todo.ID, "Four")
	if fourth.DisplayID != "WEB-4" || fourth.SequenceNumber != 4 {
		t.Fatalf("expected WEB-4 after deletion, got %s (#%d)",
			fourth.DisplayID, fourth.SequenceNumber)
	}

	resp, _ = doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks/"+second.ID, nil, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected deleted task gone, got %d", resp.StatusCode)
	}
}

func TestE2E_ViewerCannotMutate(t *testing.T) {
	resetDatabase(t, env.db)
	client := newHTTPClient()
	ws := setupWorkspace(t, client, "owner@roles.test")
	todo := ws.columns[0]

	viewerID := createUser(t, client, "viewer@roles.test", "Viewer")
	resp, body := doJSON(t, client, http.MethodPost,
		env.baseURL+"/api/organizations/"+ws.orgID+"/members", map[string]any{
			"user_id": viewerID,
			"role":    "viewer",
		}, identity(ws.userID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add viewer: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, client, http.MethodPost,
		env.baseURL+"/api/projects/WEB/tasks", map[string]any{
			"column_id": todo.ID,
			"title":     "Not allowed",
		}, identity(viewerID, ws.orgID))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer create, got %d: %s", resp.StatusCode, string(body))
	}

	// Reads stay open to every member.
	resp, body = doJSON(t, client, http.MethodGet,
		env.baseURL+"/api/projects/WEB/tasks?column_id="+todo.ID, nil, identity(viewerID, ws.orgID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewer list: %d: %s", resp.StatusCode, string(body))
	}
}

func assertOrder(t *testing.T, got []taskBody, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(got))
	}
	for i, displayID := range want {
		if got[i].DisplayID != displayID {
			t.Fatalf("position %d: expected %s, got %s", i, displayID, got[i].DisplayID)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].OrderKey >= got[i].OrderKey {
			t.Fatalf("order keys not ascending: %v then %v", got[i-1].OrderKey, got[i].OrderKey)
		}
	}
}

func doJSON(t *testing.T, client *http.Client, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
