package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quorumline/internal/config"
	"quorumline/internal/db"
	"quorumline/internal/engine"
	"quorumline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createPayload(agents ...string) map[string]any {
	participants := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		participants = append(participants, map[string]any{"agent_id": agent})
	}
	return map[string]any{
		"context_ref":  "ctx-1",
		"plan_ref":     "plan-1",
		"name":         "HTTP collaboration",
		"mode":         "parallel",
		"strategy":     map[string]any{"type": "peer_to_peer"},
		"participants": participants,
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", string(data), err)
	}
	return body.Error.Code
}

func TestCollaborationLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations", createPayload("agent-a", "agent-b"), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created CollaborationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != "pending" || len(created.Participants) != 2 || created.CreatedBy != "tester" {
		t.Fatalf("unexpected collaboration: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations/"+created.ID+"/coordinate", map[string]any{
		"operation": "initiate",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("coordinate status %d: %s", res.StatusCode, string(data))
	}
	var coord CoordinationResponse
	if err := json.Unmarshal(data, &coord); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !coord.Applied || coord.Collaboration.Status != "active" {
		t.Fatalf("expected applied initiate, got %+v", coord)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/collaborations/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var fetched CollaborationResponse
	_ = json.Unmarshal(data, &fetched)
	if fetched.Status != "active" {
		t.Fatalf("expected active, got %s", fetched.Status)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// unknown collaboration
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/collaborations/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations", createPayload("agent-a", "agent-b"), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created CollaborationResponse
	_ = json.Unmarshal(data, &created)

	// pause before initiate is an illegal transition
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations/"+created.ID+"/coordinate", map[string]any{
		"operation": "pause",
	}, nil)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_state_transition" {
		t.Fatalf("expected 409 invalid_state_transition, got %d %s", res.StatusCode, string(data))
	}

	// duplicate agent on the roster
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations/"+created.ID+"/participants", map[string]any{
		"agent_id": "agent-a",
	}, nil)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "duplicate_agent" {
		t.Fatalf("expected 409 duplicate_agent, got %d %s", res.StatusCode, string(data))
	}

	// removal below the floor
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/collaborations/"+created.ID+"/participants/"+created.Participants[0].ParticipantID, nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "participant_floor" {
		t.Fatalf("expected 422 participant_floor, got %d %s", res.StatusCode, string(data))
	}

	// quorum failure on initiate with an inactive member
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/collaborations/"+created.ID+"/participants/"+created.Participants[0].ParticipantID+"/status", map[string]any{
		"status": "inactive",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations/"+created.ID+"/coordinate", map[string]any{
		"operation": "initiate",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "insufficient_participants" {
		t.Fatalf("expected 422 insufficient_participants, got %d %s", res.StatusCode, string(data))
	}
}

func TestDecideEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations", createPayload("agent-a", "agent-b"), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created CollaborationResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations/"+created.ID+"/decide", map[string]any{
		"strategy": "simple_voting",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decide: %d %s", res.StatusCode, string(data))
	}
	var dec DecisionResponse
	if err := json.Unmarshal(data, &dec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// the default vote source approves everything
	if dec.Result != "approved" || len(dec.Votes) != 2 {
		t.Fatalf("unexpected decision: %+v", dec)
	}

	// an out-of-range threshold maps to a structured 400
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations/"+created.ID+"/decide", map[string]any{
		"strategy":  "consensus",
		"threshold": 0.3,
	}, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "threshold_out_of_range" {
		t.Fatalf("expected 400 threshold_out_of_range, got %d %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations", createPayload("agent-a", "agent-b"), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=collaboration_created", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "collaboration_created" || page.Items[0].ActorID != "tester" {
		t.Fatalf("unexpected events page: %+v", page)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/collaborations", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// health stays open
	res2, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res2.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations", createPayload("agent-a", "agent-b"), map[string]string{
		"Authorization": "Bearer " + token,
		"X-Actor-Id":    "",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with jwt: %d %s", res.StatusCode, string(data))
	}
	var created CollaborationResponse
	_ = json.Unmarshal(data, &created)
	if created.CreatedBy != "jwt-user" {
		t.Fatalf("expected jwt subject as actor, got %s", created.CreatedBy)
	}

	// a token signed with the wrong key is refused
	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "intruder"}).SignedString([]byte("wrong"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/collaborations", nil, map[string]string{
		"Authorization": "Bearer " + bad,
		"X-Actor-Id":    "",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", res.StatusCode)
	}
}

func TestWebhookDispatcherStopsOnShutdown(t *testing.T) {
	d := &webhookDispatcher{
		webhooks: []config.WebhookConfig{{URL: ""}},
		client:   &http.Client{},
		cursors:  map[int]int64{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher kept running after shutdown")
	}
}

func TestCollaborationListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collaborations", createPayload("agent-a", "agent-b"), nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create: %d %s", res.StatusCode, string(data))
		}
	}

	// walking one-item pages must visit every collaboration exactly once
	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 5; page++ {
		u := srv.URL + "/v0/collaborations?limit=1"
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}
		res, data := doJSON(t, client, http.MethodGet, u, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list page %d: %d %s", page, res.StatusCode, string(data))
		}
		var body paginatedCollaborations
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("unmarshal page %d: %v", page, err)
		}
		if body.Total != 3 {
			t.Fatalf("expected total 3, got %d", body.Total)
		}
		for _, item := range body.Items {
			if seen[item.ID] {
				t.Fatalf("page %d repeated collaboration %s", page, item.ID)
			}
			seen[item.ID] = true
		}
		if body.NextCursor == "" {
			break
		}
		cursor = body.NextCursor
	}
	if len(seen) != 3 {
		t.Fatalf("pagination visited %d of 3 collaborations", len(seen))
	}
}
