package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"hireline/auth"
	"hireline/chat"
	"hireline/credit"
	"hireline/order"
	"hireline/proposal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubUserRepo struct {
	users map[string]auth.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]auth.User)}
}

func (s *stubUserRepo) CreateUser(_ context.Context, params auth.CreateUserParams) (auth.User, error) {
	if _, ok := s.users[params.Email]; ok {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	u := auth.User{
		ID:           "user-" + params.Email,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
	}
	s.users[params.Email] = u
	return u, nil
}

func (s *stubUserRepo) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	u, ok := s.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUserRepo) GetUserByID(_ context.Context, id string) (auth.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func newTestServer() (*Server, *gin.Engine) {
	svc := auth.NewService(newStubUserRepo(), "test-secret")
	s := New(svc, nil, nil, nil, nil, nil, nil)
	return s, s.Router()
}

func TestRegister_Success(t *testing.T) {
	_, router := newTestServer()

	body := strings.NewReader(`{"email":"ivan@example.com","password":"longenough","full_name":"Ivan","role":"specialist"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Email != "ivan@example.com" || resp.Role != "specialist" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	_, router := newTestServer()

	payload := `{"email":"dup@example.com","password":"longenough","full_name":"Dup"}`
	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rec.Code)
		}
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	_, router := newTestServer()

	body := strings.NewReader(`{"email":"short@example.com","password":"short","full_name":"S"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLoginThenAuthenticatedRequest(t *testing.T) {
	_, router := newTestServer()

	register := `{"email":"kate@example.com","password":"longenough","full_name":"Kate"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(register))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", rec.Code)
	}

	login := `{"email":"kate@example.com","password":"longenough"}`
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(login))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var loginResp struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Fatal("expected a token")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	_, router := newTestServer()

	register := `{"email":"paul@example.com","password":"longenough","full_name":"Paul"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(register))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	login := `{"email":"paul@example.com","password":"wrong-password"}`
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(login))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRoute_RequiresToken(t *testing.T) {
	_, router := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRespondError_Mapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrDuplicateEmail, http.StatusConflict},
		{order.ErrNotFound, http.StatusNotFound},
		{order.ErrNotOwner, http.StatusForbidden},
		{order.ErrInvalidState, http.StatusConflict},
		{credit.ErrInsufficientBalance, http.StatusPaymentRequired},
		{chat.ErrContactInfoBlocked, http.StatusUnprocessableEntity},
		{chat.ErrConversationRemoved, http.StatusGone},
		{chat.ErrNotAParticipant, http.StatusForbidden},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		respondError(c, tc.err)
		if rec.Code != tc.want {
			t.Errorf("respondError(%v) = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestPlanOrderConversation_OwnerOpensWithBidder(t *testing.T) {
	o := order.Order{ID: "order-1", ClientID: "client"}
	bids := []proposal.Proposal{
		{ID: "p1", OrderID: "order-1", BidderID: "specialist", Message: "I can start Monday"},
	}

	participants, opening, err := planOrderConversation(o, bids, "client", []string{"specialist"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !containsID(participants, "client") || !containsID(participants, "specialist") {
		t.Errorf("expected client and specialist in set, got %v", participants)
	}
	if opening == nil || opening.Content != "I can start Monday" || opening.SenderID != "specialist" {
		t.Errorf("expected the proposal text as opening message, got %+v", opening)
	}
}

func TestPlanOrderConversation_BidderAlwaysGetsClientInSet(t *testing.T) {
	o := order.Order{ID: "order-1", ClientID: "client"}
	bids := []proposal.Proposal{
		{ID: "p1", OrderID: "order-1", BidderID: "specialist", Message: "hello"},
	}

	participants, _, err := planOrderConversation(o, bids, "specialist", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !containsID(participants, "client") {
		t.Errorf("expected the order's client forced into the set, got %v", participants)
	}
}

func TestPlanOrderConversation_RejectsStranger(t *testing.T) {
	o := order.Order{ID: "order-1", ClientID: "client"}
	bids := []proposal.Proposal{
		{ID: "p1", OrderID: "order-1", BidderID: "specialist"},
	}

	_, _, err := planOrderConversation(o, bids, "stranger", []string{"client"})
	if err != chat.ErrNotAParticipant {
		t.Fatalf("expected ErrNotAParticipant, got %v", err)
	}
}

func containsID(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
