package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ethaniconic/Swalambh-mvp/internal/domain"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository/resettokens"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/analyze"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/auth"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/triage"
	"github.com/Ethaniconic/Swalambh-mvp/internal/storage"
	"github.com/Ethaniconic/Swalambh-mvp/pkg/config"
)

type memUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*domain.User
	byID    map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		byEmail: make(map[string]*domain.User),
		byID:    make(map[string]*domain.User),
	}
}

func (r *memUserRepo) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[user.Email]; ok {
		return repository.ErrConflict
	}
	clone := *user
	r.byEmail[user.Email] = &clone
	r.byID[user.ID] = &clone
	return nil
}

func (r *memUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *memUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

type memCaseRepo struct {
	mu        sync.Mutex
	byID      map[string]*domain.TriageCase
	listCalls []listCall
}

type listCall struct {
	limit  int
	offset int
}

func newMemCaseRepo() *memCaseRepo {
	return &memCaseRepo{byID: make(map[string]*domain.TriageCase)}
}

func (r *memCaseRepo) CreateCase(_ context.Context, c *domain.TriageCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *c
	r.byID[c.ID] = &clone
	return nil
}

func (r *memCaseRepo) ListCases(_ context.Context, limit, offset int) ([]domain.TriageCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls = append(r.listCalls, listCall{limit: limit, offset: offset})
	out := make([]domain.TriageCase, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, *c)
	}
	return out, nil
}

func (r *memCaseRepo) GetCaseByID(_ context.Context, id string) (*domain.TriageCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

type fixture struct {
	router *Router
	users  *memUserRepo
	cases  *memCaseRepo
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, config.APIConfig{})
}

func newFixtureWithConfig(t *testing.T, cfg config.APIConfig) *fixture {
	t.Helper()
	if cfg.SecretKey == "" {
		cfg.SecretKey = "router-test-secret"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 24 * time.Hour
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := newMemUserRepo()
	cases := newMemCaseRepo()
	resets := resettokens.NewMemoryStore()
	t.Cleanup(func() { resets.Close() })

	files, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("storage dir: %v", err)
	}

	router := NewRouter(
		logger,
		auth.New(users, resets, logger, cfg),
		triage.New(cases, files, logger),
		analyze.New(logger, cfg),
		NewMemoryRateLimiter(),
		nil,
	)
	t.Cleanup(router.Close)
	return &fixture{router: router, users: users, cases: cases}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signup(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	payload := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	return f.do(t, http.MethodPost, "/auth/signup", strings.NewReader(payload))
}

func (f *fixture) token(t *testing.T, email, password string) string {
	t.Helper()
	if rec := f.signup(t, email, password); rec.Code != http.StatusCreated {
		t.Fatalf("signup for token: status %d body %s", rec.Code, rec.Body)
	}
	payload := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	rec := f.do(t, http.MethodPost, "/auth/login", strings.NewReader(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("login for token: status %d body %s", rec.Code, rec.Body)
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	return parsed.AccessToken
}

func withBearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body, err)
	}
	return parsed.Detail
}

// imageForm builds a multipart body with one file part carrying an explicit
// content type, plus optional extra fields.
func imageForm(t *testing.T, filename, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %q: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestSignupCreatesAccount(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/signup",
		strings.NewReader(`{"email":"Ada@Example.COM","password":"longpass1","full_name":"Ada Lovelace"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
	var parsed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if parsed["email"] != "ada@example.com" {
		t.Fatalf("expected lowercased email, got %v", parsed["email"])
	}
	body := rec.Body.String()
	if strings.Contains(body, "longpass1") || strings.Contains(strings.ToLower(body), "hash") {
		t.Fatalf("credential material leaked in response: %s", body)
	}
}

func TestSignupValidationErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.signup(t, "not-an-email", "longpass1")
	if rec.Code != http.StatusUnprocessableEntity || detail(t, rec) != "Invalid email format" {
		t.Fatalf("invalid email: status %d body %s", rec.Code, rec.Body)
	}
	rec = f.signup(t, "a@x.com", "short")
	if rec.Code != http.StatusUnprocessableEntity || detail(t, rec) != "Password must be at least 8 characters" {
		t.Fatalf("short password: status %d body %s", rec.Code, rec.Body)
	}
}

func TestSignupDuplicateEmailAcrossCasing(t *testing.T) {
	f := newFixture(t)

	if rec := f.signup(t, "ada@x.com", "longpass1"); rec.Code != http.StatusCreated {
		t.Fatalf("first signup: status %d body %s", rec.Code, rec.Body)
	}
	rec := f.signup(t, "ADA@X.COM", "longpass1")
	if rec.Code != http.StatusConflict || detail(t, rec) != "Email already registered" {
		t.Fatalf("duplicate signup: status %d body %s", rec.Code, rec.Body)
	}
}

func TestLoginReturnsBearerToken(t *testing.T) {
	f := newFixture(t)
	if rec := f.signup(t, "ada@x.com", "longpass1"); rec.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body %s", rec.Code, rec.Body)
	}

	rec := f.do(t, http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"ada@x.com","password":"longpass1"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body)
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		User        struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if parsed.AccessToken == "" {
		t.Fatalf("missing access_token")
	}
	if parsed.TokenType != "bearer" {
		t.Fatalf("unexpected token_type %q", parsed.TokenType)
	}
	if parsed.User.Email != "ada@x.com" {
		t.Fatalf("unexpected user in login body: %s", rec.Body)
	}
}

func TestLoginFailureBodiesIdentical(t *testing.T) {
	f := newFixture(t)
	if rec := f.signup(t, "known@x.com", "longpass1"); rec.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body %s", rec.Code, rec.Body)
	}

	wrongPass := f.do(t, http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"known@x.com","password":"wrongpass1"}`))
	unknown := f.do(t, http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"unknown@x.com","password":"longpass1"}`))

	if wrongPass.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("statuses: %d and %d", wrongPass.Code, unknown.Code)
	}
	if wrongPass.Body.String() != unknown.Body.String() {
		t.Fatalf("failure bodies differ: %q vs %q", wrongPass.Body, unknown.Body)
	}
}

func TestLoginRequiresBothFields(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@x.com"}`))
	if rec.Code != http.StatusUnprocessableEntity || detail(t, rec) != "Email and password are required" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
}

func TestForgotResponseConstant(t *testing.T) {
	f := newFixture(t)
	if rec := f.signup(t, "known@x.com", "longpass1"); rec.Code != http.StatusCreated {
		t.Fatalf("signup: status %d body %s", rec.Code, rec.Body)
	}

	known := f.do(t, http.MethodPost, "/auth/forgot", strings.NewReader(`{"email":"known@x.com"}`))
	unknown := f.do(t, http.MethodPost, "/auth/forgot", strings.NewReader(`{"email":"nobody@x.com"}`))

	if known.Code != http.StatusAccepted || unknown.Code != http.StatusAccepted {
		t.Fatalf("statuses: %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("forgot bodies must not reveal existence: %q vs %q", known.Body, unknown.Body)
	}

	blank := f.do(t, http.MethodPost, "/auth/forgot", strings.NewReader(`{"email":"  "}`))
	if blank.Code != http.StatusUnprocessableEntity || detail(t, blank) != "Email is required" {
		t.Fatalf("blank email: status %d body %s", blank.Code, blank.Body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/triage/cases", nil)
	if rec.Code != http.StatusUnauthorized || detail(t, rec) != "Missing or invalid authorization header" {
		t.Fatalf("no header: status %d body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/triage/cases", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Token abc")
	})
	if rec.Code != http.StatusUnauthorized || detail(t, rec) != "Missing or invalid authorization header" {
		t.Fatalf("wrong scheme: status %d body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/triage/cases", nil, withBearer("not.a.jwt"))
	if rec.Code != http.StatusUnauthorized || detail(t, rec) != "Invalid or expired token" {
		t.Fatalf("bad token: status %d body %s", rec.Code, rec.Body)
	}

	token := f.token(t, "ada@x.com", "longpass1")
	rec = f.do(t, http.MethodGet, "/triage/cases", nil, withBearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status %d body %s", rec.Code, rec.Body)
	}
}

func TestUploadRoundtrip(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "ada@x.com", "longpass1")

	body, contentType := imageForm(t, "lesion.png", "image/png", []byte("fakepngbytes"), map[string]string{
		"note": "itchy for two weeks",
	})
	rec := f.do(t, http.MethodPost, "/triage/upload", body, withBearer(token), func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
	var parsed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if parsed["filename"] != "lesion.png" {
		t.Fatalf("unexpected filename: %v", parsed["filename"])
	}
	if parsed["note"] != "itchy for two weeks" {
		t.Fatalf("note not recorded: %v", parsed["note"])
	}
	id, _ := parsed["id"].(string)
	if !domain.ValidID(id) {
		t.Fatalf("unexpected id shape: %v", parsed["id"])
	}
	if _, ok := parsed["file_path"]; ok {
		t.Fatalf("storage path leaked in response: %s", rec.Body)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "ada@x.com", "longpass1")

	body, contentType := imageForm(t, "notes.txt", "text/plain", []byte("hello"), nil)
	rec := f.do(t, http.MethodPost, "/triage/upload", body, withBearer(token), func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
	})
	if rec.Code != http.StatusUnsupportedMediaType || detail(t, rec) != "Only image uploads are supported" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
}

func TestUploadRequiresFilePart(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "ada@x.com", "longpass1")

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("note", "no image attached"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	rec := f.do(t, http.MethodPost, "/triage/upload", &body, withBearer(token), func(req *http.Request) {
		req.Header.Set("Content-Type", writer.FormDataContentType())
	})
	if rec.Code != http.StatusBadRequest || detail(t, rec) != "No file uploaded" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
}

func TestListPaginationClamped(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "ada@x.com", "longpass1")

	rec := f.do(t, http.MethodGet, "/triage/cases?skip=-5&limit=9999", nil, withBearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
	f.cases.mu.Lock()
	calls := append([]listCall(nil), f.cases.listCalls...)
	f.cases.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected one list query, got %d", len(calls))
	}
	if calls[0].limit != 100 || calls[0].offset != 0 {
		t.Fatalf("expected clamped limit=100 offset=0, got limit=%d offset=%d", calls[0].limit, calls[0].offset)
	}
}

func TestGetCaseStatuses(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "ada@x.com", "longpass1")

	rec := f.do(t, http.MethodGet, "/triage/cases/not-hex", nil, withBearer(token))
	if rec.Code != http.StatusBadRequest || detail(t, rec) != "Invalid case id" {
		t.Fatalf("invalid id: status %d body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/triage/cases/"+domain.NewID(), nil, withBearer(token))
	if rec.Code != http.StatusNotFound || detail(t, rec) != "Case not found" {
		t.Fatalf("unknown id: status %d body %s", rec.Code, rec.Body)
	}

	body, contentType := imageForm(t, "lesion.png", "image/png", []byte("png"), nil)
	upload := f.do(t, http.MethodPost, "/triage/upload", body, withBearer(token), func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
	})
	if upload.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", upload.Code, upload.Body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(upload.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode upload body: %v", err)
	}

	rec = f.do(t, http.MethodGet, "/triage/cases/"+created.ID, nil, withBearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("get case: status %d body %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "file_path") {
		t.Fatalf("storage path leaked: %s", rec.Body)
	}
}

func TestSignupRateLimited(t *testing.T) {
	f := newFixture(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitSignup+1; i++ {
		last = f.signup(t, "not-an-email", "longpass1")
	}
	if last.Code != http.StatusTooManyRequests || detail(t, last) != "Rate limit exceeded" {
		t.Fatalf("expected rate limit, status %d body %s", last.Code, last.Body)
	}
	if last.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("missing rate limit headers")
	}
}

func TestHealthReflectsDatabase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{SecretKey: "s", AccessTokenTTL: time.Hour}
	resets := resettokens.NewMemoryStore()
	defer resets.Close()
	files, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("storage dir: %v", err)
	}

	build := func(dbHealth func(context.Context) error) *Router {
		r := NewRouter(
			logger,
			auth.New(newMemUserRepo(), resets, logger, cfg),
			triage.New(newMemCaseRepo(), files, logger),
			analyze.New(logger, cfg),
			NewMemoryRateLimiter(),
			dbHealth,
		)
		t.Cleanup(r.Close)
		return r
	}

	healthy := build(func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy: status %d body %s", rec.Code, rec.Body)
	}

	degraded := build(func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: status %d body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"degraded"`) {
		t.Fatalf("expected degraded status in body: %s", rec.Body)
	}
}

func TestPredictProxiesEngine(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"risk":"low","confidence":0.12}`))
	}))
	defer engine.Close()

	f := newFixtureWithConfig(t, config.APIConfig{EngineURL: engine.URL})
	token := f.token(t, "ada@x.com", "longpass1")

	body, contentType := imageForm(t, "lesion.jpg", "image/jpeg", []byte("jpegbytes"), map[string]string{
		"symptoms": "itchy mole",
	})
	rec := f.do(t, http.MethodPost, "/predict", body, withBearer(token), func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != `{"risk":"low","confidence":0.12}` {
		t.Fatalf("engine payload must pass through verbatim: %s", rec.Body)
	}
}

func TestExplainNotConfigured(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "ada@x.com", "longpass1")

	rec := f.do(t, http.MethodPost, "/explain", strings.NewReader(`{"risk":"high"}`), withBearer(token))
	if rec.Code != http.StatusServiceUnavailable || detail(t, rec) != "Explanation service not configured" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
}
