package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ksavchuk/contacthub/internal/auth"
	"github.com/ksavchuk/contacthub/internal/avatars"
	"github.com/ksavchuk/contacthub/internal/domain/job"
	"github.com/ksavchuk/contacthub/internal/domain/user"
	"github.com/ksavchuk/contacthub/internal/http/middlewares"
	"github.com/ksavchuk/contacthub/internal/security"
)

// fakeTx satisfies pgx.Tx by embedding the interface; only the methods the
// handlers actually call are implemented.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeUserStore struct {
	mu      sync.Mutex
	byEmail map[string]user.User
	byID    map[string]user.User
	lastTx  *fakeTx

	createErr error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byEmail: make(map[string]user.User),
		byID:    make(map[string]user.User),
	}
}

func (s *fakeUserStore) put(u user.User) {
	s.byEmail[u.Email] = u
	s.byID[u.ID] = u
}

func (s *fakeUserStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	s.lastTx = &fakeTx{}
	return s.lastTx, nil
}

func (s *fakeUserStore) CreateTx(ctx context.Context, tx pgx.Tx, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return user.User{}, s.createErr
	}

	if _, exists := s.byEmail[u.Email]; exists {
		return user.User{}, user.ErrEmailInUse
	}

	s.put(u)
	return u, nil
}

func (s *fakeUserStore) GetByEmail(ctx context.Context, email string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byEmail[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) MarkVerified(ctx context.Context, code string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byID {
		if u.VerificationCode != "" && u.VerificationCode == code {
			u.Verify = true
			u.VerificationCode = ""
			s.put(u)
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (s *fakeUserStore) SetToken(ctx context.Context, id, token string) error {
	return s.update(id, func(u *user.User) { u.Token = token })
}

func (s *fakeUserStore) ClearToken(ctx context.Context, id string) error {
	return s.update(id, func(u *user.User) { u.Token = "" })
}

func (s *fakeUserStore) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	return s.update(id, func(u *user.User) { u.AvatarURL = avatarURL })
}

func (s *fakeUserStore) UpdateSubscription(ctx context.Context, id string, sub user.Subscription) (user.User, error) {
	err := s.update(id, func(u *user.User) { u.Subscription = sub })
	if err != nil {
		return user.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id], nil
}

func (s *fakeUserStore) update(id string, fn func(*user.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return user.ErrNotFound
	}

	fn(&u)
	s.put(u)
	return nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []job.Job
	err  error
}

func (f *fakeJobs) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	return f.CreateTx(ctx, nil, req)
}

func (f *fakeJobs) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return job.Job{}, f.err
	}

	// mirror the unique constraint on idempotency_key
	if req.IdempotencyKey != nil {
		for _, existing := range f.jobs {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *req.IdempotencyKey {
				return job.Job{}, &pgconn.PgError{Code: "23505", ConstraintName: "jobs_idempotency_key_key"}
			}
		}
	}

	j := job.New(req)
	f.jobs = append(f.jobs, j)
	return j, nil
}

func (f *fakeJobs) GetByIdempotencyKey(ctx context.Context, key string) (job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, j := range f.jobs {
		if j.IdempotencyKey != nil && *j.IdempotencyKey == key {
			return j, nil
		}
	}
	return job.Job{}, job.ErrJobNotFound
}

func (f *fakeJobs) setStatus(key string, status job.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.jobs {
		if f.jobs[i].IdempotencyKey != nil && *f.jobs[i].IdempotencyKey == key {
			f.jobs[i].Status = status
		}
	}
}

type authFixture struct {
	users   *fakeUserStore
	jobs    *fakeJobs
	jwt     *auth.Manager
	handler *AuthHandler
	router  *gin.Engine
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := newFakeUserStore()
	jobsRepo := &fakeJobs{}
	jwtManager := auth.NewManager("test-secret", 23*time.Hour)
	storage := avatars.NewStorage(t.TempDir())

	h := NewAuthHandler(users, jobsRepo, jwtManager, storage)

	// identity is injected per-request instead of running the full auth
	// middleware against the fake store
	identity := func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			u, err := users.GetByID(c.Request.Context(), id)
			if err != nil {
				u = user.User{ID: id}
			}
			middlewares.SetIdentity(c, u)
		}
		c.Next()
	}

	r := gin.New()
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	r.GET("/api/auth/verify/:verificationCode", h.VerifyEmail)
	r.POST("/api/auth/verify", h.ResendVerifyEmail)
	r.GET("/api/auth/current", identity, h.Current)
	r.POST("/api/auth/logout", identity, h.Logout)
	r.PATCH("/api/auth", identity, h.UpdateSubscription)
	r.PATCH("/api/auth/avatar", identity, h.UpdateAvatar)

	return &authFixture{
		users:   users,
		jobs:    jobsRepo,
		jwt:     jwtManager,
		handler: h,
		router:  r,
	}
}

func (f *authFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *authFixture) seedUser(t *testing.T, email, password string, verified bool) user.User {
	t.Helper()

	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	u := user.User{
		ID:           "uid-" + email,
		Email:        email,
		PasswordHash: hash,
		Subscription: user.SubscriptionStarter,
		Verify:       verified,
	}
	if !verified {
		code, err := security.NewVerificationCode()
		if err != nil {
			t.Fatalf("code: %v", err)
		}
		u.VerificationCode = code
	}

	f.users.mu.Lock()
	f.users.put(u)
	f.users.mu.Unlock()
	return u
}

func TestRegister_CreatesUserAndEnqueuesEmail(t *testing.T) {
	f := newAuthFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"secret1"}`, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	u, err := f.users.GetByEmail(context.Background(), "a@b.co")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}

	if u.Verify {
		t.Fatalf("new user must start unverified")
	}
	if u.VerificationCode == "" {
		t.Fatalf("new user must carry a verification code")
	}
	if u.Subscription != user.SubscriptionStarter {
		t.Fatalf("default subscription must be starter, got %s", u.Subscription)
	}
	if !strings.Contains(u.AvatarURL, "gravatar.com") {
		t.Fatalf("expected gravatar default avatar, got %q", u.AvatarURL)
	}

	if len(f.jobs.jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(f.jobs.jobs))
	}
	if f.jobs.jobs[0].IdempotencyKey == nil || *f.jobs.jobs[0].IdempotencyKey != "verify:email:"+u.ID {
		t.Fatalf("unexpected idempotency key: %v", f.jobs.jobs[0].IdempotencyKey)
	}

	if f.users.lastTx == nil || !f.users.lastTx.committed {
		t.Fatalf("register must commit the transaction")
	}

	var resp struct {
		User struct {
			Email        string `json:"email"`
			Subscription string `json:"subscription"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.User.Email != "a@b.co" || resp.User.Subscription != "starter" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("response must not leak password material: %s", w.Body.String())
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "a@b.co", "secret1", true)

	w := f.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"secret1"}`, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegister_InvalidBody(t *testing.T) {
	f := newAuthFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad email", `{"email":"not-an-email","password":"secret1"}`},
		{"short password", `{"email":"a@b.co","password":"abc"}`},
		{"missing fields", `{}`},
		{"invalid json", `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/auth/register", tc.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestVerifyEmail_OneShot(t *testing.T) {
	f := newAuthFixture(t)
	u := f.seedUser(t, "a@b.co", "secret1", false)

	w := f.do(t, http.MethodGet, "/api/auth/verify/"+u.VerificationCode, "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := f.users.GetByEmail(context.Background(), "a@b.co")
	if !got.Verify || got.VerificationCode != "" {
		t.Fatalf("verification did not stick: %+v", got)
	}

	// same code a second time must fail
	w = f.do(t, http.MethodGet, "/api/auth/verify/"+u.VerificationCode, "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reused code, got %d", w.Code)
	}
}

func TestVerifyEmail_UnknownCode(t *testing.T) {
	f := newAuthFixture(t)

	w := f.do(t, http.MethodGet, "/api/auth/verify/nope", "", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestResendVerify(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "pending@b.co", "secret1", false)
	f.seedUser(t, "done@b.co", "secret1", true)

	t.Run("unknown email", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/auth/verify", `{"email":"ghost@b.co"}`, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("already verified", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/auth/verify", `{"email":"done@b.co"}`, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("pending user gets a new job", func(t *testing.T) {
		before := len(f.jobs.jobs)

		w := f.do(t, http.MethodPost, "/api/auth/verify", `{"email":"pending@b.co"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if len(f.jobs.jobs) != before+1 {
			t.Fatalf("expected a job enqueued")
		}
	})
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "a@b.co", "secret1", true)
	f.seedUser(t, "pending@b.co", "secret1", false)

	t.Run("success persists token", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@b.co","password":"secret1"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp struct {
			Token string `json:"token"`
			User  struct {
				Email        string `json:"email"`
				Subscription string `json:"subscription"`
			} `json:"user"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if resp.Token == "" {
			t.Fatalf("expected a token")
		}
		if resp.User.Email != "a@b.co" || resp.User.Subscription != "starter" {
			t.Fatalf("unexpected user payload: %+v", resp.User)
		}

		claims, err := f.jwt.VerifySessionToken(resp.Token)
		if err != nil {
			t.Fatalf("issued token does not verify: %v", err)
		}

		stored, _ := f.users.GetByID(context.Background(), claims.UserID)
		if stored.Token != resp.Token {
			t.Fatalf("token not persisted on user row")
		}
	})

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		w1 := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"ghost@b.co","password":"secret1"}`, nil)
		w2 := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@b.co","password":"wrong-pass"}`, nil)

		if w1.Code != http.StatusUnauthorized || w2.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401/401, got %d/%d", w1.Code, w2.Code)
		}
		if w1.Body.String() != w2.Body.String() {
			t.Fatalf("credential failures must be identical:\n%s\n%s", w1.Body.String(), w2.Body.String())
		}
	})

	t.Run("unverified user rejected after credential check", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"pending@b.co","password":"secret1"}`, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "email_not_verified") {
			t.Fatalf("expected verification error, got %s", w.Body.String())
		}
	})
}

func TestLogout_ClearsToken(t *testing.T) {
	f := newAuthFixture(t)
	u := f.seedUser(t, "a@b.co", "secret1", true)
	_ = f.users.SetToken(context.Background(), u.ID, "some-token")

	w := f.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"X-Test-User": u.ID})

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := f.users.GetByID(context.Background(), u.ID)
	if got.Token != "" {
		t.Fatalf("token not cleared")
	}
}

func TestCurrent(t *testing.T) {
	f := newAuthFixture(t)
	u := f.seedUser(t, "a@b.co", "secret1", true)

	w := f.do(t, http.MethodGet, "/api/auth/current", "", map[string]string{"X-Test-User": u.ID})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Email        string `json:"email"`
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Email != "a@b.co" || resp.Subscription != "starter" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestUpdateSubscription(t *testing.T) {
	f := newAuthFixture(t)
	u := f.seedUser(t, "a@b.co", "secret1", true)

	t.Run("invalid value is 400 even for a missing user", func(t *testing.T) {
		w := f.do(t, http.MethodPatch, "/api/auth", `{"subscription":"platinum"}`, map[string]string{"X-Test-User": "ghost"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("missing user is 404", func(t *testing.T) {
		w := f.do(t, http.MethodPatch, "/api/auth", `{"subscription":"pro"}`, map[string]string{"X-Test-User": "ghost"})
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("valid update", func(t *testing.T) {
		w := f.do(t, http.MethodPatch, "/api/auth", `{"subscription":"business"}`, map[string]string{"X-Test-User": u.ID})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		got, _ := f.users.GetByID(context.Background(), u.ID)
		if got.Subscription != user.SubscriptionBusiness {
			t.Fatalf("subscription not updated: %s", got.Subscription)
		}
	})
}

func TestUpdateAvatar(t *testing.T) {
	f := newAuthFixture(t)
	u := f.seedUser(t, "a@b.co", "secret1", true)

	t.Run("missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/auth/avatar", bytes.NewReader(nil))
		req.Header.Set("X-Test-User", u.ID)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("upload", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)

		fw, err := mw.CreateFormFile("avatar", "me.png")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := fw.Write([]byte("png-bytes")); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = mw.Close()

		req := httptest.NewRequest(http.MethodPatch, "/api/auth/avatar", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-Test-User", u.ID)

		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp struct {
			AvatarURL string `json:"avatarURL"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if resp.AvatarURL != "avatars/"+u.ID+"_me.png" {
			t.Fatalf("unexpected avatar path: %s", resp.AvatarURL)
		}

		got, _ := f.users.GetByID(context.Background(), u.ID)
		if got.AvatarURL != resp.AvatarURL {
			t.Fatalf("avatar URL not persisted")
		}
	})
}

func TestRegister_InternalErrorRollsBack(t *testing.T) {
	f := newAuthFixture(t)
	f.users.createErr = errors.New("db down")

	w := f.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"secret1"}`, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if f.users.lastTx == nil || f.users.lastTx.committed {
		t.Fatalf("failed register must not commit")
	}
	if !f.users.lastTx.rolledBack {
		t.Fatalf("failed register must roll back")
	}
}

func TestRegister_EnqueueFailureRollsBack(t *testing.T) {
	f := newAuthFixture(t)
	f.jobs.err = errors.New("jobs table unavailable")

	w := f.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"secret1"}`, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	if f.users.lastTx == nil || f.users.lastTx.committed {
		t.Fatalf("register with a failed enqueue must not commit")
	}
	if !f.users.lastTx.rolledBack {
		t.Fatalf("register with a failed enqueue must roll back")
	}
	if len(f.jobs.jobs) != 0 {
		t.Fatalf("no job may survive a failed register, got %d", len(f.jobs.jobs))
	}
}

func TestResendVerify_DedupesUndeliveredJob(t *testing.T) {
	f := newAuthFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"secret1"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	u, err := f.users.GetByEmail(context.Background(), "a@b.co")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	key := "verify:email:" + u.ID

	// the register-time job is still queued, so a resend is a no-op
	w = f.do(t, http.MethodPost, "/api/auth/verify", `{"email":"a@b.co"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("resend while queued must not enqueue again, got %d jobs", len(f.jobs.jobs))
	}

	// once the first send finished, a resend queues a fresh job
	f.jobs.setStatus(key, job.StatusDone)

	w = f.do(t, http.MethodPost, "/api/auth/verify", `{"email":"a@b.co"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.jobs.jobs) != 2 {
		t.Fatalf("resend after delivery must enqueue, got %d jobs", len(f.jobs.jobs))
	}
	if f.jobs.jobs[1].IdempotencyKey != nil {
		t.Fatalf("follow-up send must not reuse the dedupe key")
	}
}
