package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ksavchuk/contacthub/internal/auth"
	"github.com/ksavchuk/contacthub/internal/avatars"
	"github.com/ksavchuk/contacthub/internal/config"
	"github.com/ksavchuk/contacthub/internal/domain/job"
	"github.com/ksavchuk/contacthub/internal/domain/user"
	"github.com/ksavchuk/contacthub/internal/http/middlewares"
	"github.com/ksavchuk/contacthub/internal/jobs"
	"github.com/ksavchuk/contacthub/internal/repo/postgres"
	"github.com/ksavchuk/contacthub/internal/security"
)

// Keep the interfaces narrow so tests can fake them.
type UserStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, u user.User) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	MarkVerified(ctx context.Context, code string) (user.User, error)
	SetToken(ctx context.Context, id, token string) error
	ClearToken(ctx context.Context, id string) error
	UpdateAvatar(ctx context.Context, id, avatarURL string) error
	UpdateSubscription(ctx context.Context, id string, sub user.Subscription) (user.User, error)
}

type JobsCreator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (job.Job, error)
}

type AuthHandler struct {
	users    UserStore
	jobsRepo JobsCreator
	jwt      *auth.Manager
	storage  *avatars.Storage
}

func NewAuthHandler(users UserStore, jobsRepo JobsCreator, jwtManager *auth.Manager, storage *avatars.Storage) *AuthHandler {
	return &AuthHandler{
		users:    users,
		jobsRepo: jobsRepo,
		jwt:      jwtManager,
		storage:  storage,
	}
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	code, err := security.NewVerificationCode()

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	now := time.Now().UTC()

	u := user.User{
		ID:               uuid.NewString(),
		Email:            req.Email,
		PasswordHash:     hash,
		Subscription:     user.SubscriptionStarter,
		VerificationCode: code,
		AvatarURL:        avatars.GravatarURL(req.Email),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	// User row and verification email job land in one transaction: if the
	// enqueue fails nothing is committed, so no user can end up without a
	// pending email.
	tx, err := h.users.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	created, err := h.users.CreateTx(cctx, tx, u)

	if err != nil {
		if errors.Is(err, user.ErrEmailInUse) {
			RespondConflict(ctx, "email_in_use", "Email in use")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	payload := jobs.EmailVerificationPayload{
		UserID:      created.ID,
		Email:       created.Email,
		RequestedAt: now,
	}

	raw, err := jobs.EncodePayload(jobs.JobEmailVerification, payload)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	key := "verify:email:" + created.ID
	uid := created.ID

	_, err = h.jobsRepo.CreateTx(cctx, tx, job.CreateRequest{
		Type:           string(jobs.JobEmailVerification),
		Payload:        raw,
		RunAt:          now,
		MaxAttempts:    10,
		IdempotencyKey: &key,
		UserID:         &uid,
	})

	// any enqueue error aborts the open transaction, so the registration
	// fails as a whole; the user is never committed without a pending email
	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"user": gin.H{
			"email":        created.Email,
			"subscription": created.Subscription,
		},
	})
}

// VerifyEmail consumes the code from the emailed link. The storage layer
// flips verify and clears the code in one guarded statement, so a reused or
// unknown code reports not found here.
func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	code := ctx.Param("verificationCode")

	if code == "" {
		RespondUnAuthorized(ctx, "invalid_code", "User not found")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	_, err := h.users.MarkVerified(cctx, code)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondUnAuthorized(ctx, "invalid_code", "User not found")
			return
		}

		RespondInternal(ctx, "Could not verify email")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Verification successful"})
}

func (h *AuthHandler) ResendVerifyEmail(ctx *gin.Context) {
	var req user.ResendVerifyRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondUnAuthorized(ctx, "invalid_email", "Email not found")
			return
		}

		RespondInternal(ctx, "Could not resend verification email")
		return
	}

	if u.Verify {
		RespondUnAuthorized(ctx, "already_verified", "Verification has already been passed")
		return
	}

	// the worker reloads the user at send time, so the job re-mails the
	// EXISTING stored code
	payload := jobs.EmailVerificationPayload{
		UserID:      u.ID,
		Email:       u.Email,
		RequestedAt: time.Now().UTC(),
	}

	raw, err := jobs.EncodePayload(jobs.JobEmailVerification, payload)

	if err != nil {
		RespondInternal(ctx, "Could not resend verification email")
		return
	}

	uid := u.ID
	key := "verify:email:" + u.ID

	req2 := job.CreateRequest{
		Type:           string(jobs.JobEmailVerification),
		Payload:        raw,
		RunAt:          time.Now().UTC(),
		MaxAttempts:    10,
		IdempotencyKey: &key,
		UserID:         &uid,
	}

	_, err = h.jobsRepo.Create(cctx, req2)

	if err != nil && postgres.IsUniqueViolation(err) {
		// the register-time job still holds the key; if it has not been
		// delivered yet there is nothing to enqueue
		existing, lookErr := h.jobsRepo.GetByIdempotencyKey(cctx, key)

		if lookErr == nil && (existing.Status == job.StatusPending || existing.Status == job.StatusProcessing) {
			ctx.JSON(http.StatusOK, gin.H{"message": "Verification email sent"})
			return
		}

		// earlier job already finished (or the lookup failed): queue a
		// fresh send without the key
		req2.IdempotencyKey = nil
		_, err = h.jobsRepo.Create(cctx, req2)
	}

	if err != nil {
		RespondInternal(ctx, "Could not resend verification email")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Verification email sent"})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is wrong")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is wrong")
		return
	}

	// checked after credentials so the response does not leak verification
	// state for guessed passwords
	if !foundUser.Verify {
		RespondUnAuthorized(ctx, "email_not_verified", "Email not verified")
		return
	}

	token, err := h.jwt.GenerateSessionToken(foundUser.ID)

	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	if err := h.users.SetToken(cctx, foundUser.ID, token); err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"email":        foundUser.Email,
			"subscription": foundUser.Subscription,
		},
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.users.ClearToken(cctx, userID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondUnAuthorized(ctx, "unauthorized", "Not authorized")
			return
		}

		RespondInternal(ctx, "Could not log out")
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *AuthHandler) Current(ctx *gin.Context) {
	email, _ := middlewares.EmailFromContext(ctx)
	sub, _ := middlewares.SubscriptionFromContext(ctx)

	if email == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"email":        email,
		"subscription": sub,
	})
}

// UpdateSubscription validates the body before touching storage, so an
// invalid tier is a 400 even when the user row is gone.
func (h *AuthHandler) UpdateSubscription(ctx *gin.Context) {
	var req user.UpdateSubscriptionRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	updated, err := h.users.UpdateSubscription(cctx, userID, req.Subscription)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not update subscription")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"email":        updated.Email,
		"subscription": updated.Subscription,
	})
}

func (h *AuthHandler) UpdateAvatar(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	fileHeader, err := ctx.FormFile("avatar")

	if err != nil {
		RespondBadRequest(ctx, "Missing avatar file", nil)
		return
	}

	src, err := fileHeader.Open()

	if err != nil {
		RespondBadRequest(ctx, "Could not read avatar file", nil)
		return
	}

	defer src.Close()

	avatarURL, err := h.storage.Save(userID, fileHeader.Filename, src)

	if err != nil {
		if errors.Is(err, avatars.ErrEmptyFilename) {
			RespondBadRequest(ctx, "Missing avatar filename", nil)
			return
		}

		RespondInternal(ctx, "Could not store avatar")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.users.UpdateAvatar(cctx, userID, avatarURL); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not store avatar")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"avatarURL": avatarURL})
}
