package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-identity-service/internal/model"
	"go-identity-service/internal/security"
	"go-identity-service/pkg/apierror"
)

type AuthDeps struct {
	Users     UserRepository
	Resets    ResetStore
	Hasher    PasswordHasher
	Tokens    TokenIssuer
	Generator TokenGenerator
	Notifier  Notifier
	Recorder  AuthRecorder
	Logger    *slog.Logger
}

type AuthOptions struct {
	TokenTTL           time.Duration
	ResetTTL           time.Duration
	SuperAdminEmail    string
	RevealUnknownEmail bool
}

type AuthService struct {
	users     UserRepository
	resets    ResetStore
	hasher    PasswordHasher
	tokens    TokenIssuer
	generator TokenGenerator
	notifier  Notifier
	recorder  AuthRecorder
	logger    *slog.Logger

	tokenTTL           time.Duration
	resetTTL           time.Duration
	superAdminEmail    string
	revealUnknownEmail bool
	now                func() time.Time
}

func NewAuthService(deps AuthDeps, opts AuthOptions) *AuthService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = 24 * time.Hour
	}

	return &AuthService{
		users:              deps.Users,
		resets:             deps.Resets,
		hasher:             deps.Hasher,
		tokens:             deps.Tokens,
		generator:          deps.Generator,
		notifier:           deps.Notifier,
		recorder:           deps.Recorder,
		logger:             deps.Logger,
		tokenTTL:           opts.TokenTTL,
		resetTTL:           opts.ResetTTL,
		superAdminEmail:    model.NormalizeEmail(opts.SuperAdminEmail),
		revealUnknownEmail: opts.RevealUnknownEmail,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

type registration struct {
	username string
	email    string
	password string
}

func validateRegistration(req model.RegisterRequest) (registration, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Email == "" || req.Password == "" {
		return registration{}, apierror.BadRequest("username, email and password are required", "")
	}
	if !validUsername(username) {
		return registration{}, apierror.BadRequest("invalid username", username)
	}
	email, ok := parseEmail(req.Email)
	if !ok {
		return registration{}, apierror.BadRequest("invalid email address", req.Email)
	}
	return registration{username: username, email: email, password: req.Password}, nil
}

// ensureAvailable checks email before username so the first reported
// conflict is always the email.
func (s *AuthService) ensureAvailable(ctx context.Context, email, username string) error {
	taken, err := s.users.ExistsByEmail(ctx, email, "")
	if err != nil {
		return fail(s.logger, "check email availability", err)
	}
	if taken {
		return apierror.Conflict("email already registered", email)
	}

	taken, err = s.users.ExistsByUsername(ctx, username, "")
	if err != nil {
		return fail(s.logger, "check username availability", err)
	}
	if taken {
		return apierror.Conflict("username already taken", username)
	}
	return nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	switch {
	case errors.Is(err, security.ErrPasswordTooLong):
		return "", apierror.BadRequest("password is too long", "maximum 72 bytes")
	case errors.Is(err, security.ErrEmptyPassword):
		return "", apierror.BadRequest("password is required", "")
	case err != nil:
		return "", fail(s.logger, "hash password", err)
	}
	return hash, nil
}

func (s *AuthService) create(ctx context.Context, u model.User) error {
	err := s.users.Create(ctx, u)
	if errors.Is(err, model.ErrUserAlreadyExists) {
		return apierror.Conflict("email or username already registered", "")
	}
	if err != nil {
		return fail(s.logger, "create user", err)
	}
	return nil
}

// Register creates an unverified account and queues the verification email.
// A failed delivery is logged and counted but does not undo the account.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.PublicUser, error) {
	in, err := validateRegistration(req)
	if err != nil {
		return model.PublicUser{}, err
	}

	if err := s.ensureAvailable(ctx, in.email, in.username); err != nil {
		s.recorder.AuthEvent("register", false)
		return model.PublicUser{}, err
	}

	token, digest, err := s.generator.Generate()
	if err != nil {
		return model.PublicUser{}, fail(s.logger, "generate verification token", err)
	}

	hash, err := s.hashPassword(in.password)
	if err != nil {
		return model.PublicUser{}, err
	}

	now := s.now()
	user := model.User{
		ID:              uuid.NewString(),
		Username:        in.username,
		Email:           in.email,
		PasswordHash:    hash,
		Role:            model.RoleUser,
		IsVerified:      false,
		VerifyTokenHash: &digest,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.create(ctx, user); err != nil {
		s.recorder.AuthEvent("register", false)
		return model.PublicUser{}, err
	}

	s.notifier.SendVerification(user.Email, user.Username, token)

	s.recorder.AuthEvent("register", true)
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user.Public(), nil
}

// RegisterSuperAdmin is the only path to the super-admin role. Any email
// other than the configured one is answered as if the route did not exist.
func (s *AuthService) RegisterSuperAdmin(ctx context.Context, req model.RegisterRequest) (model.PublicUser, error) {
	if s.superAdminEmail == "" || model.NormalizeEmail(req.Email) != s.superAdminEmail {
		s.recorder.AuthEvent("register_super_admin", false)
		return model.PublicUser{}, apierror.NotFound("resource not found", "")
	}

	in, err := validateRegistration(req)
	if err != nil {
		return model.PublicUser{}, err
	}

	if err := s.ensureAvailable(ctx, in.email, in.username); err != nil {
		return model.PublicUser{}, err
	}

	hash, err := s.hashPassword(in.password)
	if err != nil {
		return model.PublicUser{}, err
	}

	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Username:     in.username,
		Email:        in.email,
		PasswordHash: hash,
		Role:         model.RoleSuperAdmin,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.create(ctx, user); err != nil {
		return model.PublicUser{}, err
	}

	s.recorder.AuthEvent("register_super_admin", true)
	s.logger.InfoContext(ctx, "super admin registered", "user_id", user.ID)
	return user.Public(), nil
}

// Login returns a session only when the password verifies; every failure
// branch returns before a token is minted.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.Session, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return model.Session{}, apierror.BadRequest("email and password are required", "")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, model.ErrUserNotFound) {
		s.recorder.AuthEvent("login", false)
		return model.Session{}, apierror.Unauthorized("invalid credentials")
	}
	if err != nil {
		return model.Session{}, fail(s.logger, "find user for login", err)
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.recorder.AuthEvent("login", false)
		s.logger.InfoContext(ctx, "login rejected", "user_id", user.ID)
		return model.Session{}, apierror.Unauthorized("invalid credentials")
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, req.Password)
	}

	session, err := s.issue(user)
	if err != nil {
		return model.Session{}, err
	}

	s.recorder.AuthEvent("login", true)
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return session, nil
}

func (s *AuthService) rehash(ctx context.Context, userID string, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, userID, hash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", userID, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "password rehashed", "user_id", userID)
}

// ExternalLogin trusts an identity asserted by an upstream provider. New
// accounts get an empty password hash, which no password ever verifies
// against. created reports whether an account was made.
func (s *AuthService) ExternalLogin(ctx context.Context, req model.ExternalLoginRequest) (session model.Session, created bool, err error) {
	email, ok := parseEmail(req.Email)
	if !ok {
		return model.Session{}, false, apierror.BadRequest("invalid email address", req.Email)
	}

	user, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrUserNotFound):
		user, err = s.createExternal(ctx, email, strings.TrimSpace(req.Username))
		if err != nil {
			s.recorder.AuthEvent("external_login", false)
			return model.Session{}, false, err
		}
		created = true
	default:
		return model.Session{}, false, fail(s.logger, "find user for external login", err)
	}

	// Admin and super-admin sessions require a password.
	if user.Role != model.RoleUser {
		s.recorder.AuthEvent("external_login", false)
		s.logger.WarnContext(ctx, "external login refused for privileged account", "user_id", user.ID, "role", user.Role)
		return model.Session{}, false, apierror.Forbidden("external login is not available for this account")
	}

	session, err = s.issue(user)
	if err != nil {
		return model.Session{}, false, err
	}

	s.recorder.AuthEvent("external_login", true)
	s.logger.InfoContext(ctx, "external login", "user_id", user.ID, "created", created)
	return session, created, nil
}

func (s *AuthService) createExternal(ctx context.Context, email string, username string) (model.User, error) {
	if !validUsername(username) {
		username = email[:strings.Index(email, "@")]
	}
	if !validUsername(username) {
		username = "user"
	}

	candidate := username
	for attempt := 0; ; attempt++ {
		taken, err := s.users.ExistsByUsername(ctx, candidate, "")
		if err != nil {
			return model.User{}, fail(s.logger, "check username availability", err)
		}
		if !taken {
			break
		}
		if attempt == 4 {
			return model.User{}, apierror.Conflict("username already taken", username)
		}
		candidate = username + "-" + uuid.NewString()[:6]
	}

	now := s.now()
	user := model.User{
		ID:         uuid.NewString(),
		Username:   candidate,
		Email:      email,
		Role:       model.RoleUser,
		IsVerified: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.users.Create(ctx, user)
	if errors.Is(err, model.ErrUserAlreadyExists) {
		// Lost a race with a concurrent first login for the same email.
		existing, findErr := s.users.FindByEmail(ctx, email)
		if findErr != nil {
			return model.User{}, apierror.Conflict("email or username already registered", "")
		}
		return existing, nil
	}
	if err != nil {
		return model.User{}, fail(s.logger, "create external user", err)
	}
	return user, nil
}

func (s *AuthService) issue(user model.User) (model.Session, error) {
	token, claims, err := s.tokens.Issue(user.Public(), s.tokenTTL)
	if err != nil {
		return model.Session{}, fail(s.logger, "issue session token", err)
	}

	return model.Session{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   claims.ExpiresAt,
		ExpiresIn:   int64(claims.ExpiresAt.Sub(claims.IssuedAt).Seconds()),
		User:        claims.User,
	}, nil
}

// Authenticate validates a bearer token and maps its failure kind onto an
// API error.
func (s *AuthService) Authenticate(token string) (*model.AuthClaims, error) {
	claims, err := s.tokens.Validate(token)
	if err == nil {
		return claims, nil
	}

	var tokenErr *security.TokenError
	if errors.As(err, &tokenErr) {
		switch tokenErr.Kind {
		case security.TokenExpired:
			return nil, apierror.New(apierror.CodeTokenExpired, "token expired", "", http.StatusUnauthorized)
		case security.TokenBadSignature:
			return nil, apierror.New(apierror.CodeTokenBadSignature, "token signature invalid", "", http.StatusUnauthorized)
		}
	}
	return nil, apierror.New(apierror.CodeTokenMalformed, "token malformed", "", http.StatusUnauthorized)
}

// CurrentUser reloads the account behind claims so the response reflects
// changes made after the token was issued.
func (s *AuthService) CurrentUser(ctx context.Context, claims model.AuthClaims) (model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.PublicUser{}, apierror.Unauthorized("account no longer exists")
	}
	if err != nil {
		return model.PublicUser{}, fail(s.logger, "load current user", err)
	}
	return user.Public(), nil
}

// VerifyEmail consumes a verification token. Unknown and already used
// tokens are indistinguishable.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (model.PublicUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.PublicUser{}, apierror.NotFound("invalid or already used verification link", "")
	}

	user, err := s.users.ConsumeVerifyToken(ctx, security.Digest(token))
	if errors.Is(err, model.ErrUserNotFound) {
		s.recorder.AuthEvent("verify_email", false)
		return model.PublicUser{}, apierror.NotFound("invalid or already used verification link", "")
	}
	if err != nil {
		return model.PublicUser{}, fail(s.logger, "consume verification token", err)
	}

	s.recorder.AuthEvent("verify_email", true)
	s.logger.InfoContext(ctx, "email verified", "user_id", user.ID)
	return user.Public(), nil
}

// ResendVerification issues a fresh token for an unverified account. The
// outcome is the same whether or not the address is known.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	normalized, ok := parseEmail(email)
	if !ok {
		return apierror.BadRequest("invalid email address", email)
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fail(s.logger, "find user for verification resend", err)
	}
	if user.IsVerified {
		return nil
	}

	token, digest, err := s.generator.Generate()
	if err != nil {
		return fail(s.logger, "generate verification token", err)
	}

	err = s.users.SetVerifyToken(ctx, user.ID, digest)
	if errors.Is(err, model.ErrUserNotFound) {
		// Verified or deleted in the meantime.
		return nil
	}
	if err != nil {
		return fail(s.logger, "store verification token", err)
	}

	s.notifier.SendVerification(user.Email, user.Username, token)
	s.recorder.AuthEvent("resend_verification", true)
	return nil
}
