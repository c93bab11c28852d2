package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go-identity-service/internal/model"
	"go-identity-service/internal/security"
	"go-identity-service/pkg/apierror"
)

const (
	resetTokenInvalid = "RESET_TOKEN_INVALID"
	resetTokenExpired = "RESET_TOKEN_EXPIRED"
)

// ForgotPassword stores a reset digest and waits for the email to go out,
// bounded by ctx. Unknown addresses succeed silently unless the service is
// configured to reveal them.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	normalized, ok := parseEmail(email)
	if !ok {
		return apierror.BadRequest("invalid email address", email)
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if errors.Is(err, model.ErrUserNotFound) {
		s.recorder.AuthEvent("forgot_password", false)
		if s.revealUnknownEmail {
			return apierror.Conflict("no account registered with this email", normalized)
		}
		return nil
	}
	if err != nil {
		return fail(s.logger, "find user for password reset", err)
	}

	token, digest, err := s.generator.Generate()
	if err != nil {
		return fail(s.logger, "generate reset token", err)
	}

	now := s.now()
	reset := model.PasswordReset{
		UserID:    user.ID,
		TokenHash: digest,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.resets.Replace(ctx, reset); err != nil {
		return fail(s.logger, "store password reset", err)
	}

	select {
	case err := <-s.notifier.SendPasswordReset(user.Email, user.Username, token, reset.ExpiresAt):
		if err != nil {
			s.recorder.AuthEvent("forgot_password", false)
			return fail(s.logger, "send password reset email", err)
		}
	case <-ctx.Done():
		return fail(s.logger, "send password reset email", ctx.Err())
	}

	s.recorder.AuthEvent("forgot_password", true)
	s.logger.InfoContext(ctx, "password reset issued", "user_id", user.ID)
	return nil
}

// ResetPassword completes a reset. The token must belong to the account
// owning email and must not have expired; any mismatch is UNAUTHORIZED and
// nothing is hashed.
func (s *AuthService) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error {
	token := strings.TrimSpace(req.Token)
	if token == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apierror.BadRequest("email, token and password are required", "")
	}

	reset, err := s.resets.FindByTokenHash(ctx, security.Digest(token))
	if errors.Is(err, model.ErrResetNotFound) {
		s.recorder.AuthEvent("reset_password", false)
		return apierror.New(apierror.CodeUnauthorized, "invalid reset token", resetTokenInvalid, http.StatusUnauthorized)
	}
	if err != nil {
		return fail(s.logger, "find password reset", err)
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, model.ErrUserNotFound) || (err == nil && user.ID != reset.UserID) {
		// A token presented with the wrong address is burned.
		s.recorder.AuthEvent("reset_password", false)
		if err := s.resets.DeleteByUser(ctx, reset.UserID); err != nil {
			s.logger.WarnContext(ctx, "drop mismatched reset failed", "user_id", reset.UserID, "error", err)
		}
		return apierror.New(apierror.CodeUnauthorized, "invalid reset token", resetTokenInvalid, http.StatusUnauthorized)
	}
	if err != nil {
		return fail(s.logger, "find user for password reset", err)
	}

	if reset.ExpiredAt(s.now()) {
		s.recorder.AuthEvent("reset_password", false)
		if err := s.resets.DeleteByUser(ctx, user.ID); err != nil {
			s.logger.WarnContext(ctx, "drop expired reset failed", "user_id", user.ID, "error", err)
		}
		return apierror.New(apierror.CodeUnauthorized, "reset token expired", resetTokenExpired, http.StatusUnauthorized)
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fail(s.logger, "update password", err)
	}
	if err := s.resets.DeleteByUser(ctx, user.ID); err != nil {
		return fail(s.logger, "consume password reset", err)
	}

	s.recorder.AuthEvent("reset_password", true)
	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID)
	return nil
}

// ChangePassword requires the current password. A wrong old password stops
// before any hashing work.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest) error {
	if req.OldPassword == "" || req.NewPassword == "" {
		return apierror.BadRequest("old and new password are required", "")
	}
	if req.NewPassword != req.ConfirmPassword {
		return apierror.BadRequest("new password and confirmation do not match", "")
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("user not found", userID)
	}
	if err != nil {
		return fail(s.logger, "find user for password change", err)
	}

	if !s.hasher.Verify(req.OldPassword, user.PasswordHash) {
		s.recorder.AuthEvent("change_password", false)
		return apierror.Unauthorized("invalid password")
	}

	hash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fail(s.logger, "update password", err)
	}

	s.recorder.AuthEvent("change_password", true)
	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID)
	return nil
}

// SetPassword overwrites another account's password without the old one.
// Only a super-admin may do this.
func (s *AuthService) SetPassword(ctx context.Context, actor model.AuthClaims, userID string, req model.SetPasswordRequest) error {
	if actor.User.Role != model.RoleSuperAdmin {
		return apierror.Forbidden("insufficient permissions")
	}
	if req.NewPassword == "" {
		return apierror.BadRequest("new password is required", "")
	}

	hash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	err = s.users.UpdatePassword(ctx, userID, hash)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("user not found", userID)
	}
	if err != nil {
		return fail(s.logger, "set password", err)
	}

	s.recorder.AuthEvent("set_password", true)
	s.logger.InfoContext(ctx, "password set by super admin", "user_id", userID, "actor_id", actor.UserID)
	return nil
}
