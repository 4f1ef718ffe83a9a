package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	convrepo "github.com/conversant/backend/internal/data/repos/conversation"
	userrepo "github.com/conversant/backend/internal/data/repos/user"
	types "github.com/conversant/backend/internal/domain"
	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/codecache"
	"github.com/conversant/backend/internal/platform/logger"
	"github.com/conversant/backend/internal/platform/mail"
	"github.com/conversant/backend/internal/platform/oauth"
)

// The local part is limited to 64 characters; the lookahead from the usual
// form of this pattern is checked separately because RE2 has none.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*@[^-][A-Za-z0-9-]+(\.[A-Za-z0-9-]+)*(\.[A-Za-z]{2,})$`)

func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	if at < 1 || at > 64 {
		return false
	}
	return emailPattern.MatchString(email)
}

type AuthService interface {
	Register(ctx context.Context, username, email, password string) error
	Login(ctx context.Context, username, password string) (string, error)
	VerifyAccount(ctx context.Context, code string) error
	ResendVerification(ctx context.Context, email string) error
	ResetPasswordRequest(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, code, newPassword string) error
	AuthenticateOAuth2(ctx context.Context, provider, authCode string) (string, error)
	ExtractUser(ctx context.Context, username string) (*types.User, error)
	ChangeUsername(ctx context.Context, userID uint, newUsername string) (string, error)
	ChangeEmail(ctx context.Context, userID uint, newEmail string) error
	ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, userID uint) error
}

type authService struct {
	db         *gorm.DB
	log        *logger.Logger
	userRepo   userrepo.UserRepo
	convRepo   convrepo.ConversationRepo
	codes      *codecache.Cache
	mailer     mail.Sender
	tokens     TokenService
	codegen    CodeGenerator
	providers  *oauth.Registry
	bcryptCost int
}

func NewAuthService(
	db *gorm.DB,
	log *logger.Logger,
	userRepo userrepo.UserRepo,
	convRepo convrepo.ConversationRepo,
	codes *codecache.Cache,
	mailer mail.Sender,
	tokens TokenService,
	codegen CodeGenerator,
	providers *oauth.Registry,
	bcryptCost int,
) AuthService {
	if bcryptCost < bcrypt.DefaultCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &authService{
		db:         db,
		log:        log.With("service", "AuthService"),
		userRepo:   userRepo,
		convRepo:   convRepo,
		codes:      codes,
		mailer:     mailer,
		tokens:     tokens,
		codegen:    codegen,
		providers:  providers,
		bcryptCost: bcryptCost,
	}
}

func (as *authService) Register(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return apierr.BadRequest("FIELDS_REQUIRED", fmt.Errorf("username, email and password are required"))
	}
	if !ValidEmail(email) {
		return apierr.BadRequest("EMAIL_INVALID", fmt.Errorf("invalid email address"))
	}

	if taken, err := as.userRepo.EmailExists(ctx, nil, email); err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	} else if taken {
		return apierr.Conflict("EMAIL_TAKEN", fmt.Errorf("email already registered"))
	}
	if taken, err := as.userRepo.UsernameExists(ctx, nil, username); err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	} else if taken {
		return apierr.Conflict("USERNAME_TAKEN", fmt.Errorf("username already registered"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), as.bcryptCost)
	if err != nil {
		return apierr.Internal("PASSWORD_HASH", fmt.Errorf("hash password: %w", err))
	}
	hashStr := string(hash)

	user := &types.User{
		Email:        email,
		Username:     username,
		PasswordHash: &hashStr,
		Verified:     false,
	}
	if _, err := as.userRepo.Create(ctx, nil, []*types.User{user}); err != nil {
		if userrepo.IsUniqueViolation(err) {
			return apierr.Conflict("ACCOUNT_TAKEN", fmt.Errorf("email or username already registered"))
		}
		return apierr.Internal("USER_CREATE", err)
	}

	// The code is only minted once the row exists; a failed insert leaves no
	// dangling cache entry.
	if err := as.sendVerification(ctx, user); err != nil {
		as.log.Warn("verification email failed after registration", "user_id", user.ID, "error", err)
		return apierr.Upstream("VERIFICATION_EMAIL_FAILED", fmt.Errorf("account created but verification email failed, request a resend: %w", err))
	}
	as.log.Info("user registered", "user_id", user.ID)
	return nil
}

func (as *authService) sendVerification(ctx context.Context, user *types.User) error {
	code, err := as.codegen.NewCode()
	if err != nil {
		return err
	}
	if err := as.codes.Put(ctx, codecache.KindVerification, code, user.Username); err != nil {
		return err
	}
	return as.mailer.SendVerification(user.Email, user.Username, code)
}

func (as *authService) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", apierr.BadRequest("FIELDS_REQUIRED", fmt.Errorf("username and password are required"))
	}

	users, err := as.userRepo.GetByUsernames(ctx, nil, []string{username})
	if err != nil {
		return "", apierr.Internal("USER_LOOKUP", err)
	}
	// Indistinguishable from a wrong password.
	if len(users) == 0 {
		return "", apierr.Unauthorized("AUTHENTICATION_FAILED", fmt.Errorf("bad credentials"))
	}
	user := users[0]
	if !user.HasPassword() {
		return "", apierr.Unauthorized("AUTHENTICATION_FAILED", fmt.Errorf("bad credentials"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return "", apierr.Unauthorized("AUTHENTICATION_FAILED", fmt.Errorf("bad credentials"))
	}
	if !user.Verified {
		return "", apierr.Unauthorized("ACCOUNT_NOT_VERIFIED", fmt.Errorf("account not verified"))
	}
	return as.tokens.Generate(user.Username)
}

func (as *authService) VerifyAccount(ctx context.Context, code string) error {
	if code == "" {
		return apierr.BadRequest("INVALID_CODE", fmt.Errorf("empty verification code"))
	}
	username, ok, err := as.codes.Lookup(ctx, codecache.KindVerification, code)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.BadRequest("INVALID_CODE", fmt.Errorf("unknown or expired verification code"))
	}

	users, err := as.userRepo.GetByUsernames(ctx, nil, []string{username})
	if err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	}
	// The account may have been deleted since the code was minted; same
	// surface error either way.
	if len(users) == 0 {
		return apierr.BadRequest("INVALID_CODE", fmt.Errorf("verification code maps to no user"))
	}
	user := users[0]

	if err := as.userRepo.UpdateFields(ctx, nil, user.ID, map[string]any{"verified": true}); err != nil {
		return apierr.Internal("USER_UPDATE", err)
	}
	if err := as.codes.Delete(ctx, codecache.KindVerification, code); err != nil {
		return err
	}
	as.log.Info("account verified", "user_id", user.ID)
	return nil
}

func (as *authService) ResendVerification(ctx context.Context, email string) error {
	users, err := as.userRepo.GetByEmails(ctx, nil, []string{strings.TrimSpace(email)})
	if err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	}
	if len(users) == 0 {
		return apierr.NotFound("USER_NOT_FOUND", fmt.Errorf("no account for email"))
	}
	user := users[0]
	if user.Verified {
		return apierr.Conflict("ALREADY_VERIFIED", fmt.Errorf("account already verified"))
	}
	return as.sendVerification(ctx, user)
}

func (as *authService) ResetPasswordRequest(ctx context.Context, email string) error {
	users, err := as.userRepo.GetByEmails(ctx, nil, []string{strings.TrimSpace(email)})
	if err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	}
	if len(users) == 0 {
		return apierr.NotFound("USER_NOT_FOUND", fmt.Errorf("no account for email"))
	}
	user := users[0]

	code, err := as.codegen.NewCode()
	if err != nil {
		return err
	}
	if err := as.codes.Put(ctx, codecache.KindPasswordReset, code, user.Username); err != nil {
		return err
	}
	return as.mailer.SendPasswordReset(user.Email, user.Username, code)
}

func (as *authService) ResetPassword(ctx context.Context, code, newPassword string) error {
	if code == "" || newPassword == "" {
		return apierr.BadRequest("FIELDS_REQUIRED", fmt.Errorf("reset code and new password are required"))
	}
	username, ok, err := as.codes.Lookup(ctx, codecache.KindPasswordReset, code)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.BadRequest("INVALID_CODE", fmt.Errorf("unknown or expired reset code"))
	}

	users, err := as.userRepo.GetByUsernames(ctx, nil, []string{username})
	if err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	}
	if len(users) == 0 {
		return apierr.BadRequest("INVALID_CODE", fmt.Errorf("reset code maps to no user"))
	}
	user := users[0]

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), as.bcryptCost)
	if err != nil {
		return apierr.Internal("PASSWORD_HASH", fmt.Errorf("hash password: %w", err))
	}
	if err := as.userRepo.UpdateFields(ctx, nil, user.ID, map[string]any{"password_hash": string(hash)}); err != nil {
		return apierr.Internal("USER_UPDATE", err)
	}
	// Existing tokens stay valid until their own expiration.
	if err := as.codes.Delete(ctx, codecache.KindPasswordReset, code); err != nil {
		return err
	}
	as.log.Info("password reset", "user_id", user.ID)
	return nil
}

func (as *authService) AuthenticateOAuth2(ctx context.Context, provider, authCode string) (string, error) {
	p, err := as.providers.Get(provider)
	if err != nil {
		return "", apierr.BadRequest("OAUTH_PROVIDER_UNKNOWN", err)
	}
	accessToken, err := p.Exchange(ctx, authCode)
	if err != nil {
		return "", apierr.Upstream("OAUTH_EXCHANGE_FAILED", err)
	}
	identity, err := p.Fetch(ctx, accessToken)
	if err != nil {
		if errors.Is(err, oauth.ErrMissingEmail) {
			return "", apierr.Unauthorized("OAUTH_MISSING_EMAIL", err)
		}
		return "", apierr.Upstream("OAUTH_FETCH_FAILED", err)
	}

	user, err := as.findOrCreateOAuthUser(ctx, identity)
	if err != nil {
		return "", err
	}
	return as.tokens.Generate(user.Username)
}

func (as *authService) findOrCreateOAuthUser(ctx context.Context, identity oauth.Identity) (*types.User, error) {
	users, err := as.userRepo.GetByEmails(ctx, nil, []string{identity.Email})
	if err != nil {
		return nil, apierr.Internal("USER_LOOKUP", err)
	}
	if len(users) > 0 {
		return users[0], nil
	}

	if !ValidEmail(identity.Email) {
		return nil, apierr.BadRequest("EMAIL_INVALID", fmt.Errorf("provider email fails validation"))
	}

	username := strings.TrimSpace(identity.Username)
	if username == "" {
		username = strings.Split(identity.Email, "@")[0]
	}
	taken, err := as.userRepo.UsernameExists(ctx, nil, username)
	if err != nil {
		return nil, apierr.Internal("USER_LOOKUP", err)
	}
	if taken {
		suffix, sErr := randomSuffix()
		if sErr != nil {
			return nil, apierr.Internal("USERNAME_SUFFIX", sErr)
		}
		username = username + "-" + suffix
	}

	user := &types.User{
		Email:    identity.Email,
		Username: username,
		Verified: true,
	}
	if _, err := as.userRepo.Create(ctx, nil, []*types.User{user}); err != nil {
		if userrepo.IsUniqueViolation(err) {
			// Concurrent first sign-in with the same provider account.
			again, aErr := as.userRepo.GetByEmails(ctx, nil, []string{identity.Email})
			if aErr == nil && len(again) > 0 {
				return again[0], nil
			}
			return nil, apierr.Conflict("ACCOUNT_TAKEN", err)
		}
		return nil, apierr.Internal("USER_CREATE", err)
	}
	as.log.Info("oauth user created", "user_id", user.ID)
	return user, nil
}

func randomSuffix() (string, error) {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (as *authService) ExtractUser(ctx context.Context, username string) (*types.User, error) {
	users, err := as.userRepo.GetByUsernames(ctx, nil, []string{username})
	if err != nil {
		return nil, apierr.Internal("USER_LOOKUP", err)
	}
	if len(users) == 0 {
		return nil, apierr.NotFound("USER_NOT_FOUND", fmt.Errorf("no user for subject"))
	}
	return users[0], nil
}

// ChangeUsername renames the account and returns a fresh token bound to the
// new name, since the old token's subject no longer resolves.
func (as *authService) ChangeUsername(ctx context.Context, userID uint, newUsername string) (string, error) {
	newUsername = strings.TrimSpace(newUsername)
	if newUsername == "" {
		return "", apierr.BadRequest("FIELDS_REQUIRED", fmt.Errorf("new username is required"))
	}
	taken, err := as.userRepo.UsernameExists(ctx, nil, newUsername)
	if err != nil {
		return "", apierr.Internal("USER_LOOKUP", err)
	}
	if taken {
		return "", apierr.Conflict("USERNAME_TAKEN", fmt.Errorf("username already registered"))
	}
	if err := as.userRepo.UpdateFields(ctx, nil, userID, map[string]any{"username": newUsername}); err != nil {
		if userrepo.IsUniqueViolation(err) {
			return "", apierr.Conflict("USERNAME_TAKEN", fmt.Errorf("username already registered"))
		}
		return "", apierr.Internal("USER_UPDATE", err)
	}
	return as.tokens.Generate(newUsername)
}

func (as *authService) ChangeEmail(ctx context.Context, userID uint, newEmail string) error {
	newEmail = strings.TrimSpace(newEmail)
	if !ValidEmail(newEmail) {
		return apierr.BadRequest("EMAIL_INVALID", fmt.Errorf("invalid email address"))
	}
	taken, err := as.userRepo.EmailExists(ctx, nil, newEmail)
	if err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	}
	if taken {
		return apierr.Conflict("EMAIL_TAKEN", fmt.Errorf("email already registered"))
	}
	if err := as.userRepo.UpdateFields(ctx, nil, userID, map[string]any{"email": newEmail}); err != nil {
		if userrepo.IsUniqueViolation(err) {
			return apierr.Conflict("EMAIL_TAKEN", fmt.Errorf("email already registered"))
		}
		return apierr.Internal("USER_UPDATE", err)
	}
	return nil
}

func (as *authService) ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return apierr.BadRequest("FIELDS_REQUIRED", fmt.Errorf("current and new password are required"))
	}
	users, err := as.userRepo.GetByIDs(ctx, nil, []uint{userID})
	if err != nil {
		return apierr.Internal("USER_LOOKUP", err)
	}
	if len(users) == 0 {
		return apierr.NotFound("USER_NOT_FOUND", fmt.Errorf("no such user"))
	}
	user := users[0]
	if !user.HasPassword() {
		return apierr.Unauthorized("AUTHENTICATION_FAILED", fmt.Errorf("account has no password"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(currentPassword)); err != nil {
		return apierr.Unauthorized("AUTHENTICATION_FAILED", fmt.Errorf("wrong current password"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), as.bcryptCost)
	if err != nil {
		return apierr.Internal("PASSWORD_HASH", fmt.Errorf("hash password: %w", err))
	}
	if err := as.userRepo.UpdateFields(ctx, nil, userID, map[string]any{"password_hash": string(hash)}); err != nil {
		return apierr.Internal("USER_UPDATE", err)
	}
	return nil
}

func (as *authService) DeleteAccount(ctx context.Context, userID uint) error {
	err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := as.convRepo.DeleteByUserCascade(ctx, tx, userID); err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
		if err := as.userRepo.DeleteByID(ctx, tx, userID); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return apierr.Internal("ACCOUNT_DELETE", err)
	}
	as.log.Info("account deleted", "user_id", userID)
	return nil
}
