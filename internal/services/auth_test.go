package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	convrepo "github.com/conversant/backend/internal/data/repos/conversation"
	"github.com/conversant/backend/internal/data/repos/testutil"
	userrepo "github.com/conversant/backend/internal/data/repos/user"
	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/codecache"
	"github.com/conversant/backend/internal/platform/oauth"
)

// captureMailer records outbound emails instead of dialing SMTP.
type captureMailer struct {
	mu           sync.Mutex
	lastVerifyTo string
	lastVerify   string
	lastResetTo  string
	lastReset    string
	verifyCount  int
	failNextSend bool
}

func (m *captureMailer) SendVerification(toEmail, username, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextSend {
		m.failNextSend = false
		return apierr.Upstream("MAIL_SEND", errFailedSend)
	}
	m.lastVerifyTo = toEmail
	m.lastVerify = code
	m.verifyCount++
	return nil
}

func (m *captureMailer) SendPasswordReset(toEmail, username, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastResetTo = toEmail
	m.lastReset = code
	return nil
}

var errFailedSend = &mailError{}

type mailError struct{}

func (*mailError) Error() string { return "smtp unreachable" }

type authFixture struct {
	db     *gorm.DB
	svc    AuthService
	tokens TokenService
	mailer *captureMailer
	codes  *codecache.Cache
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codes, err := codecache.NewCache(rdb, log, 15*time.Minute, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	tokens, err := NewTokenService(log, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	mailer := &captureMailer{}

	svc := NewAuthService(
		db, log,
		userrepo.NewUserRepo(db, log),
		convrepo.NewConversationRepo(db, log),
		codes, mailer, tokens, NewCodeGenerator(),
		oauth.NewRegistry(),
		10,
	)
	return &authFixture{db: db, svc: svc, tokens: tokens, mailer: mailer, codes: codes}
}

func TestRegisterVerifyLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.Register(ctx, "alice-rvl", "alice-rvl@example.com", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if f.mailer.lastVerifyTo != "alice-rvl@example.com" || f.mailer.lastVerify == "" {
		t.Fatalf("Register: verification email not sent: %+v", f.mailer)
	}

	// Unverified login fails with the dedicated code.
	_, err := f.svc.Login(ctx, "alice-rvl", "hunter2")
	if err == nil || apierr.CodeOf(err) != "ACCOUNT_NOT_VERIFIED" {
		t.Fatalf("Login before verify: expected ACCOUNT_NOT_VERIFIED, got %v", err)
	}

	if err := f.svc.VerifyAccount(ctx, f.mailer.lastVerify); err != nil {
		t.Fatalf("VerifyAccount: %v", err)
	}

	// The code is consumed.
	if err := f.svc.VerifyAccount(ctx, f.mailer.lastVerify); err == nil {
		t.Fatalf("VerifyAccount: expected second redemption to fail")
	}

	tok, err := f.svc.Login(ctx, "alice-rvl", "hunter2")
	if err != nil {
		t.Fatalf("Login after verify: %v", err)
	}
	subject, err := f.tokens.Verify(tok)
	if err != nil || subject != "alice-rvl" {
		t.Fatalf("token subject: %q err=%v", subject, err)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.Register(ctx, "dupe-a", "dupe-auth@example.com", "pw123456"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := f.svc.Register(ctx, "dupe-b", "dupe-auth@example.com", "pw123456")
	if err == nil || !apierr.IsKind(err, apierr.KindConflict) {
		t.Fatalf("Register (dupe email): expected conflict, got %v", err)
	}
	err = f.svc.Register(ctx, "dupe-a", "dupe-other@example.com", "pw123456")
	if err == nil || !apierr.IsKind(err, apierr.KindConflict) {
		t.Fatalf("Register (dupe username): expected conflict, got %v", err)
	}
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for _, email := range []string{"not-an-email", "a@b", "@example.com", "a b@example.com"} {
		err := f.svc.Register(ctx, "bad-email-user", email, "pw123456")
		if err == nil || !apierr.IsKind(err, apierr.KindBadRequest) {
			t.Fatalf("Register(%q): expected bad request, got %v", email, err)
		}
	}
}

func TestLoginNeverRevealsWhetherUserExists(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, "no-such-user", "pw")
	if errUnknown == nil {
		t.Fatalf("Login (unknown): expected error")
	}

	if err := f.svc.Register(ctx, "secret-u", "secret-u@example.com", "correct-pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.svc.VerifyAccount(ctx, f.mailer.lastVerify); err != nil {
		t.Fatalf("VerifyAccount: %v", err)
	}
	_, errWrongPw := f.svc.Login(ctx, "secret-u", "wrong-pw")
	if errWrongPw == nil {
		t.Fatalf("Login (wrong pw): expected error")
	}

	if apierr.CodeOf(errUnknown) != apierr.CodeOf(errWrongPw) {
		t.Fatalf("login failures distinguishable: %q vs %q", apierr.CodeOf(errUnknown), apierr.CodeOf(errWrongPw))
	}
}

func TestRegisterSurvivesEmailSendFailure(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.mailer.failNextSend = true
	err := f.svc.Register(ctx, "mailfail", "mailfail@example.com", "pw123456")
	if err == nil || !apierr.IsKind(err, apierr.KindUpstream) {
		t.Fatalf("Register: expected upstream error, got %v", err)
	}

	// The account exists; a resend must succeed.
	if err := f.svc.ResendVerification(ctx, "mailfail@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	if err := f.svc.VerifyAccount(ctx, f.mailer.lastVerify); err != nil {
		t.Fatalf("VerifyAccount: %v", err)
	}
}

func TestResendVerificationConflictsWhenVerified(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.Register(ctx, "resend-v", "resend-v@example.com", "pw123456"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.svc.VerifyAccount(ctx, f.mailer.lastVerify); err != nil {
		t.Fatalf("VerifyAccount: %v", err)
	}

	err := f.svc.ResendVerification(ctx, "resend-v@example.com")
	if err == nil || !apierr.IsKind(err, apierr.KindConflict) {
		t.Fatalf("ResendVerification: expected conflict, got %v", err)
	}
	err = f.svc.ResendVerification(ctx, "nobody@example.com")
	if err == nil || !apierr.IsKind(err, apierr.KindNotFound) {
		t.Fatalf("ResendVerification (unknown): expected not found, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.Register(ctx, "reset-u", "reset-u@example.com", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.svc.VerifyAccount(ctx, f.mailer.lastVerify); err != nil {
		t.Fatalf("VerifyAccount: %v", err)
	}

	if err := f.svc.ResetPasswordRequest(ctx, "reset-u@example.com"); err != nil {
		t.Fatalf("ResetPasswordRequest: %v", err)
	}
	if f.mailer.lastReset == "" {
		t.Fatalf("ResetPasswordRequest: no code mailed")
	}
	if err := f.svc.ResetPassword(ctx, f.mailer.lastReset, "zxcv"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := f.svc.Login(ctx, "reset-u", "hunter2"); err == nil {
		t.Fatalf("Login with old password: expected failure")
	}
	if _, err := f.svc.Login(ctx, "reset-u", "zxcv"); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}

	// The reset code is single use.
	if err := f.svc.ResetPassword(ctx, f.mailer.lastReset, "again"); err == nil {
		t.Fatalf("ResetPassword: expected second redemption to fail")
	}
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.Register(ctx, "chpw-u", "chpw-u@example.com", "original"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	user, err := f.svc.ExtractUser(ctx, "chpw-u")
	if err != nil {
		t.Fatalf("ExtractUser: %v", err)
	}

	err = f.svc.ChangePassword(ctx, user.ID, "wrong", "next")
	if err == nil || !apierr.IsKind(err, apierr.KindUnauthorized) {
		t.Fatalf("ChangePassword (wrong current): expected unauthorized, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, user.ID, "original", "next"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
}

func TestChangeUsernameReturnsFreshToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.Register(ctx, "rename-u", "rename-u@example.com", "pw123456"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	user, err := f.svc.ExtractUser(ctx, "rename-u")
	if err != nil {
		t.Fatalf("ExtractUser: %v", err)
	}

	tok, err := f.svc.ChangeUsername(ctx, user.ID, "renamed-u")
	if err != nil {
		t.Fatalf("ChangeUsername: %v", err)
	}
	subject, err := f.tokens.Verify(tok)
	if err != nil || subject != "renamed-u" {
		t.Fatalf("ChangeUsername token subject: %q err=%v", subject, err)
	}
	if _, err := f.svc.ExtractUser(ctx, "rename-u"); err == nil {
		t.Fatalf("ExtractUser: old username still resolves")
	}
}
