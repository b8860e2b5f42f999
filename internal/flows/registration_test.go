package flows

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/clinicore/identity/internal/account"
)

func aliceInput() RegisterInput {
	return RegisterInput{
		Email:       "Alice@Test.com",
		Password:    "Abc12$",
		FullName:    "Alice Liddell",
		DateOfBirth: "1990-04-12",
	}
}

func TestRunRegisterCreatesPendingAccountAndMailsCode(t *testing.T) {
	h := newHarness(t)

	summary, err := RunRegister(context.Background(), aliceInput(), h.registration())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if summary.Email != "alice@test.com" || summary.Status != account.StatusPending || summary.Role != "USER" {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	acc := h.store.get(t, "alice@test.com")
	if acc.PasswordHash == "" || acc.PasswordHash == "Abc12$" {
		t.Fatalf("password must be stored hashed, got %q", acc.PasswordHash)
	}
	if !acc.HasPendingCode() || acc.PendingCode.Value != h.mail.last("alice@test.com") {
		t.Fatalf("expected mailed code to match stored code, got %+v", acc.PendingCode)
	}
	if want := h.clock.now.Add(15 * time.Minute); !acc.PendingCode.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, acc.PendingCode.ExpiresAt)
	}
	if got := h.audit.actions(); !reflect.DeepEqual(got, []string{"REGISTER:ok"}) {
		t.Fatalf("unexpected audit trail %v", got)
	}
}

func TestRunRegisterValidationOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := aliceInput()
	in.FullName = " "
	_, err := RunRegister(ctx, in, h.registration())
	assertValidation(t, err, "fullname", RuleRequired)

	in = aliceInput()
	in.Email = "alice@"
	_, err = RunRegister(ctx, in, h.registration())
	assertValidation(t, err, "email", RuleFormat)

	in = aliceInput()
	in.Password = "abc"
	_, err = RunRegister(ctx, in, h.registration())
	assertValidation(t, err, "password", RuleMinLength)

	in = aliceInput()
	in.DateOfBirth = "1900-01-01"
	_, err = RunRegister(ctx, in, h.registration())
	assertValidation(t, err, "date_of_birth", RuleAgeRange)

	in = aliceInput()
	in.DateOfBirth = "2999-01-01"
	_, err = RunRegister(ctx, in, h.registration())
	assertValidation(t, err, "date_of_birth", RuleAgeRange)

	in = aliceInput()
	in.DateOfBirth = "not-a-date"
	_, err = RunRegister(ctx, in, h.registration())
	assertValidation(t, err, "date_of_birth", RuleFormat)

	if len(h.store.accounts) != 0 {
		t.Fatalf("no account may be created on validation failure, got %d", len(h.store.accounts))
	}
}

func TestRunRegisterMissingFieldBeatsFormat(t *testing.T) {
	h := newHarness(t)

	in := aliceInput()
	in.Email = "alice@"
	in.Password = "abc"
	in.DateOfBirth = ""
	_, err := RunRegister(context.Background(), in, h.registration())
	assertValidation(t, err, "date_of_birth", RuleRequired)

	in.DateOfBirth = "1990-01-01"
	_, err = RunRegister(context.Background(), in, h.registration())
	assertValidation(t, err, "email", RuleFormat)
}

func TestRunRegisterConflictBeforeDateCheck(t *testing.T) {
	h := newHarness(t)
	h.seedActive("alice@test.com", "Abc12$")

	in := aliceInput()
	in.DateOfBirth = "garbage"
	if _, err := RunRegister(context.Background(), in, h.registration()); !errors.Is(err, errTaken) {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestRunRegisterCompensatesOnMailFailure(t *testing.T) {
	h := newHarness(t)
	h.mail.fail = true

	_, err := RunRegister(context.Background(), aliceInput(), h.registration())
	if !errors.Is(err, errMail) {
		t.Fatalf("expected mail delivery error, got %v", err)
	}
	if len(h.store.accounts) != 0 {
		t.Fatal("account must be deleted when the verification mail fails")
	}
	if got := h.audit.actions(); !reflect.DeepEqual(got, []string{"REGISTER:fail"}) {
		t.Fatalf("unexpected audit trail %v", got)
	}
}

func TestRunRegisterStoreOutage(t *testing.T) {
	h := newHarness(t)
	h.store.failNext = errors.New("connection refused")
	deps := h.registration()
	deps.MapStoreError = func(error) error { return errStore }

	if _, err := RunRegister(context.Background(), aliceInput(), deps); !errors.Is(err, errStore) {
		t.Fatalf("expected mapped store error, got %v", err)
	}
}

func TestRunRegisterNotReady(t *testing.T) {
	h := newHarness(t)
	deps := h.registration()
	deps.Hasher = nil
	if _, err := RunRegister(context.Background(), aliceInput(), deps); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestRunVerifyEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := RunRegister(ctx, aliceInput(), h.registration()); err != nil {
		t.Fatalf("register: %v", err)
	}
	code := h.mail.last("alice@test.com")

	if _, err := RunVerifyEmail(ctx, "nobody@test.com", code, h.registration()); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := RunVerifyEmail(ctx, "alice@test.com", "000000", h.registration()); !errors.Is(err, errInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}

	summary, err := RunVerifyEmail(ctx, "ALICE@test.com", code, h.registration())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if summary.Status != account.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", summary.Status)
	}
	if acc := h.store.get(t, "alice@test.com"); acc.PendingCode != nil {
		t.Fatalf("code must be cleared, got %+v", acc.PendingCode)
	}

	if _, err := RunVerifyEmail(ctx, "alice@test.com", code, h.registration()); !errors.Is(err, errVerified) {
		t.Fatalf("expected already verified, got %v", err)
	}
}

func TestRunVerifyEmailExpiredBeforeMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := RunRegister(ctx, aliceInput(), h.registration()); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.clock.now = h.clock.now.Add(15 * time.Minute)
	code := h.mail.last("alice@test.com")
	h.clock.now = h.clock.now.Add(time.Second)

	if _, err := RunVerifyEmail(ctx, "alice@test.com", "999999", h.registration()); !errors.Is(err, errExpired) {
		t.Fatalf("expected expired for wrong code past expiry, got %v", err)
	}
	if _, err := RunVerifyEmail(ctx, "alice@test.com", code, h.registration()); !errors.Is(err, errExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestRunVerifyEmailAtExactExpirySucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := RunRegister(ctx, aliceInput(), h.registration()); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.clock.now = h.clock.now.Add(15 * time.Minute)
	if _, err := RunVerifyEmail(ctx, "alice@test.com", h.mail.last("alice@test.com"), h.registration()); err != nil {
		t.Fatalf("code must be valid at its expiry instant: %v", err)
	}
}

func TestRunVerifyEmailRejectsPaddedCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := RunRegister(ctx, aliceInput(), h.registration()); err != nil {
		t.Fatalf("register: %v", err)
	}
	code := h.mail.last("alice@test.com")

	for _, presented := range []string{" " + code, code + "\n", "\t" + code + " "} {
		if _, err := RunVerifyEmail(ctx, "alice@test.com", presented, h.registration()); !errors.Is(err, errInvalidCode) {
			t.Fatalf("padded code %q: expected invalid code, got %v", presented, err)
		}
	}
	if got := h.store.get(t, "alice@test.com").Status; got != account.StatusPending {
		t.Fatalf("padded code must not activate the account, got %s", got)
	}
	if _, err := RunVerifyEmail(ctx, "alice@test.com", code, h.registration()); err != nil {
		t.Fatalf("exact code: %v", err)
	}
}

func TestRunResendVerificationReplacesCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := RunRegister(ctx, aliceInput(), h.registration()); err != nil {
		t.Fatalf("register: %v", err)
	}
	first := h.mail.last("alice@test.com")

	if _, err := RunResendVerification(ctx, "alice@test.com", h.registration()); err != nil {
		t.Fatalf("resend: %v", err)
	}
	second := h.mail.last("alice@test.com")
	if first == second {
		t.Fatal("expected a new code")
	}
	if _, err := RunVerifyEmail(ctx, "alice@test.com", first, h.registration()); !errors.Is(err, errInvalidCode) {
		t.Fatalf("old code must no longer work, got %v", err)
	}
	if _, err := RunVerifyEmail(ctx, "alice@test.com", second, h.registration()); err != nil {
		t.Fatalf("new code must work: %v", err)
	}
	if _, err := RunResendVerification(ctx, "alice@test.com", h.registration()); !errors.Is(err, errVerified) {
		t.Fatalf("expected already verified, got %v", err)
	}
}

func TestRunResendVerificationKeepsCodeOnMailFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := RunRegister(ctx, aliceInput(), h.registration()); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := h.store.get(t, "alice@test.com").PendingCode.Value

	h.mail.fail = true
	if _, err := RunResendVerification(ctx, "alice@test.com", h.registration()); !errors.Is(err, errMail) {
		t.Fatalf("expected mail error, got %v", err)
	}
	after := h.store.get(t, "alice@test.com").PendingCode
	if after == nil || after.Value == before {
		t.Fatalf("expected the new code to stay persisted, got %+v", after)
	}
}

func TestRunResendVerificationUnknownEmail(t *testing.T) {
	h := newHarness(t)
	if _, err := RunResendVerification(context.Background(), "ghost@test.com", h.registration()); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
