package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/notify"
	"github.com/campusworks/portalauth/internal/auth/session"
	sqlitestore "github.com/campusworks/portalauth/internal/auth/store/drivers/sqlite"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/idx"
)

const testCipherKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

const testPassword = "Correct-Horse7!battery"

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "portalauth-service-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

// fakeClock is a movable test clock shared by every service in an env.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// manualScheduler captures deferred jobs so tests fire them explicitly.
type manualScheduler struct {
	mu   sync.Mutex
	jobs map[string]func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{jobs: make(map[string]func())}
}

func (s *manualScheduler) Schedule(key string, _ time.Duration, fn func()) {
	s.mu.Lock()
	s.jobs[key] = fn
	s.mu.Unlock()
}

func (s *manualScheduler) Cancel(key string) {
	s.mu.Lock()
	delete(s.jobs, key)
	s.mu.Unlock()
}

// Fire runs and removes the job for key, reporting whether one was armed.
func (s *manualScheduler) Fire(key string) bool {
	s.mu.Lock()
	fn, ok := s.jobs[key]
	delete(s.jobs, key)
	s.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

type env struct {
	store    *sqlitestore.Store
	sessions *session.Manager
	notifier *notify.Recorder
	cipher   *cryptox.TokenCipher
	clock    *fakeClock
	sched    *manualScheduler

	login        *LoginService
	otp          *OTPService
	guard        *SessionService
	password     *PasswordService
	deactivation *DeactivationService
	accounts     *AccountService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st, err := sqlitestore.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	cipher, err := cryptox.NewTokenCipher(testCipherKey)
	require.NoError(t, err)

	e := &env{
		store:    st,
		sessions: session.NewManager(),
		notifier: &notify.Recorder{},
		cipher:   cipher,
		clock:    &fakeClock{t: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)},
		sched:    newManualScheduler(),
	}

	e.login = &LoginService{
		Store:    st,
		Sessions: e.sessions,
		Notifier: e.notifier,
		Cipher:   cipher,
		Now:      e.clock.Now,
	}
	e.otp = &OTPService{
		Store:    st,
		Sessions: e.sessions,
		Notifier: e.notifier,
		Cipher:   cipher,
		Now:      e.clock.Now,
	}
	e.guard = &SessionService{
		Store:    st,
		Sessions: e.sessions,
		Cipher:   cipher,
		Now:      e.clock.Now,
	}
	e.password = &PasswordService{
		Store:    st,
		Sessions: e.sessions,
		Notifier: e.notifier,
		Cipher:   cipher,
		Now:      e.clock.Now,
		Sleep:    func(time.Duration) {},
		ResetURL: "https://portal.example.edu/reset",
	}
	e.deactivation = &DeactivationService{
		Store:     st,
		Sessions:  e.sessions,
		Notifier:  e.notifier,
		Scheduler: e.sched,
		Now:       e.clock.Now,
	}
	e.accounts = &AccountService{Store: st, Now: e.clock.Now}
	return e
}

// createAccount provisions an account directly in the store with testPassword
// already past its first login.
func (e *env) createAccount(t *testing.T, email string) domain.Account {
	t.Helper()

	hash, err := cryptox.HashSecret(testPassword)
	require.NoError(t, err)

	changed := e.clock.Now().Add(-48 * time.Hour)
	acct := domain.Account{
		ID:                idx.New(),
		Email:             email,
		Name:              "Test Account",
		Role:              domain.RoleStudent,
		PasswordHash:      hash,
		PasswordChangedAt: &changed,
		ActiveState:       domain.AccountActive,
	}
	require.NoError(t, e.store.Accounts().Create(context.Background(), acct))

	got, err := e.store.Accounts().GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	return got
}

// loginVerified walks the full two-factor login and returns an authenticated
// session id.
func (e *env) loginVerified(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()

	res, err := e.login.Login(ctx, email, testPassword, "")
	require.NoError(t, err)

	otp := e.lastOTP(t)
	_, err = e.otp.Verify(ctx, res.SessionID, otp)
	require.NoError(t, err)
	return res.SessionID
}

// lastOTP pulls the most recently notified passcode out of the recorder.
func (e *env) lastOTP(t *testing.T) string {
	t.Helper()

	sent := e.notifier.ByKind(notify.KindOTPIssued)
	require.NotEmpty(t, sent)
	otp := sent[len(sent)-1].Data["otp"]
	require.NotEmpty(t, otp)
	return otp
}

// account re-reads an account row by id.
func (e *env) account(t *testing.T, id idx.ID) domain.Account {
	t.Helper()
	acct, err := e.store.Accounts().GetByID(context.Background(), id)
	require.NoError(t, err)
	return acct
}
