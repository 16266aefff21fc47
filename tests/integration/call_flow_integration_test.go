package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/services"
	"mpcomm/internal/infrastructure/repositories/memory"
	"mpcomm/internal/infrastructure/signal"
	"mpcomm/tests/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// participant bundles one contact's full client stack: signaling client,
// device factory and call session.
type participant struct {
	session *services.CallSession
	client  *signal.Client
	devices *testutils.MockFactory

	mu     sync.Mutex
	events []domain.Event
}

func (p *participant) recordAll(types ...domain.EventType) {
	for _, t := range types {
		p.session.On(t, func(evt domain.Event) {
			p.mu.Lock()
			p.events = append(p.events, evt)
			p.mu.Unlock()
		})
	}
}

func (p *participant) count(t domain.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, evt := range p.events {
		if evt.Type() == t {
			n++
		}
	}
	return n
}

func (p *participant) waitEvent(t *testing.T, et domain.EventType) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.count(et) > 0
	}, 5*time.Second, 10*time.Millisecond, "expected %s event", et)
}

type env struct {
	t    *testing.T
	auth services.AuthService
	url  string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	auth := services.NewAuthService("integration-secret", time.Hour)
	presence := memory.NewMemoryPresenceRepository()
	server := signal.NewWebSocketServer(auth, presence, signal.DefaultServerConfig(), zaptest.NewLogger(t).Sugar())

	httpSrv := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(httpSrv.Close)

	return &env{
		t:    t,
		auth: auth,
		url:  "ws" + strings.TrimPrefix(httpSrv.URL, "http"),
	}
}

func (e *env) join(contactID domain.ContactID) *participant {
	e.t.Helper()

	token, err := e.auth.GenerateToken(contactID, string(contactID))
	require.NoError(e.t, err)

	log := zaptest.NewLogger(e.t).Sugar()
	client := signal.NewClient(signal.DefaultClientConfig(e.url, token), log)
	devices := &testutils.MockFactory{}

	self := domain.NewFieldEndpoint(contactID, domain.Endpoint{Name: string(contactID)})
	cfg := services.DefaultSessionConfig()
	cfg.RingingTimeout = 2 * time.Second
	cfg.AnswerTimeout = 2 * time.Second

	session := services.NewCallSession(self, client, devices, cfg, nil, log)
	require.NoError(e.t, client.Connect(context.Background()))
	e.t.Cleanup(func() { client.Close() })

	p := &participant{session: session, client: client, devices: devices}
	p.recordAll(
		domain.EventInProgress, domain.EventRinging, domain.EventNewCall,
		domain.EventConnected, domain.EventArrived, domain.EventLeft,
		domain.EventBusy, domain.EventTimeout, domain.EventBye, domain.EventFailed,
	)
	return p
}

func audioOnly() domain.MediaConstraint {
	return domain.MediaConstraint{WantsAudio: true}
}

func TestCallFlow_DialAnswerHangup(t *testing.T) {
	e := newEnv(t)
	alice := e.join("alice")
	bob := e.join("bob")

	ctx := context.Background()
	err := alice.session.MakeCall(ctx, domain.NewFieldEndpoint("bob", domain.Endpoint{}), false, audioOnly())
	require.NoError(t, err)

	// Offer delivery: bob learns of the call, alice hears ringing.
	bob.waitEvent(t, domain.EventNewCall)
	alice.waitEvent(t, domain.EventRinging)

	require.NoError(t, bob.session.AnswerCall(ctx, audioOnly()))

	// The answer reaches alice's device; both transports come up.
	require.Eventually(t, func() bool {
		return alice.devices.Last() != nil && bob.devices.Last() != nil
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	alice.devices.Last().FireConnected()
	bob.devices.Last().FireConnected()

	alice.waitEvent(t, domain.EventConnected)
	bob.waitEvent(t, domain.EventConnected)
	assert.Equal(t, domain.StateConnected, alice.session.State())

	// Roster is symmetric.
	field := alice.session.GetActiveField()
	require.NotNil(t, field)
	assert.Len(t, field.GetEndpoints(), 2)

	require.NoError(t, alice.session.HangupCall(ctx))
	bob.waitEvent(t, domain.EventBye)

	require.Eventually(t, func() bool {
		return alice.session.State() == domain.StateIdle && bob.session.State() == domain.StateIdle
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCallFlow_CandidatesReachRemoteDevice(t *testing.T) {
	e := newEnv(t)
	alice := e.join("alice")
	bob := e.join("bob")

	ctx := context.Background()
	require.NoError(t, alice.session.MakeCall(ctx, domain.NewFieldEndpoint("bob", domain.Endpoint{}), false, audioOnly()))
	bob.waitEvent(t, domain.EventNewCall)
	require.NoError(t, bob.session.AnswerCall(ctx, audioOnly()))

	require.Eventually(t, func() bool {
		return alice.devices.Last() != nil && bob.devices.Last() != nil
	}, 3*time.Second, 10*time.Millisecond)

	alice.devices.Last().EmitCandidate("candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host")

	require.Eventually(t, func() bool {
		return len(bob.devices.Last().Candidates()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCallFlow_BusyWhenCalleeInCall(t *testing.T) {
	e := newEnv(t)
	alice := e.join("alice")
	bob := e.join("bob")
	carol := e.join("carol")

	ctx := context.Background()
	require.NoError(t, alice.session.MakeCall(ctx, domain.NewFieldEndpoint("bob", domain.Endpoint{}), false, audioOnly()))
	bob.waitEvent(t, domain.EventNewCall)
	require.NoError(t, bob.session.AnswerCall(ctx, audioOnly()))
	require.Eventually(t, func() bool {
		return alice.devices.Last() != nil && bob.devices.Last() != nil
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	alice.devices.Last().FireConnected()
	bob.devices.Last().FireConnected()
	bob.waitEvent(t, domain.EventConnected)

	// carol dials bob mid-call and bounces off the busy flag.
	require.NoError(t, carol.session.MakeCall(ctx, domain.NewFieldEndpoint("bob", domain.Endpoint{}), false, audioOnly()))
	carol.waitEvent(t, domain.EventBusy)
	assert.Equal(t, domain.StateIdle, carol.session.State())

	// bob's call survives untouched.
	assert.Equal(t, domain.StateConnected, bob.session.State())
}

func TestCallFlow_RingingTimeoutWhenNeverAnswered(t *testing.T) {
	e := newEnv(t)
	alice := e.join("alice")
	bob := e.join("bob")

	ctx := context.Background()
	require.NoError(t, alice.session.MakeCall(ctx, domain.NewFieldEndpoint("bob", domain.Endpoint{}), false, audioOnly()))
	bob.waitEvent(t, domain.EventNewCall)

	// bob never answers; alice's ringing timer fires.
	alice.waitEvent(t, domain.EventTimeout)
	assert.Equal(t, domain.StateIdle, alice.session.State())
}

func TestCallFlow_OfflineCalleeTimesOut(t *testing.T) {
	e := newEnv(t)
	alice := e.join("alice")

	ctx := context.Background()
	require.NoError(t, alice.session.MakeCall(ctx, domain.NewFieldEndpoint("ghost", domain.Endpoint{}), false, audioOnly()))

	alice.waitEvent(t, domain.EventTimeout)
	assert.Equal(t, domain.StateIdle, alice.session.State())
}
