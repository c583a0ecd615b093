package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/storage"
	"github.com/jmcleod/sessionguard/storage/memory"
)

// twoTabs starts two machines on one hub and one scheduler, with the auth
// handle holding a credential.
func twoTabs(t *testing.T) (*memory.Hub, *eventloop.Manual, *memory.Store, *tab, *tab) {
	t.Helper()
	hub := memory.NewHub()
	auth := hub.OpenAs("auth")
	require.NoError(t, auth.Set(context.Background(), "token", "t"))

	sched := eventloop.NewManual(epoch)
	a := newTab(t, hub, sched, testConfig()).start(t)
	b := newTab(t, hub, sched, testConfig()).start(t)
	sched.Flush()
	return hub, sched, auth, a, b
}

func TestCrossTab_RemoteActivityClosesWarning(t *testing.T) {
	_, sched, _, a, b := twoTabs(t)

	sched.Advance(10 * time.Second)
	require.True(t, a.m.State().ModalOpen)
	require.True(t, b.m.State().ModalOpen)
	aWrote := lastActivity(t, a.store)

	b.m.ContinueSession()
	sched.Flush()
	assert.False(t, a.m.State().ModalOpen)
	assert.False(t, a.rec.renders[len(a.rec.renders)-1].IsOpen)
	assert.NotEqual(t, aWrote, lastActivity(t, a.store))

	sched.Advance(10*time.Second - time.Millisecond)
	assert.False(t, a.m.State().ModalOpen)
	sched.Advance(time.Millisecond)
	assert.True(t, a.m.State().ModalOpen)
	assert.Empty(t, a.rec.logouts)
}

func TestCrossTab_RemoteActivityPostponesTimeout(t *testing.T) {
	_, sched, _, a, b := twoTabs(t)

	sched.Advance(6 * time.Second)
	b.m.NotifyActivity()
	sched.Advance(6 * time.Second)
	assert.False(t, a.m.State().ModalOpen)

	sched.Advance(4 * time.Second)
	assert.True(t, a.m.State().ModalOpen, "a's deadline moved out with b's activity")
	assert.Equal(t, 1, a.rec.inactivity)
}

func TestCrossTab_LostToken(t *testing.T) {
	ctx := context.Background()
	_, sched, auth, a, b := twoTabs(t)

	require.NoError(t, auth.Delete(ctx, "token"))
	sched.Advance(499 * time.Millisecond)
	assert.Empty(t, a.rec.logouts, "check is debounced")

	sched.Advance(time.Millisecond)
	assert.Equal(t, []logoutCall{{LogoutLostToken, false}}, a.rec.logouts)
	assert.Equal(t, []logoutCall{{LogoutLostToken, false}}, b.rec.logouts)

	_, err := a.store.Get(ctx, LogoutCauseKey)
	assert.ErrorIs(t, err, storage.ErrNotFound, "remote logouts leave no marker")

	sched.Advance(time.Hour)
	assert.Len(t, a.rec.logouts, 1)
}

func TestCrossTab_ButtonLogoutPropagatesCause(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	auth := hub.OpenAs("auth")
	require.NoError(t, auth.Set(ctx, "token", "t"))
	sched := eventloop.NewManual(epoch)

	a := newTab(t, hub, sched, testConfig()).start(t)
	var b *tab
	b = newTab(t, hub, sched, testConfig(), WithHooks(Hooks{
		OnLogout: func(cause LogoutType, local bool) {
			b.rec.logouts = append(b.rec.logouts, logoutCall{cause, local})
			// The application drops the credential after logging out.
			require.NoError(t, b.store.Delete(ctx, "token"))
		},
	})).start(t)

	b.m.LogoutClick()
	sched.Advance(time.Second)

	assert.Equal(t, []logoutCall{{LogoutButton, true}}, b.rec.logouts)
	assert.Equal(t, []logoutCall{{LogoutButton, false}}, a.rec.logouts)
}

func TestCrossTab_TransientRewriteIsIgnored(t *testing.T) {
	ctx := context.Background()
	_, sched, auth, a, b := twoTabs(t)

	require.NoError(t, auth.Delete(ctx, "token"))
	sched.Advance(100 * time.Millisecond)
	require.NoError(t, auth.Set(ctx, "token", "refreshed"))
	sched.Advance(time.Second)

	assert.Empty(t, a.rec.logouts)
	assert.Empty(t, b.rec.logouts)
	assert.True(t, a.m.Active())
}

func TestCrossTab_ClearEndsSession(t *testing.T) {
	_, sched, auth, a, _ := twoTabs(t)

	require.NoError(t, auth.Clear(context.Background()))
	sched.Advance(time.Second)
	assert.Equal(t, []logoutCall{{LogoutLostToken, false}}, a.rec.logouts)
}

func TestCrossTab_NoTokenKeyIgnoresCredential(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	auth := hub.OpenAs("auth")
	sched := eventloop.NewManual(epoch)
	cfg := testConfig()
	cfg.StorageTokenKey = ""
	a := newTab(t, hub, sched, cfg).start(t)

	require.NoError(t, auth.Set(ctx, "token", "t"))
	require.NoError(t, auth.Delete(ctx, "token"))
	require.NoError(t, auth.Clear(ctx))
	sched.Advance(time.Second)
	assert.Empty(t, a.rec.logouts)
}

func TestCrossTabSync_DoubleRead(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	store := hub.Open()
	sched := eventloop.NewManual(epoch)

	var lost []LogoutType
	s := newCrossTabSync(ctx, store, sched, testConfig(), quietLogger(), func() {}, func(c LogoutType) { lost = append(lost, c) })

	require.NoError(t, store.Set(ctx, "token", "still-here"))
	s.checkCredential(storage.Change{Key: "token"})
	assert.Empty(t, lost, "stored value wins over the event")

	require.NoError(t, store.Delete(ctx, "token"))
	s.checkCredential(storage.Change{Key: "token", Value: "x", Present: true})
	assert.Empty(t, lost, "event carrying a value is not a loss")

	require.NoError(t, store.Set(ctx, LogoutCauseKey, "garbage"))
	s.checkCredential(storage.Change{Key: "token"})
	require.NoError(t, store.Set(ctx, LogoutCauseKey, "inactivity"))
	s.checkCredential(storage.Change{Key: "token"})
	assert.Equal(t, []LogoutType{LogoutLostToken, LogoutInactivity}, lost)
}
