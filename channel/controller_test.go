package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
)

var contactsDecl = message.ChannelDeclaration{
	Identifier: "contacts",
	Parameters: []message.ParameterDeclaration{
		{Identifier: "position", Range: message.Range{Min: 0, Max: 1}, DefaultValue: 0.5},
		{Identifier: "pressure", Range: message.Range{Min: 0, Max: 1}, DefaultValue: 0},
	},
}

type recorder struct {
	events []string
}

func (r *recorder) listener() ListenerFuncs {
	return ListenerFuncs{
		Create:  func(_ *Controller, inst *Instance) { r.events = append(r.events, "create:"+inst.Identifier()) },
		Control: func(_ *Controller, inst *Instance) { r.events = append(r.events, "control:"+inst.Identifier()) },
		Destroy: func(_ *Controller, inst *Instance) { r.events = append(r.events, "destroy:"+inst.Identifier()) },
		Static:  func(_ *Controller, _ *message.ParameterSet) { r.events = append(r.events, "static") },
	}
}

func envelope(rt *Runtime, kind message.Kind, key message.ChannelInstanceKey, name string, values ...float64) *message.Envelope {
	env := rt.Envelopes.Get(kind, key)
	if name != "" {
		env.Parameters.Set(name, values...)
	}
	return env
}

func TestController_Lifecycle(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)
	rec := &recorder{}
	ctrl.AddListener(rec.listener())

	key := message.NewInstanceKey("touch", "contacts", "7")

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, key, "position", 0.1, 0.2)))
	inst, ok := ctrl.Instance("7")
	require.True(t, ok)
	pos, _ := inst.Parameters.Get("position")
	assert.Equal(t, []float64{0.1, 0.2}, pos)

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindControl, key, "pressure", 0.9)))
	pressure, _ := inst.Parameters.Get("pressure")
	assert.Equal(t, []float64{0.9}, pressure)
	pos, _ = inst.Parameters.Get("position")
	assert.Equal(t, []float64{0.1, 0.2}, pos, "control keeps other parameters")

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindDestroy, key, "")))
	_, ok = ctrl.Instance("7")
	assert.False(t, ok)
	assert.Equal(t, 1, rt.Instances.InUse(), "destroyed instance is held until LateUpdate")

	ctrl.LateUpdate()
	assert.Equal(t, 0, rt.Instances.InUse())

	assert.Equal(t, []string{"create:7", "control:7", "destroy:7"}, rec.events)
	stats := ctrl.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(1), stats.Destroyed)
}

func TestController_ControlCreatesMissingInstance(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)
	rec := &recorder{}
	ctrl.AddListener(rec.listener())

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindControl, message.NewInstanceKey("touch", "contacts", "9"), "pressure", 1)))
	_, ok := ctrl.Instance("9")
	assert.True(t, ok)
	assert.Equal(t, []string{"control:9"}, rec.events)
}

func TestController_DestroyUnknownInstance(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)

	var seen *Instance
	ctrl.AddListener(ListenerFuncs{Destroy: func(_ *Controller, inst *Instance) { seen = inst }})

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindDestroy, message.NewInstanceKey("touch", "contacts", "x"), "")))
	require.NotNil(t, seen, "listeners always get an instance")
	assert.Equal(t, "x", seen.Identifier())
	assert.Equal(t, 0, ctrl.LiveCount())

	ctrl.LateUpdate()
	assert.Equal(t, 0, rt.Instances.InUse())
}

func TestController_StaticControl(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)
	rec := &recorder{}
	ctrl.AddListener(rec.listener())

	def, _ := ctrl.StaticParameters().Get("position")
	assert.Equal(t, []float64{0.5}, def, "static state starts at declared defaults")

	static := message.NewStaticKey("touch", "contacts")
	require.NoError(t, ctrl.Receive(envelope(rt, message.KindControl, static, "position", 0.8)))
	pos, _ := ctrl.StaticParameters().Get("position")
	assert.Equal(t, []float64{0.8}, pos)

	// Only control is meaningful for the static target.
	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, static, "position", 0.1)))
	require.NoError(t, ctrl.Receive(envelope(rt, message.KindDestroy, static, "")))
	pos, _ = ctrl.StaticParameters().Get("position")
	assert.Equal(t, []float64{0.8}, pos)

	assert.Equal(t, []string{"static"}, rec.events)
	assert.Equal(t, 0, ctrl.LiveCount())
	assert.Equal(t, uint64(2), ctrl.Stats().Dropped)
}

func TestController_EventDropped(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)
	rec := &recorder{}
	ctrl.AddListener(rec.listener())

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindEvent, message.NewInstanceKey("touch", "contacts", "1"), "tap", 1)))
	assert.Empty(t, rec.events)
	assert.Equal(t, 0, ctrl.LiveCount())
	assert.Equal(t, uint64(1), ctrl.Stats().Dropped)
}

func TestController_RoutingMismatch(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)
	rec := &recorder{}
	ctrl.AddListener(rec.listener())

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, message.NewInstanceKey("touch", "contacts", "1"), "position", 0.3)))
	rec.events = nil
	inUse := rt.Instances.InUse()

	tests := []struct {
		name string
		key  message.ChannelInstanceKey
	}{
		{"other component", message.NewInstanceKey("mouse", "contacts", "1")},
		{"other channel", message.NewInstanceKey("touch", "gestures", "1")},
		{"other static", message.NewStaticKey("touch", "gestures")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, kind := range []message.Kind{message.KindCreate, message.KindControl, message.KindDestroy} {
				err := ctrl.Receive(envelope(rt, kind, tt.key, "position", 0.9))
				require.Error(t, err)

				var routingErr *RoutingError
				require.True(t, errors.As(err, &routingErr))
				assert.Equal(t, tt.key, routingErr.Key)
				assert.Equal(t, message.ChannelKey{Component: "touch", Channel: "contacts"}, routingErr.Controller)
				assert.True(t, errors.Is(err, errors.ErrRoutingMismatch))
				assert.True(t, errors.IsFatal(err))
			}
		})
	}

	assert.Empty(t, rec.events, "no listener fired")
	assert.Equal(t, inUse, rt.Instances.InUse(), "no instance created or released")
	inst, ok := ctrl.Instance("1")
	require.True(t, ok)
	pos, _ := inst.Parameters.Get("position")
	assert.Equal(t, []float64{0.3}, pos)
	static, _ := ctrl.StaticParameters().Get("position")
	assert.Equal(t, []float64{0.5}, static)
}

func TestController_LivePolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    LivePolicy
		wantLive  int
		wantInUse int
	}{
		{"retain live", RetainLive, 2, 2},
		{"clear each tick", ClearLiveEachTick, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := MustRuntime(nil)
			ctrl := NewController(rt, "touch", contactsDecl, WithLivePolicy(tt.policy))

			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, message.NewInstanceKey("touch", "contacts", id), "")))
			}
			require.NoError(t, ctrl.Receive(envelope(rt, message.KindDestroy, message.NewInstanceKey("touch", "contacts", "c"), "")))

			ctrl.LateUpdate()
			assert.Equal(t, tt.wantLive, ctrl.LiveCount())
			assert.Equal(t, tt.wantInUse, rt.Instances.InUse())
		})
	}
}

func TestController_ClearEachTickRequiresRecreate(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl, WithLivePolicy(ClearLiveEachTick))
	key := message.NewInstanceKey("touch", "contacts", "1")

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, key, "position", 0.2)))
	ctrl.LateUpdate()

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindControl, key, "pressure", 1)))
	inst, ok := ctrl.Instance("1")
	require.True(t, ok)
	assert.False(t, inst.Parameters.Has("position"), "state from the previous tick is gone")
}

func TestController_ListenerIsolationAndOrder(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)

	var order []string
	ctrl.AddListener(ListenerFuncs{Create: func(*Controller, *Instance) { order = append(order, "first") }})
	ctrl.AddListener(ListenerFuncs{Create: func(*Controller, *Instance) { panic("boom") }})
	remove := ctrl.AddListener(ListenerFuncs{Create: func(*Controller, *Instance) { order = append(order, "third") }})

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, message.NewInstanceKey("touch", "contacts", "1"), "")))
	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, uint64(1), ctrl.Stats().Panics)

	remove()
	remove()
	order = nil
	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, message.NewInstanceKey("touch", "contacts", "2"), "")))
	assert.Equal(t, []string{"first"}, order)
}

func TestController_RemoveDuringDispatch(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)

	var calls []string
	var removeSecond func()
	ctrl.AddListener(ListenerFuncs{Create: func(*Controller, *Instance) {
		calls = append(calls, "first")
		removeSecond()
	}})
	removeSecond = ctrl.AddListener(ListenerFuncs{Create: func(*Controller, *Instance) { calls = append(calls, "second") }})

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, message.NewInstanceKey("touch", "contacts", "1"), "")))
	assert.Equal(t, []string{"first", "second"}, calls, "removal applies from the next dispatch")
}

func TestController_Close(t *testing.T) {
	rt := MustRuntime(nil)
	ctrl := NewController(rt, "touch", contactsDecl)

	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, message.NewInstanceKey("touch", "contacts", "1"), "")))
	require.NoError(t, ctrl.Receive(envelope(rt, message.KindCreate, message.NewInstanceKey("touch", "contacts", "2"), "")))
	require.NoError(t, ctrl.Receive(envelope(rt, message.KindDestroy, message.NewInstanceKey("touch", "contacts", "2"), "")))

	ctrl.Close()
	assert.Equal(t, 0, rt.Instances.InUse())
	assert.Equal(t, 0, ctrl.LiveCount())
}

func TestParseLivePolicy(t *testing.T) {
	p, err := ParseLivePolicy("clear_each_tick")
	require.NoError(t, err)
	assert.Equal(t, ClearLiveEachTick, p)

	p, err = ParseLivePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RetainLive, p)

	_, err = ParseLivePolicy("sometimes")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}
