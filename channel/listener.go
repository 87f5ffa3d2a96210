package channel

import "github.com/c360/controlbus/message"

// Listener observes the lifecycle events a Controller raises. Callbacks run
// on the tick goroutine, in registration order. Instances passed to a
// callback are only valid until the end of the tick.
type Listener interface {
	OnCreateInstance(ctrl *Controller, inst *Instance)
	OnControlInstance(ctrl *Controller, inst *Instance)
	OnDestroyInstance(ctrl *Controller, inst *Instance)
	OnStaticControl(ctrl *Controller, params *message.ParameterSet)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Create  func(ctrl *Controller, inst *Instance)
	Control func(ctrl *Controller, inst *Instance)
	Destroy func(ctrl *Controller, inst *Instance)
	Static  func(ctrl *Controller, params *message.ParameterSet)
}

func (f ListenerFuncs) OnCreateInstance(ctrl *Controller, inst *Instance) {
	if f.Create != nil {
		f.Create(ctrl, inst)
	}
}

func (f ListenerFuncs) OnControlInstance(ctrl *Controller, inst *Instance) {
	if f.Control != nil {
		f.Control(ctrl, inst)
	}
}

func (f ListenerFuncs) OnDestroyInstance(ctrl *Controller, inst *Instance) {
	if f.Destroy != nil {
		f.Destroy(ctrl, inst)
	}
}

func (f ListenerFuncs) OnStaticControl(ctrl *Controller, params *message.ParameterSet) {
	if f.Static != nil {
		f.Static(ctrl, params)
	}
}

type listenerEntry struct {
	id       uint64
	listener Listener
}
