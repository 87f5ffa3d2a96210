package channel

import (
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/pkg/pool"
)

// Instance is one live, addressable target within a dynamic channel, such as
// a single touch contact. It accumulates the parameters of every create and
// control message addressed to it.
type Instance struct {
	identifier string
	Parameters message.ParameterSet

	handle pool.Handle
}

// Identifier returns the instance id.
func (i *Instance) Identifier() string {
	return i.identifier
}

func (i *Instance) reset() {
	i.identifier = ""
	i.Parameters.Reset()
}

// InstancePool recycles instances for every controller sharing a Runtime.
type InstancePool struct {
	slab     *pool.Slab[Instance]
	detached uint64
}

// NewInstancePool creates an instance pool. Options are passed to the slab;
// the reset hook is always installed.
func NewInstancePool(options ...pool.Option[Instance]) (*InstancePool, error) {
	options = append(options, pool.WithReset(func(i *Instance) { i.reset() }))
	slab, err := pool.New(options...)
	if err != nil {
		return nil, errors.Wrap(err, "InstancePool", "NewInstancePool", "create instance slab")
	}
	return &InstancePool{slab: slab}, nil
}

// Get returns an empty instance named identifier. When the pool is at its
// limit the instance is detached and Put ignores it.
func (p *InstancePool) Get(identifier string) *Instance {
	inst, h, err := p.slab.Acquire()
	if err != nil {
		p.detached++
		return &Instance{identifier: identifier}
	}
	inst.handle = h
	inst.identifier = identifier
	return inst
}

// Put returns inst to the pool.
func (p *InstancePool) Put(inst *Instance) error {
	if inst == nil || !inst.handle.Valid() {
		return nil
	}
	return p.slab.Release(inst.handle)
}

// InUse returns the number of pooled instances handed out.
func (p *InstancePool) InUse() int {
	return p.slab.InUse()
}

// Detached returns how many instances were handed out unpooled.
func (p *InstancePool) Detached() uint64 {
	return p.detached
}
