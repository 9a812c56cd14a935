package store

// Capability carries the identity and access flags every backend exposes.
// Backends embed it to satisfy Name, Readable and Writable.
type Capability struct {
	name     string
	readable bool
	writable bool
}

func NewCapability(name string, readable, writable bool) Capability {
	return Capability{name: name, readable: readable, writable: writable}
}

// CapabilityOf derives the capability of a spec.
func CapabilityOf(spec Spec) Capability {
	name := spec.Name
	if name == "" {
		name = string(spec.Kind)
	}
	return NewCapability(name, spec.Readable, spec.Writable)
}

func (c Capability) Name() string   { return c.name }
func (c Capability) Readable() bool { return c.readable }
func (c Capability) Writable() bool { return c.writable }
