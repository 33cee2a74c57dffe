package core

// HostModule represents an external package that wishes to register
// additional named host built-ins. Implementations call the provided
// registrar for each built-in they expose.
type HostModule interface {
	Register(func(name string, fn BuiltinFunc))
}

// RegisterModule loads a module into the dispatcher using RegisterBuiltin.
// Nil modules are ignored to simplify optional wiring.
func RegisterModule(m HostModule) {
	if m == nil {
		return
	}
	m.Register(RegisterBuiltin)
}
