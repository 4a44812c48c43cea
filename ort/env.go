// Package ort is the host side of the miniort inference runtime: the environment that
// registers execution-provider plugin libraries and enumerates their devices, and the
// sessions that negotiate, compile and run computation graphs against them.
//
// The usual sequence mirrors the plugin lifecycle end to end:
//
//	env := ort.NewEnv()
//	err := env.RegisterExecutionProviderLibrary("SampleEP", "/path/libsample_ep.so")
//	devices := env.EpDevices()
//	so := &ort.SessionOptions{}
//	err = so.AppendExecutionProviderForDevices(subset, nil)
//	session, err := ort.NewSession(env, serializedModel, so)
//	outputs, err := session.Run(ctx, inputs)
//	err = session.Close()
//	err = env.UnregisterExecutionProviderLibrary("SampleEP")
//
// Each Env is independent state: there is no package-level environment, so tests build
// and tear down as many as they need. The only process-global state is the additive
// in-process plugin catalog in the ep package.
package ort

import (
	"sync"

	"github.com/google/uuid"
	"github.com/miniort/miniort/internal/hwinfo"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/ort/ep/cpuep"
	"github.com/miniort/miniort/ort/ep/nativeep"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Version of the miniort runtime.
const Version = "0.1.0"

// Env owns the per-process runtime state: the discovered hardware, the registered
// plugin libraries and the sessions currently alive. Safe for concurrent use.
type Env struct {
	mu        sync.Mutex
	hardware  []ep.DeviceInfo
	builtin   ep.Factory
	libraries []*registeredLibrary
	sessions  map[*Session]struct{}
	closed    bool
}

// registeredLibrary is one registered plugin: the logical name it was registered under,
// the path it came from, and the factories it yielded.
type registeredLibrary struct {
	name      string
	path      string
	library   ep.Library
	factories []ep.Factory
}

// EnvOption configures an Env being created by NewEnv.
type EnvOption func(*Env)

// WithHardware overrides hardware discovery with a fixed device list. Tests use it to
// get deterministic device enumeration.
func WithHardware(devices []ep.DeviceInfo) EnvOption {
	return func(env *Env) {
		env.hardware = devices
	}
}

// NewEnv creates an environment with the built-in CPU provider installed and the host
// hardware discovered (unless overridden with WithHardware).
func NewEnv(opts ...EnvOption) *Env {
	env := &Env{
		builtin:  cpuep.Factory{},
		sessions: make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(env)
	}
	if env.hardware == nil {
		env.hardware = hwinfo.Devices()
	}
	klog.V(1).Infof("miniort: environment created, %d hardware device(s)", len(env.hardware))
	return env
}

// RegisterExecutionProviderLibrary registers a plugin library under a logical name.
//
// The path is resolved in two steps: if its library stem matches an entry of the
// in-process catalog (see ep.Register) that entry is opened, otherwise the path is
// loaded as a native plugin library. The library's factories are created with the
// logical name; some plugins derive their provider names from it.
//
// Registering an already-registered name fails with RegistrationError, as does any
// load or factory-creation failure.
func (env *Env) RegisterExecutionProviderLibrary(name, path string) error {
	if name == "" {
		return &RegistrationError{Name: name, Path: path, Reason: "registration name must not be empty"}
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.closed {
		return &RegistrationError{Name: name, Path: path, Reason: "environment is closed"}
	}
	for _, lib := range env.libraries {
		if lib.name == name {
			return &RegistrationError{Name: name, Path: path, Reason: "name is already registered"}
		}
	}

	var library ep.Library
	var err error
	if open, found := ep.Lookup(ep.Stem(path)); found {
		klog.V(1).Infof("miniort: resolving library %q in-process (stem %q)", path, ep.Stem(path))
		library, err = open()
		if err != nil {
			return &RegistrationError{Name: name, Path: path, Reason: "opening in-process library", Cause: err}
		}
	} else {
		library, err = nativeep.Open(path)
		if err != nil {
			return &RegistrationError{Name: name, Path: path, Reason: "library cannot be loaded", Cause: err}
		}
	}

	factories, err := library.CreateFactories(name)
	if err != nil {
		_ = library.Close()
		return &RegistrationError{Name: name, Path: path, Reason: "creating factories", Cause: err}
	}
	if len(factories) == 0 {
		_ = library.Close()
		return &RegistrationError{Name: name, Path: path, Reason: "library yields no factories"}
	}
	env.libraries = append(env.libraries, &registeredLibrary{
		name:      name,
		path:      path,
		library:   library,
		factories: factories,
	})
	klog.V(1).Infof("miniort: registered library %q from %s (%d factory(ies))", name, path, len(factories))
	return nil
}

// UnregisterExecutionProviderLibrary closes and removes a registered library.
//
// It fails with UnregistrationError if the name is unknown or if any live session still
// holds a provider created from this library: sessions must be closed before the
// library that backs them is unregistered.
func (env *Env) UnregisterExecutionProviderLibrary(name string) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	idx := -1
	for ii, lib := range env.libraries {
		if lib.name == name {
			idx = ii
			break
		}
	}
	if idx < 0 {
		return &UnregistrationError{Name: name, Reason: "library is not registered"}
	}
	for session := range env.sessions {
		if session.usesLibrary(name) {
			return &UnregistrationError{
				Name:   name,
				Reason: "session " + session.ID() + " still holds providers from the library",
			}
		}
	}
	lib := env.libraries[idx]
	env.libraries = append(env.libraries[:idx], env.libraries[idx+1:]...)
	if err := lib.library.Close(); err != nil {
		return &UnregistrationError{Name: name, Reason: "closing library", Cause: err}
	}
	klog.V(1).Infof("miniort: unregistered library %q", name)
	return nil
}

// EpDevice pairs one execution provider with one hardware device it can drive: the
// provider identification on one side and the hardware descriptor on the other. Values
// are snapshots produced by EpDevices; the unexported fields tie a value back to the
// factory that produced it.
type EpDevice struct {
	EpName     string
	EpVendor   string
	EpVendorID uint32
	EpVersion  string
	Device     ep.DeviceInfo

	factory     ep.Factory
	libraryName string // registration name, empty for the built-in provider
}

// String implements fmt.Stringer.
func (d EpDevice) String() string {
	return d.EpName + " on " + d.Device.String()
}

// EpDevices enumerates every (execution provider, hardware device) pair currently
// available: the built-in CPU provider first, then each registered library's factories
// in registration order. The order is stable as long as the set of registered libraries
// is unchanged.
func (env *Env) EpDevices() []EpDevice {
	env.mu.Lock()
	defer env.mu.Unlock()
	var devices []EpDevice
	appendFactory := func(factory ep.Factory, libraryName string) {
		vendor, vendorID := factory.Vendor()
		for _, hw := range factory.SupportedDevices(env.hardware) {
			devices = append(devices, EpDevice{
				EpName:      factory.Name(),
				EpVendor:    vendor,
				EpVendorID:  vendorID,
				EpVersion:   factory.Version(),
				Device:      hw,
				factory:     factory,
				libraryName: libraryName,
			})
		}
	}
	appendFactory(env.builtin, "")
	for _, lib := range env.libraries {
		for _, factory := range lib.factories {
			appendFactory(factory, lib.name)
		}
	}
	return devices
}

// Close unregisters every remaining library, in reverse registration order. It fails
// without touching anything if sessions are still open. Idempotent.
func (env *Env) Close() error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.closed {
		return nil
	}
	if len(env.sessions) > 0 {
		return errors.Errorf("closing environment: %d session(s) still open", len(env.sessions))
	}
	var firstErr error
	for ii := len(env.libraries) - 1; ii >= 0; ii-- {
		lib := env.libraries[ii]
		if err := lib.library.Close(); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "closing library %q", lib.name)
		}
	}
	env.libraries = nil
	env.closed = true
	klog.V(1).Infof("miniort: environment closed")
	return firstErr
}

// registered reports whether a library name is currently registered. The empty name
// stands for the built-in provider and is always available.
func (env *Env) registered(name string) bool {
	if name == "" {
		return true
	}
	for _, lib := range env.libraries {
		if lib.name == name {
			return true
		}
	}
	return false
}

// attachSession adds a session to the live set, re-checking that the libraries it uses
// are still registered (they were bound before the session finished compiling).
func (env *Env) attachSession(s *Session) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.closed {
		return errors.New("environment is closed")
	}
	for name := range s.libraries {
		if !env.registered(name) {
			return errors.Errorf("library %q was unregistered while the session was being created", name)
		}
	}
	env.sessions[s] = struct{}{}
	return nil
}

func (env *Env) detachSession(s *Session) {
	env.mu.Lock()
	defer env.mu.Unlock()
	delete(env.sessions, s)
}

// newSessionID returns the uuid used to identify a session in logs and errors.
func newSessionID() string {
	return uuid.NewString()
}
