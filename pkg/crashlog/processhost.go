// processhost.go provides a Host describing the current Go process.

package crashlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
)

var (
	osReleasePrimary  = "/etc/os-release"
	osReleaseFallback = "/usr/lib/os-release"
)

var errNoVersion = errors.New("version metadata unavailable")

// ProcessHostOption configures a ProcessHost.
type ProcessHostOption func(*ProcessHost)

// WithVersion sets the version name and code reported by the host.
func WithVersion(name string, code int64) ProcessHostOption {
	return func(h *ProcessHost) {
		h.info = &PackageInfo{VersionName: name, VersionCode: code}
	}
}

// WithPackageName overrides the package name read from the build info.
func WithPackageName(name string) ProcessHostOption {
	return func(h *ProcessHost) {
		h.pkg = name
	}
}

// WithDebuggable marks the host as a debug build.
func WithDebuggable(debuggable bool) ProcessHostOption {
	return func(h *ProcessHost) {
		h.debuggable = debuggable
	}
}

// WithBuildField appends an extra platform fact.
func WithBuildField(name string, value func() (string, error)) ProcessHostOption {
	return func(h *ProcessHost) {
		h.extra = append(h.extra, BuildField{Name: name, Value: value})
	}
}

// WithoutOSRelease skips the os-release fields.
func WithoutOSRelease() ProcessHostOption {
	return func(h *ProcessHost) {
		h.skipRelease = true
	}
}

// ProcessHost is the stock Host for Go programs. Its build fields are the
// runtime facts of the process plus the os-release keys, prefixed "OS_".
type ProcessHost struct {
	name        string
	pkg         string
	info        *PackageInfo
	debuggable  bool
	skipRelease bool
	extra       []BuildField
	fields      []BuildField
}

// NewProcessHost creates a host named name. The package name and version
// default to the main module path and version from the embedded build info.
func NewProcessHost(name string, opts ...ProcessHostOption) *ProcessHost {
	h := &ProcessHost{name: name}
	for _, opt := range opts {
		opt(h)
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if h.pkg == "" {
			h.pkg = bi.Main.Path
		}
		if h.info == nil && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			h.info = &PackageInfo{VersionName: bi.Main.Version}
		}
	}
	if h.pkg == "" {
		h.pkg = name
	}

	h.fields = append(runtimeFields(), h.extra...)
	if !h.skipRelease {
		h.fields = append(h.fields, releaseFields()...)
	}
	return h
}

// PackageName returns the module path or the configured package name.
func (h *ProcessHost) PackageName() string { return h.pkg }

// ApplicationName returns the display name given to NewProcessHost.
func (h *ProcessHost) ApplicationName() string { return h.name }

// PackageInfo returns the configured or embedded version.
func (h *ProcessHost) PackageInfo() (PackageInfo, error) {
	if h.info == nil {
		return PackageInfo{}, errNoVersion
	}
	return *h.info, nil
}

// BuildFields returns the declared platform facts.
func (h *ProcessHost) BuildFields() []BuildField {
	return h.fields
}

// Debuggable reports whether the host was marked as a debug build.
func (h *ProcessHost) Debuggable() bool { return h.debuggable }

func constant(v string) func() (string, error) {
	return func() (string, error) { return v, nil }
}

func runtimeFields() []BuildField {
	return []BuildField{
		{Name: "GOOS", Value: constant(runtime.GOOS)},
		{Name: "GOARCH", Value: constant(runtime.GOARCH)},
		{Name: "GOVERSION", Value: constant(runtime.Version())},
		{Name: "COMPILER", Value: constant(runtime.Compiler)},
		{Name: "NUMCPU", Value: constant(strconv.Itoa(runtime.NumCPU()))},
		{Name: "PID", Value: constant(strconv.Itoa(os.Getpid()))},
		{Name: "HOSTNAME", Value: os.Hostname},
	}
}

// releaseFields reads os-release once and declares one field per key.
// Per freedesktop.org, /usr/lib/os-release is the fallback location.
func releaseFields() []BuildField {
	path := osReleasePrimary
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = osReleaseFallback
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var fields []BuildField
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		if value == "" {
			continue
		}
		fields = append(fields, BuildField{
			Name:  fmt.Sprintf("OS_%s", strings.TrimSpace(key)),
			Value: constant(value),
		})
	}
	return fields
}
