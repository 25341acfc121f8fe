// host.go declares the host collaborators consumed by the crash handler.

package crashlog

// PackageInfo is the version metadata of the host application.
type PackageInfo struct {
	// VersionName is the human-readable version (e.g. "1.4.2").
	VersionName string

	// VersionCode is the monotonically increasing build number.
	VersionCode int64
}

// BuildField is one statically declared platform fact.
// Value is called once per collection; an error or panic skips the field.
type BuildField struct {
	Name  string
	Value func() (string, error)
}

// Host exposes the identity and platform facts of the running application.
type Host interface {
	// PackageName is the unique identifier of the application.
	PackageName() string

	// ApplicationName is the display name used in the report directory.
	ApplicationName() string

	// PackageInfo returns the version metadata, or an error when unavailable.
	PackageInfo() (PackageInfo, error)

	// BuildFields lists the platform facts recorded in every snapshot.
	BuildFields() []BuildField
}

// DebuggableHost is optionally implemented by hosts that know whether they
// run a debug build.
type DebuggableHost interface {
	Debuggable() bool
}

// Notifier is the user-facing notification surface.
// Both methods are fire-and-forget; the handler never waits on them.
type Notifier interface {
	// ShowMessage displays a transient message.
	ShowMessage(msg string)

	// OpenDocument asks the host to open the file at path for viewing.
	OpenDocument(path string)
}

// noopNotifier discards all notifications.
type noopNotifier struct{}

func (noopNotifier) ShowMessage(string)  {}
func (noopNotifier) OpenDocument(string) {}
