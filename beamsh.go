// Package beamsh holds the shared domain types for the beamline session
// launcher: device categories, the device interface, and the ordered
// namespace that load steps populate.
package beamsh

// Category is a semantic tag a device declares for itself. The session
// loader groups devices into derived namespaces by tag rather than by
// inspecting runtime type names.
type Category string

const (
	CategoryMotor    Category = "motor"
	CategorySlit     Category = "slit"
	CategoryDetector Category = "detector"
	CategorySignal   Category = "signal"
)

// Device is the minimal surface every loaded hardware object exposes.
type Device interface {
	// Name is the session-unique object name, also used as the log
	// source tag.
	Name() string

	// Categories lists the semantic groups this device belongs to.
	Categories() []Category

	// Describe returns a one-line human description for hint tables
	// and the session manifest.
	Describe() string
}

// HasCategory reports whether d declares the given category.
func HasCategory(d Device, cat Category) bool {
	for _, c := range d.Categories() {
		if c == cat {
			return true
		}
	}
	return false
}
