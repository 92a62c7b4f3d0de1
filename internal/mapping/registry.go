package mapping

import (
	"fmt"

	"github.com/supby/tuyazigbee/internal/datapoint"
)

const defaultEndpoint = 1

type overrideKey struct {
	manufacturer string
	deviceType   string
}

// Warning reports a capability exposed by more than one writable datapoint of
// the same table. Kept is the datapoint used for writes.
type Warning struct {
	DeviceType   string
	Manufacturer string
	Capability   string
	Kept         uint8
	Ignored      uint8
}

func (w Warning) String() string {
	table := w.DeviceType
	if w.Manufacturer != "" {
		table = fmt.Sprintf("%v/%v", w.Manufacturer, w.DeviceType)
	}

	return fmt.Sprintf("%v: capability %q is writable through dp %d and dp %d, dp %d wins",
		table, w.Capability, w.Kept, w.Ignored, w.Kept)
}

// Registry is the immutable (device type, datapoint) -> capability lookup.
// It is safe for concurrent use.
type Registry struct {
	deviceTypes      map[string]DeviceType
	generic          map[string]map[uint8]Entry
	overrides        map[overrideKey]map[uint8]Entry
	reverse          map[string]map[string]Entry
	reverseOverrides map[overrideKey]map[string]Entry
	fingerprints     []Fingerprint
}

// Resolve finds the entry for a datapoint, checking the manufacturer's
// override table before the generic table of the device type.
func (r *Registry) Resolve(deviceType, manufacturer string, dp uint8) (Entry, bool) {
	if table, ok := r.overrides[overrideKey{manufacturer, deviceType}]; ok {
		if e, ok := table[dp]; ok {
			return e, true
		}
	}

	e, ok := r.generic[deviceType][dp]
	return e, ok
}

// ResolveCapability finds the writable entry for a capability.
func (r *Registry) ResolveCapability(deviceType, manufacturer, capability string) (Entry, bool) {
	if table, ok := r.reverseOverrides[overrideKey{manufacturer, deviceType}]; ok {
		e, ok := table[capability]
		return e, ok
	}

	e, ok := r.reverse[deviceType][capability]
	return e, ok
}

// ResolveClass finds the first readable entry of a device type written through
// a standard cluster class, used for plain ZCL attribute reports.
func (r *Registry) ResolveClass(deviceType, manufacturer string, class Class) (Entry, bool) {
	for _, e := range r.Entries(deviceType, manufacturer) {
		if e.Actuation == class && e.Readable() {
			return e, true
		}
	}

	return Entry{}, false
}

// Capabilities lists every capability a device type exposes, in datapoint order.
func (r *Registry) Capabilities(deviceType, manufacturer string) []string {
	seen := map[string]bool{}
	var ret []string

	for _, e := range r.Entries(deviceType, manufacturer) {
		if !seen[e.CapabilityID] {
			seen[e.CapabilityID] = true
			ret = append(ret, e.CapabilityID)
		}
	}

	return ret
}

// Entries returns the effective table of a device type for a manufacturer, in
// datapoint order.
func (r *Registry) Entries(deviceType, manufacturer string) []Entry {
	merged := map[uint8]Entry{}
	for dp, e := range r.generic[deviceType] {
		merged[dp] = e
	}
	for dp, e := range r.overrides[overrideKey{manufacturer, deviceType}] {
		merged[dp] = e
	}

	ret := make([]Entry, 0, len(merged))
	for dp := 0; dp <= 0xff; dp++ {
		if e, ok := merged[uint8(dp)]; ok {
			ret = append(ret, e)
		}
	}

	return ret
}

func (r *Registry) DeviceType(name string) (DeviceType, bool) {
	dt, ok := r.deviceTypes[name]
	return dt, ok
}

// Match returns the device type for what a node reports in its Basic cluster.
// Exact (manufacturer, model) fingerprints win over model-only ones.
func (r *Registry) Match(manufacturer, model string) (string, bool) {
	fallback := ""
	for _, fp := range r.fingerprints {
		if fp.Model != model {
			continue
		}
		if fp.Manufacturer == manufacturer {
			return fp.DeviceType, true
		}
		if fp.Manufacturer == "" && fallback == "" {
			fallback = fp.DeviceType
		}
	}

	return fallback, fallback != ""
}

// ApplyTransform converts a decoded datapoint value into the capability value.
func ApplyTransform(e Entry, v interface{}) (interface{}, error) {
	return e.Transform.FromDevice(v)
}

// ReverseTransform converts a capability value into the datapoint value.
func ReverseTransform(e Entry, v interface{}) (interface{}, error) {
	return e.Transform.ToDevice(v)
}

// Builder collects device types, entries and fingerprints and validates them
// into a Registry. Adding an entry for an existing (device type, dp) replaces it.
type Builder struct {
	deviceTypes  []DeviceType
	generic      []Entry
	overrides    map[overrideKey][]Entry
	overrideKeys []overrideKey
	fingerprints []Fingerprint
}

func NewBuilder() *Builder {
	return &Builder{
		overrides: make(map[overrideKey][]Entry),
	}
}

func (b *Builder) AddDeviceType(dt DeviceType) *Builder {
	for i := range b.deviceTypes {
		if b.deviceTypes[i].Name == dt.Name {
			b.deviceTypes[i] = dt
			return b
		}
	}

	b.deviceTypes = append(b.deviceTypes, dt)
	return b
}

func (b *Builder) Add(e Entry) *Builder {
	b.generic = upsert(b.generic, e)
	return b
}

func (b *Builder) AddOverride(manufacturer string, e Entry) *Builder {
	key := overrideKey{manufacturer, e.DeviceType}
	if _, ok := b.overrides[key]; !ok {
		b.overrideKeys = append(b.overrideKeys, key)
	}

	b.overrides[key] = upsert(b.overrides[key], e)
	return b
}

func (b *Builder) AddFingerprint(fp Fingerprint) *Builder {
	b.fingerprints = append(b.fingerprints, fp)
	return b
}

func upsert(entries []Entry, e Entry) []Entry {
	for i := range entries {
		if entries[i].DeviceType == e.DeviceType && entries[i].DatapointID == e.DatapointID {
			entries[i] = e
			return entries
		}
	}

	return append(entries, e)
}

// Build validates the structural shape of every entry and freezes the tables.
// Warnings list capabilities exposed by several writable datapoints.
func (b *Builder) Build() (*Registry, []Warning, error) {
	r := &Registry{
		deviceTypes:      make(map[string]DeviceType),
		generic:          make(map[string]map[uint8]Entry),
		overrides:        make(map[overrideKey]map[uint8]Entry),
		reverse:          make(map[string]map[string]Entry),
		reverseOverrides: make(map[overrideKey]map[string]Entry),
		fingerprints:     append([]Fingerprint{}, b.fingerprints...),
	}

	for _, dt := range b.deviceTypes {
		if dt.Name == "" {
			return nil, nil, fmt.Errorf("%w: device type without a name", ErrInvalidEntry)
		}
		if dt.Endpoint == 0 {
			dt.Endpoint = defaultEndpoint
		}
		r.deviceTypes[dt.Name] = dt
	}

	var warnings []Warning

	byType := map[string][]Entry{}
	var typeOrder []string
	for _, e := range b.generic {
		if err := validate(e); err != nil {
			return nil, nil, err
		}
		if _, ok := byType[e.DeviceType]; !ok {
			typeOrder = append(typeOrder, e.DeviceType)
		}
		byType[e.DeviceType] = append(byType[e.DeviceType], normalize(e))
	}

	for _, deviceType := range typeOrder {
		r.ensureDeviceType(deviceType)

		table := make(map[uint8]Entry)
		for _, e := range byType[deviceType] {
			table[e.DatapointID] = e
		}
		r.generic[deviceType] = table

		rev, w := reverseTable(byType[deviceType], "")
		r.reverse[deviceType] = rev
		warnings = append(warnings, w...)
	}

	for _, key := range b.overrideKeys {
		table := make(map[uint8]Entry)
		for _, e := range b.overrides[key] {
			if err := validate(e); err != nil {
				return nil, nil, fmt.Errorf("override %v: %w", key.manufacturer, err)
			}
			table[e.DatapointID] = normalize(e)
		}
		r.ensureDeviceType(key.deviceType)
		r.overrides[key] = table

		// Reverse lookups see the generic table with the overridden datapoints replaced.
		var merged []Entry
		for _, e := range byType[key.deviceType] {
			if o, ok := table[e.DatapointID]; ok {
				e = o
			}
			merged = append(merged, e)
		}
		for _, o := range b.overrides[key] {
			if _, ok := r.generic[key.deviceType][o.DatapointID]; !ok {
				merged = append(merged, normalize(o))
			}
		}

		rev, w := reverseTable(merged, key.manufacturer)
		r.reverseOverrides[key] = rev
		warnings = append(warnings, w...)
	}

	for _, fp := range r.fingerprints {
		if _, ok := r.deviceTypes[fp.DeviceType]; !ok {
			return nil, nil, fmt.Errorf("%w: fingerprint %v/%v points to unknown device type %q",
				ErrInvalidEntry, fp.Manufacturer, fp.Model, fp.DeviceType)
		}
	}

	return r, warnings, nil
}

func (r *Registry) ensureDeviceType(name string) {
	if _, ok := r.deviceTypes[name]; !ok {
		r.deviceTypes[name] = DeviceType{Name: name, Endpoint: defaultEndpoint}
	}
}

func reverseTable(entries []Entry, manufacturer string) (map[string]Entry, []Warning) {
	rev := make(map[string]Entry)
	var warnings []Warning

	for _, e := range entries {
		if !e.Writable() {
			continue
		}
		if kept, ok := rev[e.CapabilityID]; ok {
			warnings = append(warnings, Warning{
				DeviceType:   e.DeviceType,
				Manufacturer: manufacturer,
				Capability:   e.CapabilityID,
				Kept:         kept.DatapointID,
				Ignored:      e.DatapointID,
			})
			continue
		}
		rev[e.CapabilityID] = e
	}

	return rev, warnings
}

func normalize(e Entry) Entry {
	if e.Actuation == "" {
		e.Actuation = ClassDatapoint
	}

	return e
}

func validate(e Entry) error {
	if e.DeviceType == "" {
		return fmt.Errorf("%w: dp %d has no device type", ErrInvalidEntry, e.DatapointID)
	}
	if e.CapabilityID == "" {
		return fmt.Errorf("%w: %v dp %d has no capability", ErrInvalidEntry, e.DeviceType, e.DatapointID)
	}
	if e.Transform == nil {
		return fmt.Errorf("%w: %v dp %d has no transform", ErrInvalidEntry, e.DeviceType, e.DatapointID)
	}
	if e.Direction < DirectionRead || e.Direction > DirectionBoth {
		return fmt.Errorf("%w: %v dp %d has no direction", ErrInvalidEntry, e.DeviceType, e.DatapointID)
	}

	switch e.Actuation {
	case "", ClassDatapoint:
		if _, ok := datapoint.ParseType(e.Type.String()); !ok {
			return fmt.Errorf("%w: %v dp %d has unknown %v", ErrInvalidEntry, e.DeviceType, e.DatapointID, e.Type)
		}
	case ClassLevel, ClassOnOff:
	default:
		return fmt.Errorf("%w: %v dp %d has unknown actuation %q", ErrInvalidEntry, e.DeviceType, e.DatapointID, e.Actuation)
	}

	return nil
}
