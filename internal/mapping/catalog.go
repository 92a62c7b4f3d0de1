package mapping

import (
	"fmt"
	"os"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
	"github.com/supby/tuyazigbee/internal/datapoint"
	"gopkg.in/yaml.v2"
)

// Catalog is the declarative, versionable form of the registry tables as
// produced by curation tooling.
type Catalog struct {
	Version      int                  `yaml:"version"`
	DeviceTypes  []CatalogDeviceType  `yaml:"device_types"`
	Overrides    []CatalogOverride    `yaml:"overrides"`
	Fingerprints []CatalogFingerprint `yaml:"fingerprints"`
}

type CatalogDeviceType struct {
	Name           string             `yaml:"name"`
	Endpoint       uint8              `yaml:"endpoint"`
	ZoneCapability string             `yaml:"zone_capability"`
	Bind           []CatalogBinding   `yaml:"bind"`
	Datapoints     []CatalogDatapoint `yaml:"datapoints"`
}

type CatalogBinding struct {
	Cluster    uint16   `yaml:"cluster"`
	Attributes []uint16 `yaml:"attributes"`
}

type CatalogDatapoint struct {
	DP         uint8              `yaml:"dp"`
	Capability string             `yaml:"capability"`
	Type       string             `yaml:"type"`
	Direction  string             `yaml:"direction"`
	Actuation  string             `yaml:"actuation"`
	Calibrated bool               `yaml:"calibrated"`
	Transform  []CatalogTransform `yaml:"transform"`
}

type CatalogTransform struct {
	Kind    string   `yaml:"kind"`
	Divisor float64  `yaml:"divisor"`
	Min     float64  `yaml:"min"`
	Max     float64  `yaml:"max"`
	Values  []string `yaml:"values"`
	On      int64    `yaml:"on"`
	Off     int64    `yaml:"off"`
}

type CatalogOverride struct {
	Manufacturer string             `yaml:"manufacturer"`
	DeviceType   string             `yaml:"device_type"`
	Datapoints   []CatalogDatapoint `yaml:"datapoints"`
}

type CatalogFingerprint struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	DeviceType   string `yaml:"device_type"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(filename string) (Catalog, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrCatalog, err)
	}

	return ParseCatalog(buf)
}

func ParseCatalog(buf []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.UnmarshalStrict(buf, &c); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrCatalog, err)
	}

	return c, nil
}

// Apply adds the catalog's tables to a builder, resolving transforms by kind.
func (c Catalog) Apply(b *Builder) error {
	for _, dt := range c.DeviceTypes {
		if dt.Name == "" {
			return fmt.Errorf("%w: device type without a name", ErrCatalog)
		}

		b.AddDeviceType(DeviceType{
			Name:           dt.Name,
			Endpoint:       zigbee.Endpoint(dt.Endpoint),
			Bindings:       bindings(dt.Bind),
			ZoneCapability: dt.ZoneCapability,
		})

		for _, dp := range dt.Datapoints {
			e, err := dp.entry(dt.Name)
			if err != nil {
				return err
			}
			b.Add(e)
		}
	}

	for _, o := range c.Overrides {
		if o.Manufacturer == "" || o.DeviceType == "" {
			return fmt.Errorf("%w: override needs manufacturer and device_type", ErrCatalog)
		}

		for _, dp := range o.Datapoints {
			e, err := dp.entry(o.DeviceType)
			if err != nil {
				return err
			}
			b.AddOverride(o.Manufacturer, e)
		}
	}

	for _, fp := range c.Fingerprints {
		b.AddFingerprint(Fingerprint{
			Manufacturer: fp.Manufacturer,
			Model:        fp.Model,
			DeviceType:   fp.DeviceType,
		})
	}

	return nil
}

func bindings(in []CatalogBinding) []Binding {
	ret := make([]Binding, 0, len(in))
	for _, b := range in {
		attrs := make([]zcl.AttributeID, len(b.Attributes))
		for i, a := range b.Attributes {
			attrs[i] = zcl.AttributeID(a)
		}
		ret = append(ret, Binding{ClusterID: zigbee.ClusterID(b.Cluster), Attributes: attrs})
	}

	return ret
}

func (dp CatalogDatapoint) entry(deviceType string) (Entry, error) {
	direction := DirectionRead
	if dp.Direction != "" {
		d, ok := directionNames[dp.Direction]
		if !ok {
			return Entry{}, fmt.Errorf("%w: %v dp %d has direction %q", ErrCatalog, deviceType, dp.DP, dp.Direction)
		}
		direction = d
	}

	e := Entry{
		DeviceType:   deviceType,
		DatapointID:  dp.DP,
		CapabilityID: dp.Capability,
		Direction:    direction,
		Actuation:    Class(dp.Actuation),
		Calibrated:   dp.Calibrated,
	}

	if dp.Type != "" {
		t, ok := datapoint.ParseType(dp.Type)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %v dp %d has type %q", ErrCatalog, deviceType, dp.DP, dp.Type)
		}
		e.Type = t
	}

	transform, err := resolveTransform(dp.Transform)
	if err != nil {
		return Entry{}, fmt.Errorf("%v dp %d: %w", deviceType, dp.DP, err)
	}
	e.Transform = transform

	return e, nil
}

func resolveTransform(specs []CatalogTransform) (Transform, error) {
	chain := make(Chain, 0, len(specs))

	for _, s := range specs {
		switch s.Kind {
		case "identity":
			chain = append(chain, Identity{})
		case "scale":
			if s.Divisor == 0 {
				return nil, fmt.Errorf("%w: scale needs a non-zero divisor", ErrCatalog)
			}
			chain = append(chain, Scale{Divisor: s.Divisor})
		case "clamp":
			if s.Min > s.Max {
				return nil, fmt.Errorf("%w: clamp min %v above max %v", ErrCatalog, s.Min, s.Max)
			}
			chain = append(chain, Clamp{Min: s.Min, Max: s.Max})
		case "enum":
			if len(s.Values) == 0 {
				return nil, fmt.Errorf("%w: enum needs values", ErrCatalog)
			}
			chain = append(chain, EnumMap{Values: s.Values})
		case "invert":
			chain = append(chain, Invert{})
		case "bool_enum":
			chain = append(chain, BoolEnum{On: s.On, Off: s.Off})
		default:
			return nil, fmt.Errorf("%w: unknown transform %q", ErrCatalog, s.Kind)
		}
	}

	switch len(chain) {
	case 0:
		return Identity{}, nil
	case 1:
		return chain[0], nil
	}

	return chain, nil
}

// NewRegistry builds the registry from the built-in catalog with the given
// catalogs applied on top, in order.
func NewRegistry(extra ...Catalog) (*Registry, []Warning, error) {
	b := NewBuilder()

	for _, c := range append([]Catalog{Builtin()}, extra...) {
		if err := c.Apply(b); err != nil {
			return nil, nil, err
		}
	}

	return b.Build()
}
