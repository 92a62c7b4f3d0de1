package mapping

const (
	clusterPowerConfiguration = 0x0001
	clusterOnOff              = 0x0006
	clusterLevelControl       = 0x0008
	clusterIASZone            = 0x0500
	clusterTuya               = 0xef00

	attrBatteryPercentage = 0x0021
	attrOnOff             = 0x0000
	attrCurrentLevel      = 0x0000
	attrZoneStatus        = 0x0002
)

func battery(dp uint8) CatalogDatapoint {
	return CatalogDatapoint{
		DP:         dp,
		Capability: "measure_battery",
		Type:       "value",
		Direction:  "read",
		Transform:  []CatalogTransform{{Kind: "clamp", Min: 0, Max: 100}},
	}
}

// Builtin is the catalog shipped with the bridge. Catalog files loaded at
// start-up are applied on top of it.
func Builtin() Catalog {
	return Catalog{
		Version: 1,
		DeviceTypes: []CatalogDeviceType{
			{
				Name:           "motion_sensor",
				ZoneCapability: "alarm_motion",
				Bind: []CatalogBinding{
					{Cluster: clusterIASZone, Attributes: []uint16{attrZoneStatus}},
					{Cluster: clusterPowerConfiguration, Attributes: []uint16{attrBatteryPercentage}},
					{Cluster: clusterTuya},
				},
				Datapoints: []CatalogDatapoint{
					{
						DP: 1, Capability: "alarm_motion", Type: "enum", Direction: "read",
						Transform: []CatalogTransform{{Kind: "bool_enum", On: 0, Off: 1}},
					},
					battery(4),
					{
						DP: 9, Capability: "sensitivity", Type: "enum", Direction: "both",
						Transform: []CatalogTransform{{Kind: "enum", Values: []string{"low", "medium", "high"}}},
					},
				},
			},
			{
				Name: "contact_sensor",
				Bind: []CatalogBinding{{Cluster: clusterTuya}},
				Datapoints: []CatalogDatapoint{
					{DP: 1, Capability: "alarm_contact", Type: "bool", Direction: "read"},
					battery(2),
				},
			},
			{
				Name: "smoke_sensor",
				Bind: []CatalogBinding{{Cluster: clusterTuya}},
				Datapoints: []CatalogDatapoint{
					{
						DP: 1, Capability: "alarm_smoke", Type: "enum", Direction: "read",
						Transform: []CatalogTransform{{Kind: "bool_enum", On: 0, Off: 1}},
					},
					{
						DP: 14, Capability: "alarm_battery", Type: "enum", Direction: "read",
						Transform: []CatalogTransform{{Kind: "bool_enum", On: 0, Off: 2}},
					},
					battery(15),
				},
			},
			{
				Name: "dimmer",
				Bind: []CatalogBinding{{Cluster: clusterTuya}},
				Datapoints: []CatalogDatapoint{
					{DP: 1, Capability: "onoff", Type: "bool", Direction: "both"},
					{
						DP: 2, Capability: "dim", Type: "value", Direction: "both",
						Transform: []CatalogTransform{
							{Kind: "scale", Divisor: 1000},
							{Kind: "clamp", Min: 0, Max: 1},
						},
					},
					{
						DP: 3, Capability: "dim_min", Type: "value", Direction: "both",
						Transform: []CatalogTransform{
							{Kind: "scale", Divisor: 1000},
							{Kind: "clamp", Min: 0, Max: 1},
						},
					},
				},
			},
			{
				Name: "level_dimmer",
				Bind: []CatalogBinding{
					{Cluster: clusterOnOff, Attributes: []uint16{attrOnOff}},
					{Cluster: clusterLevelControl, Attributes: []uint16{attrCurrentLevel}},
				},
				Datapoints: []CatalogDatapoint{
					{DP: 1, Capability: "onoff", Direction: "both", Actuation: string(ClassOnOff)},
					{
						DP: 2, Capability: "dim", Direction: "both", Actuation: string(ClassLevel),
						Transform: []CatalogTransform{
							{Kind: "scale", Divisor: 254},
							{Kind: "clamp", Min: 0, Max: 1},
						},
					},
				},
			},
			{
				Name: "thermometer",
				Bind: []CatalogBinding{{Cluster: clusterTuya}},
				Datapoints: []CatalogDatapoint{
					{
						DP: 1, Capability: "measure_temperature", Type: "value", Direction: "read", Calibrated: true,
						Transform: []CatalogTransform{{Kind: "scale", Divisor: 10}},
					},
					{DP: 2, Capability: "measure_humidity", Type: "value", Direction: "read", Calibrated: true},
					battery(4),
				},
			},
			{
				Name: "switch",
				Bind: []CatalogBinding{{Cluster: clusterTuya}},
				Datapoints: []CatalogDatapoint{
					{DP: 1, Capability: "onoff", Type: "bool", Direction: "both"},
				},
			},
		},
		Overrides: []CatalogOverride{
			{
				// Reports brightness on a 0..255 scale.
				Manufacturer: "_TZE200_3p5ydos3",
				DeviceType:   "dimmer",
				Datapoints: []CatalogDatapoint{
					{
						DP: 2, Capability: "dim", Type: "value", Direction: "both",
						Transform: []CatalogTransform{
							{Kind: "scale", Divisor: 255},
							{Kind: "clamp", Min: 0, Max: 1},
						},
					},
				},
			},
		},
		Fingerprints: []CatalogFingerprint{
			{Manufacturer: "_TZE200_bh3n6gk8", Model: "TS0601", DeviceType: "motion_sensor"},
			{Model: "TS0202", DeviceType: "motion_sensor"},
			{Manufacturer: "_TZE200_pay2byax", Model: "TS0601", DeviceType: "contact_sensor"},
			{Manufacturer: "_TZE200_ntcy3xu1", Model: "TS0601", DeviceType: "smoke_sensor"},
			{Manufacturer: "_TZE200_9i9dt8is", Model: "TS0601", DeviceType: "dimmer"},
			{Manufacturer: "_TZE200_3p5ydos3", Model: "TS0601", DeviceType: "dimmer"},
			{Model: "TS110F", DeviceType: "level_dimmer"},
			{Manufacturer: "_TZE200_bjawzodf", Model: "TS0601", DeviceType: "thermometer"},
			{Manufacturer: "_TZE200_amp6tsvy", Model: "TS0601", DeviceType: "switch"},
		},
	}
}
