package configuration

type ZNetworkConfiguration struct {
	PANID         uint16   `yaml:"panid"`
	ExtendedPANID uint64   `yaml:"extendedpanid"`
	NetworkKey    [16]byte `yaml:"networkkey"`
	Channel       uint8    `yaml:"channel"`
}

type MqttConfiguration struct {
	Address   string `yaml:"address"`
	Port      uint16 `yaml:"port"`
	RootTopic string `yaml:"roottopic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type SerialConfiguration struct {
	PortName string `yaml:"portname"`
	BaudRate uint32 `yaml:"baudrate"`
}

type StorageConfiguration struct {
	Path string `yaml:"path"`
}

type CatalogConfiguration struct {
	// Path of a YAML catalog merged over the built-in one. Empty means built-in only.
	Path string `yaml:"path"`
}

type ActuationConfiguration struct {
	AttemptTimeoutMs uint32 `yaml:"attempttimeoutms"`
	SettleDelayMs    uint32 `yaml:"settledelayms"`
}

type EnrollmentConfiguration struct {
	ZoneID         uint8  `yaml:"zoneid"`
	Tier1TimeoutMs uint32 `yaml:"tier1timeoutms"`
	Tier2TimeoutMs uint32 `yaml:"tier2timeoutms"`
	Tier3TimeoutMs uint32 `yaml:"tier3timeoutms"`
	PollIntervalMs uint32 `yaml:"pollintervalms"`
}

type InfluxDBConfiguration struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type JournalConfiguration struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Configuration struct {
	ZNetworkConfiguration ZNetworkConfiguration   `yaml:"network"`
	MqttConfiguration     MqttConfiguration       `yaml:"mqtt"`
	SerialConfiguration   SerialConfiguration     `yaml:"serial"`
	Storage               StorageConfiguration    `yaml:"storage"`
	Catalog               CatalogConfiguration    `yaml:"catalog"`
	Actuation             ActuationConfiguration  `yaml:"actuation"`
	Enrollment            EnrollmentConfiguration `yaml:"enrollment"`
	InfluxDB              InfluxDBConfiguration   `yaml:"influxdb"`
	Journal               JournalConfiguration    `yaml:"journal"`
	PermitJoin            bool                    `yaml:"permitjoin"`
	LogLevel              int                     `yaml:"loglevel"` // info=0, warn=1, error=2, debug=3
}
