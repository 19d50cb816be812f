package config

// Definition is the raw structure the configuration file unmarshals into
// before defaulting and validation produce a Config. Durations are strings
// ("500ms", "1h") parsed during build.
type Definition struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"logFormat"`
	Quiet     bool   `mapstructure:"quiet"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Scheduler struct {
		CaptureRetryInterval string `mapstructure:"captureRetryInterval"`
	} `mapstructure:"scheduler"`

	Groups []GroupDefinition `mapstructure:"groups"`
}

// GroupDefinition is the raw per-group configuration.
type GroupDefinition struct {
	Name              string `mapstructure:"name"`
	TickInterval      string `mapstructure:"tickInterval"`
	SnapshotRetention string `mapstructure:"snapshotRetention"`
	AbandonAfter      string `mapstructure:"abandonAfter"`
	HistoryKeep       *int   `mapstructure:"historyKeep"`
	SweepInterval     string `mapstructure:"sweepInterval"`
}
