package configuration

type Configuration struct {
	HttpAddr string `usage:"HTTP address"`
	Path     string `usage:"data file"`
	Engine   string `usage:"storage engine: pack or sqlite"`

	AutoFlush   bool `usage:"rewrite the pack footer after every write"`
	Compression bool `usage:"store pack documents snappy compressed"`
	CacheSize   int  `usage:"select cache size in entries, 0 disables the cache"`

	IndexFields string `usage:"fields to index per table, JSON, e.g. {\"users\":[\"email\"]}"`
	Defaults    string `usage:"default values per table, JSON, e.g. {\"users\":{\"id\":\"uuid()\"}}"`

	MigrationsDir string `usage:"directory with migration files, empty disables migrations"`
	SeedFile      string `usage:"file with initial rows per table, empty disables seeding"`

	LogLevel  string `usage:"log level: debug, info, warn or error"`
	LogFormat string `usage:"log format: pretty, text or json"`

	EnableCompression bool `usage:"compress HTTP responses with gzip"`

	Version    bool `usage:"show version and exit"`
	ShowBanner bool `usage:"show big banner"`
	ShowConfig bool `usage:"print config"`
}

func Default() Configuration {
	return Configuration{
		HttpAddr:  ":8080",
		Path:      "data.zpack",
		Engine:    "pack",
		AutoFlush: true,
		LogLevel:  "info",
		LogFormat: "pretty",
	}
}
