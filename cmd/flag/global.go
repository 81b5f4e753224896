package flag

import (
	"github.com/peterbourgon/ff/v4/ffval"
)

type GlobalConfig struct {
	LogLevel string
}

func RegisterGlobal(fs *Set, gc *GlobalConfig) {
	fs.Register(LogLevelConfig, ffval.NewEnum(&gc.LogLevel, "info", "debug"))
}

var LogLevelConfig = Config{
	Name:  "log-level",
	Usage: "log level",
}
