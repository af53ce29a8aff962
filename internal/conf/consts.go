// conf/consts.go hard coded constants
package conf

const (
	EnvPrefix = "TILESYNC" // prefix of automatically bound environment variables

	DefaultZoom  = 17
	MaxZoom      = 22
	ConfigFile   = "config.yaml"
	SessionFile  = "session.json"
	maskedValue  = "********"
	appDirectory = "tilesync"
)
