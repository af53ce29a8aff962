// conf/flags.go binds command line flags to settings keys
package conf

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/glyphmap/tilesync/internal/errors"
)

const flagKeyAnnotation = "tilesync/config-key"

// SkipLoadAnnotation marks commands that run without loading settings.
const SkipLoadAnnotation = "tilesync/skip-settings-load"

// FlagKey ties flag name in fs to a settings key. Several commands may tie
// their own flags to the same key; BindFlags binds only the flags of the
// command being executed.
func FlagKey(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, flagKeyAnnotation, []string{key})
}

// BindFlags binds every annotated flag in fs to viper so that explicitly set
// flags take precedence over the environment and the config file.
func BindFlags(fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[flagKeyAnnotation]
		if bindErr != nil || len(keys) == 0 {
			return
		}
		if err := viper.BindPFlag(keys[0], f); err != nil {
			bindErr = errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("flag", f.Name).
				Build()
		}
	})
	return bindErr
}
