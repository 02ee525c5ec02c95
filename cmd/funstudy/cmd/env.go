package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const envAnnotation = "funstudy_env"

// bindEnv lets the named flag default from the first non-empty variable in
// keys. The variable names are appended to the flag's usage text.
func bindEnv(fs *pflag.FlagSet, name string, keys ...string) {
	f := fs.Lookup(name)
	if f == nil {
		panic("bindEnv: unknown flag " + name)
	}
	if err := fs.SetAnnotation(name, envAnnotation, keys); err != nil {
		panic(err)
	}
	f.Usage += " [$" + strings.Join(keys, ", $") + "]"
}

// applyEnv sets every bound flag that was not given on the command line from
// its environment variables. Flags win over the environment.
func applyEnv(fs *pflag.FlagSet) error {
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed {
			return
		}
		for _, key := range f.Annotations[envAnnotation] {
			v, ok := os.LookupEnv(key)
			if !ok || v == "" {
				continue
			}
			if err := fs.Set(f.Name, v); err != nil {
				firstErr = fmt.Errorf("invalid value for $%s: %w", key, err)
			}
			return
		}
	})
	return firstErr
}
