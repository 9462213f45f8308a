package browser

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/liuxd6825/tabpilot/log"
)

// mapConsole maps console.* to the logger under the "console" category.
func mapConsole(logger *log.Logger) mapping {
	format := func(args []goja.Value) string {
		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, stringValue(a))
		}
		return strings.Join(parts, " ")
	}
	return mapping{
		"log": func(args ...goja.Value) {
			logger.Infof("console", "%s", format(args))
		},
		"info": func(args ...goja.Value) {
			logger.Infof("console", "%s", format(args))
		},
		"debug": func(args ...goja.Value) {
			logger.Debugf("console", "%s", format(args))
		},
		"warn": func(args ...goja.Value) {
			logger.Warnf("console", "%s", format(args))
		},
		"error": func(args ...goja.Value) {
			logger.Errorf("console", "%s", format(args))
		},
	}
}
